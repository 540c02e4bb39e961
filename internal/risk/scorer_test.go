package risk

import (
	"context"
	"net"
	"net/http"
	"testing"

	"github.com/yl2chen/cidranger"

	"git.vmwall.dev/vmwall/internal/kv"
)

func newTestScorer(t *testing.T, asnTable *ASNTable) *Scorer {
	t.Helper()
	s, err := NewScorer(kv.NewMem(), asnTable)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return s
}

func TestScorerBotUAScoresHigh(t *testing.T) {
	s := newTestScorer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, "https://example.test/challenge", nil)
	req.Header.Set("User-Agent", "python-requests/2.31")
	req.Header.Set("Origin", "https://example.test")
	req.Header.Set("Referer", "https://example.test/")

	score, reasons, err := s.Score(context.Background(), req, net.ParseIP("203.0.113.5"))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score < weightBotUA {
		t.Fatalf("got score %f, want at least weightBotUA (%f)", score, weightBotUA)
	}
	if score < blockThreshold && reasons != nil {
		t.Fatalf("reasons should be empty below threshold, got %v", reasons)
	}
}

func TestScorerLegitimateBrowserScoresLow(t *testing.T) {
	s := newTestScorer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, "https://example.test/challenge", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36")
	req.Header.Set("Origin", "https://example.test")
	req.Header.Set("Referer", "https://example.test/")

	score, reasons, err := s.Score(context.Background(), req, net.ParseIP("203.0.113.5"))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score >= blockThreshold {
		t.Fatalf("got score %f, want below blockThreshold (%f)", score, blockThreshold)
	}
	if reasons != nil {
		t.Fatalf("reasons should be nil below threshold, got %v", reasons)
	}
}

func TestScorerMissingOriginAndHeadlessHintAccumulate(t *testing.T) {
	s := newTestScorer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, "https://example.test/challenge", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Chrome/120.0")
	req.Header.Set("Sec-CH-UA", `"HeadlessChrome";v="120"`)

	score, _, err := s.Score(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := weightOriginMissing + weightRefererMissing + weightHeadlessCHUA
	if score < want-1e-9 {
		t.Fatalf("got score %f, want at least %f from accumulated signals", score, want)
	}
}

func TestScorerClampsToOne(t *testing.T) {
	s := newTestScorer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, "https://example.test/challenge", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	req.Header.Set("Sec-CH-UA", `"HeadlessChrome";v="120"`)
	req.Header.Set("Via", "1.0 a, 1.0 b, 1.0 c, 1.0 d")

	score, _, err := s.Score(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score > 1.0 {
		t.Fatalf("got score %f, want clamped to <= 1.0", score)
	}
}

func TestScorerDynamicASNIncrementAppliesAfterThreshold(t *testing.T) {
	store := kv.NewMem()
	_, cidr, _ := net.ParseCIDR("203.0.113.0/24")
	table := mustTableWithEntry(t, ASNEntry{Network: *cidr, ASN: "AS64500", BaseScore: 0.1})

	s, err := NewScorer(store, table)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	ctx := context.Background()
	req, _ := http.NewRequest(http.MethodGet, "https://example.test/challenge", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Chrome/120.0")
	req.Header.Set("Origin", "https://example.test")
	req.Header.Set("Referer", "https://example.test/")
	ip := net.ParseIP("203.0.113.5")

	before, _, err := s.Score(ctx, req, ip)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	for i := 0; i < blockedIPsForASNBump; i++ {
		if err := s.RecordBlockedIP(ctx, ip); err != nil {
			t.Fatalf("RecordBlockedIP: %v", err)
		}
	}

	after, _, err := s.Score(ctx, req, ip)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if after <= before {
		t.Fatalf("got after=%f before=%f, want after > before once the ASN bump threshold is reached", after, before)
	}
}

func mustTableWithEntry(t *testing.T, entry ASNEntry) *ASNTable {
	t.Helper()
	ranger := cidranger.NewPCTrieRanger()
	if err := ranger.Insert(asnRangerEntry{entry: entry}); err != nil {
		t.Fatalf("inserting asn table entry: %v", err)
	}
	return &ASNTable{ranger: ranger}
}
