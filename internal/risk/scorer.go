package risk

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"git.vmwall.dev/vmwall/internal/kv"
)

// Weight table for the header/ASN scorer. Treated as tunable reference
// values, not a fitted model.
const (
	weightBotUA          = 0.35
	weightMissingBrowser = 0.05
	weightOriginMissing  = 0.08
	weightRefererMissing = 0.03
	weightHeadlessCHUA   = 0.20
	weightLongViaChain   = 0.05
	asnScale             = 0.2
	asnCap               = 0.2
	asnDynamicIncrement  = 0.05
	blockThreshold       = 0.45
	viaChainThreshold    = 3
	blockedIPsForASNBump = 5
)

// botUAPattern is evaluated through a compiled CEL program rather than a
// bare regexp.MatchString call (legitimateBrowserRE is a plain compiled
// regexp), following the
// teacher's condition package's habit of keeping request-shaped predicates
// as CEL expressions even when the predicate itself is simple — it keeps
// the scorer's signal set declarative and swappable without a recompile of
// Go code.
var (
	botUAPattern          = `(?i)bot|crawl|spider|headless|curl|wget|python-requests|scrapy`
	legitimateBrowserRE   = regexp.MustCompile(`(?i)mozilla|chrome|safari|firefox|edge`)
)

// Scorer evaluates the weighted header/ASN heuristic described in spec's
// request-risk gate: a bounded-to-1.0 sum of independent signals.
type Scorer struct {
	Store    kv.Store
	ASNTable *ASNTable

	botUAProgram cel.Program
}

// NewScorer compiles the CEL predicates the scorer needs once, at
// construction, so Score never pays compilation cost per request.
func NewScorer(store kv.Store, asnTable *ASNTable) (*Scorer, error) {
	env, err := cel.NewEnv(cel.Variable("ua", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("risk: building cel environment: %w", err)
	}
	ast, issues := env.Compile(fmt.Sprintf(`ua.matches("%s")`, botUAPattern))
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("risk: compiling bot-ua predicate: %w", issues.Err())
	}
	prg, err := env.Program(ast, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return nil, fmt.Errorf("risk: building bot-ua program: %w", err)
	}
	return &Scorer{Store: store, ASNTable: asnTable, botUAProgram: prg}, nil
}

// Score computes the weighted sum for r, returning the bounded score and
// the list of human-readable reasons that contributed to it (populated
// only when the score reaches the blocking threshold, matching
// RiskBlocked's reasons[] payload).
func (s *Scorer) Score(ctx context.Context, r *http.Request, remoteIP net.IP) (float64, []string, error) {
	var score float64
	var reasons []string

	ua := r.UserAgent()
	isBot, err := s.matchesBotUA(ua)
	if err != nil {
		return 0, nil, fmt.Errorf("risk: evaluating bot-ua predicate: %w", err)
	}
	switch {
	case isBot:
		score += weightBotUA
		reasons = append(reasons, "bot-like user agent")
	case ua == "" || !legitimateBrowserRE.MatchString(ua):
		score += weightMissingBrowser
		reasons = append(reasons, "no recognizable browser token")
	}

	if origin := r.Header.Get("Origin"); origin == "" || !validURL(origin) {
		score += weightOriginMissing
		reasons = append(reasons, "origin missing or unparseable")
	}

	if r.Header.Get("Referer") == "" {
		score += weightRefererMissing
	}

	if strings.Contains(strings.ToLower(r.Header.Get("Sec-CH-UA")), "headless") {
		score += weightHeadlessCHUA
		reasons = append(reasons, "headless client hint")
	}

	if viaLen := len(strings.Split(r.Header.Get("Via"), ",")); r.Header.Get("Via") != "" && viaLen >= viaChainThreshold {
		score += weightLongViaChain
		reasons = append(reasons, "long via proxy chain")
	}

	if s.ASNTable != nil && remoteIP != nil {
		if entry, ok, err := s.ASNTable.Lookup(remoteIP); err == nil && ok {
			asnScore := entry.BaseScore * asnScale
			if asnScore > asnCap {
				asnScore = asnCap
			}
			dynamic, err := s.dynamicASNIncrement(ctx, entry.ASN)
			if err == nil {
				asnScore += dynamic
			}
			score += asnScore
			if asnScore > 0 {
				reasons = append(reasons, "elevated asn risk")
			}
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < blockThreshold {
		reasons = nil
	}
	return score, reasons, nil
}

func (s *Scorer) matchesBotUA(ua string) (bool, error) {
	out, _, err := s.botUAProgram.Eval(map[string]any{"ua": ua})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("risk: bot-ua predicate returned a non-bool value")
	}
	return b, nil
}

// dynamicASNIncrement adds asnDynamicIncrement once risk:asn:{asn}'s
// blockedCount reaches blockedIPsForASNBump, per spec's "dynamic-per-ASN
// increment once >= 5 blocked IPs attributed to that ASN".
func (s *Scorer) dynamicASNIncrement(ctx context.Context, asn string) (float64, error) {
	if asn == "" {
		return 0, nil
	}
	raw, err := s.Store.Get(ctx, "risk:asn:"+asn)
	if err != nil {
		if kv.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	blockedCount, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, err
	}
	if blockedCount >= blockedIPsForASNBump {
		return asnDynamicIncrement, nil
	}
	return 0, nil
}

// RecordBlockedIP increments risk:asn:{asn}'s blocked-IP counter when a
// request from ip is blocked for any reason, feeding the dynamic-per-ASN
// scoring increment. TTL matches spec's 7-day risk:asn:{asn} entry.
func (s *Scorer) RecordBlockedIP(ctx context.Context, remoteIP net.IP) error {
	if s.ASNTable == nil || remoteIP == nil {
		return nil
	}
	entry, ok, err := s.ASNTable.Lookup(remoteIP)
	if err != nil || !ok || entry.ASN == "" {
		return err
	}
	_, err = s.Store.Incr(ctx, "risk:asn:"+entry.ASN, 1, blockedASNTTL)
	return err
}

func validURL(raw string) bool {
	_, err := url.Parse(raw)
	return err == nil
}

const blockedASNTTL = 7 * 24 * time.Hour
