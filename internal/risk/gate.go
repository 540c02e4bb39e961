package risk

import (
	"context"
	"net"
	"net/http"
	"time"

	"git.vmwall.dev/vmwall/internal/vmerr"
)

// Gate composes the rate limiter and scorer into the single check every
// protected route runs before any challenge-protocol work, matching
// spec's "two stages, both before any protected route work".
type Gate struct {
	Limiter *RateLimiter
	Scorer  *Scorer
}

// Check runs the rate limiter first, then the header/ASN scorer, returning
// a *vmerr.Error on either a RateLimited or RiskBlocked verdict. A blocked
// IP's ASN is recorded for the dynamic per-ASN score bump.
func (g *Gate) Check(ctx context.Context, r *http.Request, remoteIP net.IP) error {
	escalated, err := g.Limiter.Check(ctx, remoteIP.String(), time.Now())
	if err != nil {
		if escalated {
			_ = g.Scorer.RecordBlockedIP(ctx, remoteIP)
		}
		return err
	}

	score, reasons, err := g.Scorer.Score(ctx, r, remoteIP)
	if err != nil {
		return vmerr.Internal(err)
	}
	if score >= blockThreshold {
		_ = g.Scorer.RecordBlockedIP(ctx, remoteIP)
		return vmerr.Blocked(vmerr.KindRiskBlocked, reasons)
	}
	return nil
}
