package risk

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"git.vmwall.dev/vmwall/internal/kv"
	"git.vmwall.dev/vmwall/internal/vmerr"
)

// tier is one row of the tiered limit table, indexed by the IP's BlockCount
// (the number of blocks it has incurred, capped to len(tiers)-1). The
// number of violations in the current window does not select the tier.
type tier struct {
	limit     int
	jitter    int
	windowMs  int64
}

// tiers is the three-tier, block-count-indexed token-bucket-ish table:
// looser limits for an IP that has never been blocked, progressively
// tighter ones after each block it incurs.
var tiers = [3]tier{
	{limit: 60, jitter: 5, windowMs: 10_000},
	{limit: 30, jitter: 3, windowMs: 10_000},
	{limit: 15, jitter: 2, windowMs: 10_000},
}

const (
	violationWindow     = 2 * time.Minute
	violationsToBlock   = 6
	baseBlockSeconds    = 8
	blockStepSeconds    = 3
	blockJitterSeconds  = 2
	maxBlockSeconds     = 25
)

// rlState is the persisted per-IP rate-limit bookkeeping (risk:rl:{ip}).
type rlState struct {
	Violations    []int64 `json:"violations"` // unix seconds of each violation, trimmed to violationWindow
	BlockCount    int     `json:"blockCount"`
	BlockUntil    int64   `json:"blockUntil"` // unix seconds, 0 if not blocked
}

// RateLimiter implements spec's two-stage tiered limiter: a counter per
// (ip, tier, bucket) in the KV store, and an escalating block once a
// violation count threshold is crossed within a rolling window.
type RateLimiter struct {
	Store kv.Store
}

// Check increments the request counter for ip's current tier/bucket and
// returns a RateLimited error if the request is blocked (either already
// under an active block, or this request is the one that trips it).
// escalated reports whether this call is the one that newly set
// state.BlockUntil, as opposed to a request arriving while already
// blocked; callers use it to attribute a blocked-IP event exactly once
// per escalation rather than once per retried request.
func (rl *RateLimiter) Check(ctx context.Context, ip string, now time.Time) (escalated bool, err error) {
	state, err := rl.loadState(ctx, ip)
	if err != nil {
		return false, vmerr.Internal(fmt.Errorf("risk: loading rate-limit state: %w", err))
	}

	if state.BlockUntil > now.Unix() {
		return false, vmerr.RateLimited(int(state.BlockUntil - now.Unix()))
	}

	tierIdx := state.BlockCount
	if tierIdx >= len(tiers) {
		tierIdx = len(tiers) - 1
	}
	t := tiers[tierIdx]

	bucket := now.UnixMilli() / t.windowMs
	counterKey := fmt.Sprintf("risk:req:%s:%d:%d", ip, tierIdx, bucket)
	count, err := rl.Store.Incr(ctx, counterKey, 1, time.Duration(t.windowMs)*time.Millisecond+10*time.Second)
	if err != nil {
		return false, vmerr.Internal(fmt.Errorf("risk: incrementing request counter: %w", err))
	}

	jitter, err := randIntJitter(t.jitter)
	if err != nil {
		return false, vmerr.Internal(err)
	}
	effectiveLimit := t.limit + jitter

	if int(count) <= effectiveLimit {
		return false, nil
	}

	// Violation: record it, prune the window, and escalate to a block if
	// six violations have landed within violationWindow.
	state.Violations = append(pruneViolations(state.Violations, now), now.Unix())
	if len(state.Violations) >= violationsToBlock {
		state.BlockCount++
		blockJitter, err := randIntJitter(blockJitterSeconds)
		if err != nil {
			return false, vmerr.Internal(err)
		}
		duration := baseBlockSeconds + blockStepSeconds*(state.BlockCount-1) + blockJitter
		if duration > maxBlockSeconds {
			duration = maxBlockSeconds
		}
		if duration < 1 {
			duration = 1
		}
		state.BlockUntil = now.Add(time.Duration(duration) * time.Second).Unix()
		state.Violations = nil
	}

	if err := rl.saveState(ctx, ip, state); err != nil {
		return false, vmerr.Internal(fmt.Errorf("risk: saving rate-limit state: %w", err))
	}

	if state.BlockUntil > now.Unix() {
		return true, vmerr.RateLimited(int(state.BlockUntil - now.Unix()))
	}
	return false, nil
}

func pruneViolations(violations []int64, now time.Time) []int64 {
	cutoff := now.Add(-violationWindow).Unix()
	out := violations[:0]
	for _, v := range violations {
		if v >= cutoff {
			out = append(out, v)
		}
	}
	return out
}

func (rl *RateLimiter) loadState(ctx context.Context, ip string) (*rlState, error) {
	raw, err := rl.Store.Get(ctx, "risk:rl:"+ip)
	if err != nil {
		if kv.IsNotFound(err) {
			return &rlState{}, nil
		}
		return nil, err
	}
	var s rlState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (rl *RateLimiter) saveState(ctx context.Context, ip string, s *rlState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := violationWindow
	if until := time.Unix(s.BlockUntil, 0); s.BlockUntil > 0 {
		if remaining := until.Sub(time.Now()); remaining > ttl {
			ttl = remaining
		}
	}
	return rl.Store.Set(ctx, "risk:rl:"+ip, data, ttl)
}

// randIntJitter draws a uniform integer in [-n, n] from crypto/rand.
func randIntJitter(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	span := big.NewInt(int64(2*n + 1))
	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return int(v.Int64()) - n, nil
}
