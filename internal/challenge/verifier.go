package challenge

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"git.vmwall.dev/vmwall/internal/kv"
	"git.vmwall.dev/vmwall/internal/vmerr"
)

// Verifier checks a client's submitted answer against the expected value
// the Builder computed for the same challenge id.
type Verifier struct {
	Store  kv.Store
	Secret []byte
}

// VerifyRequest is the decrypted body of POST /challenge/verify.
type VerifyRequest struct {
	Token  string `json:"token"`
	Solved int64  `json:"solved"`
}

// Verify parses and checks the JWT, atomically fetches and deletes the
// expected value for the embedded challenge id, and compares it against
// the submitted solved value. A second call with the same token always
// fails with ChallengeNotFoundOrUsed, since the KV entry is gone after the
// first successful fetch.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) error {
	solved, err := normalizeSolved(req.Solved)
	if err != nil {
		return err
	}

	challengeID, err := v.parseToken(req.Token)
	if err != nil {
		return err
	}

	raw, err := v.Store.GetAndDelete(ctx, "challenge:"+challengeID)
	if err != nil {
		if kv.IsNotFound(err) {
			return vmerr.New(vmerr.KindChallengeNotFoundOrUsed, "challenge not found or already used")
		}
		return vmerr.Internal(fmt.Errorf("challenge: fetching expected value: %w", err))
	}
	if len(raw) != 4 {
		return vmerr.Internal(fmt.Errorf("challenge: malformed expected-value record (%d bytes)", len(raw)))
	}
	expected := binary.LittleEndian.Uint32(raw)

	solvedBytes := binary.LittleEndian.AppendUint32(nil, solved)
	expectedBytes := binary.LittleEndian.AppendUint32(nil, expected)
	if subtle.ConstantTimeCompare(solvedBytes, expectedBytes) != 1 {
		return vmerr.New(vmerr.KindWrongAnswer, "")
	}
	return nil
}

func (v *Verifier) parseToken(token string) (string, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return "", vmerr.Wrap(vmerr.KindTokenInvalid, err)
	}
	var c claims
	if err := parsed.Claims(v.Secret, &c); err != nil {
		return "", vmerr.Wrap(vmerr.KindTokenInvalid, err)
	}
	if c.Expiry != nil && c.Expiry.Time().Before(time.Now()) {
		return "", vmerr.New(vmerr.KindTokenExpired, "token expired")
	}
	return c.ChallengeID, nil
}

// normalizeSolved implements the "solved outside [-2^31, 2^32-1] is
// rejected at parse time; values in [-2^31,-1] are reinterpreted as u32 by
// zero-extension (bitcast)" boundary rule.
func normalizeSolved(v int64) (uint32, error) {
	if v < -(1 << 31) || v > int64(^uint32(0)) {
		return 0, vmerr.New(vmerr.KindInvalidEnvelope, "solved value out of range")
	}
	return uint32(v), nil
}
