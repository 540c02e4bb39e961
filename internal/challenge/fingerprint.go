package challenge

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"git.vmwall.dev/vmwall/internal/vmerr"
)

const (
	fingerprintMaxAge    = 5 * time.Minute
	fingerprintMaxFuture = 60 * time.Second
)

// FingerprintEnvelope is the client-submitted device fingerprint payload:
// an opaque score/reason payload, a timestamp, and an HMAC signature over
// both under the session's signing key.
type FingerprintEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
	Token     string          `json:"token"`
}

// VerifyFingerprint checks the envelope's signature against the signing
// key fetched for its token (the session id), and its timestamp bounds.
// signingKey is looked up by the caller via SigningKeyFor before calling
// this, keeping the KV round-trip out of the pure verification logic.
func VerifyFingerprint(env *FingerprintEnvelope, signingKey []byte, now time.Time) error {
	issued := time.Unix(env.Timestamp, 0)
	if now.Sub(issued) > fingerprintMaxAge {
		return vmerr.New(vmerr.KindInvalidFingerprint, "fingerprint timestamp too old")
	}
	if issued.Sub(now) > fingerprintMaxFuture {
		return vmerr.New(vmerr.KindInvalidFingerprint, "fingerprint timestamp in the future")
	}

	want := signFingerprint(signingKey, env.Payload, env.Timestamp)
	got, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return vmerr.Wrap(vmerr.KindFingerprintSignatureMismatch, err)
	}
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return vmerr.New(vmerr.KindFingerprintSignatureMismatch, "fingerprint signature mismatch")
	}
	return nil
}

// signFingerprint computes HMAC-SHA256(signingKey, JSON(payload) "|"
// String(timestamp)), matching the envelope's documented signature input.
func signFingerprint(signingKey []byte, payload json.RawMessage, timestamp int64) []byte {
	mac := hmac.New(sha256.New, signingKey)
	mac.Write(payload)
	mac.Write([]byte("|"))
	mac.Write([]byte(fmt.Sprintf("%d", timestamp)))
	return mac.Sum(nil)
}
