// Package challenge implements the per-request challenge protocol: session
// creation, challenge construction, client answer verification, and the
// encryption envelopes the session key exchange and fingerprint submission
// ride on.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/curve25519"

	"git.vmwall.dev/vmwall/internal/kv"
)

// sessionTTL is how long a session's key material and the matching
// fp:sign:{id} HMAC key remain valid (spec's session/fp:sign KV entries).
const sessionTTL = 300 * time.Second

// Session is the per-/challenge-request key material: an X25519 keypair
// used to decrypt the client's forward-secret request envelope, and an
// HMAC signing key used to verify fingerprint submissions. Both live only
// in the KV store, keyed by Session.ID, for sessionTTL.
type Session struct {
	ID         string `json:"-"`
	PrivateKey []byte `json:"privateKey"`
	PublicKey  []byte `json:"-"`
	SigningKey []byte `json:"signingKey"`
}

// NewSession generates a fresh X25519 keypair and HMAC signing key and
// assigns a random 32-hex-character id, matching the id format the session
// encryption envelope's HKDF derivation expects.
func NewSession() (*Session, error) {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("challenge: generating session id: %w", err)
	}

	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("challenge: generating session private key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("challenge: deriving session public key: %w", err)
	}

	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		return nil, fmt.Errorf("challenge: generating signing key: %w", err)
	}

	return &Session{
		ID:         hex.EncodeToString(id),
		PrivateKey: priv,
		PublicKey:  pub,
		SigningKey: signingKey,
	}, nil
}

func sessionKVKey(id string) string  { return "session:" + id }
func fpSignKVKey(id string) string   { return "fp:sign:" + id }

// Persist stores the session's private key and signing key under
// session:{id}, and the signing key alone under fp:sign:{id} (the
// fingerprint envelope looks it up by token, which is the session id),
// both with sessionTTL.
func (s *Session) Persist(ctx context.Context, store kv.Store) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("challenge: marshaling session: %w", err)
	}
	if err := store.Set(ctx, sessionKVKey(s.ID), data, sessionTTL); err != nil {
		return fmt.Errorf("challenge: persisting session: %w", err)
	}
	if err := store.Set(ctx, fpSignKVKey(s.ID), s.SigningKey, sessionTTL); err != nil {
		return fmt.Errorf("challenge: persisting fingerprint signing key: %w", err)
	}
	return nil
}

// LoadSession fetches a previously persisted session by id. Returns
// kv.IsNotFound-satisfying error if the session has expired or never
// existed.
func LoadSession(ctx context.Context, store kv.Store, id string) (*Session, error) {
	data, err := store.Get(ctx, sessionKVKey(id))
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("challenge: unmarshaling session: %w", err)
	}
	s.ID = id
	pub, err := curve25519.X25519(s.PrivateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("challenge: deriving session public key: %w", err)
	}
	s.PublicKey = pub
	return &s, nil
}

// SigningKeyFor fetches the HMAC signing key persisted for id under
// fp:sign:{id}, used to verify a fingerprint envelope's signature.
func SigningKeyFor(ctx context.Context, store kv.Store, id string) ([]byte, error) {
	return store.Get(ctx, fpSignKVKey(id))
}
