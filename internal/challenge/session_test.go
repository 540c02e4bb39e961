package challenge

import (
	"context"
	"testing"

	"git.vmwall.dev/vmwall/internal/kv"
)

func TestNewSessionHasDistinctKeyMaterial(t *testing.T) {
	a, err := NewSession()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSession()
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("two sessions got the same id")
	}
	if len(a.PublicKey) != 32 {
		t.Fatalf("got %d-byte public key, want 32", len(a.PublicKey))
	}
}

func TestPersistAndLoadSessionRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMem()
	s, err := NewSession()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(ctx, store); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSession(ctx, store, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(loaded.PrivateKey) != string(s.PrivateKey) {
		t.Fatal("loaded session has a different private key")
	}
	if string(loaded.PublicKey) != string(s.PublicKey) {
		t.Fatal("loaded session has a different public key")
	}

	signingKey, err := SigningKeyFor(ctx, store, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(signingKey) != string(s.SigningKey) {
		t.Fatal("fp:sign signing key does not match the session's")
	}
}

func TestLoadSessionMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMem()
	_, err := LoadSession(ctx, store, "does-not-exist")
	if !kv.IsNotFound(err) {
		t.Fatalf("got %v, want a not-found error", err)
	}
}
