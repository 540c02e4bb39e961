package server

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSettingsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadSettingsFromFile(t *testing.T) {
	path := writeSettingsFile(t, `
bind:
  address: ":9090"
  network: tcp
verify-secret: "01234567890123456789012345678901"
kv-url: "redis://kv.internal:6379"
`)

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Bind.Address != ":9090" || s.Bind.Network != "tcp" {
		t.Fatalf("got bind %+v, want :9090/tcp", s.Bind)
	}
	if s.KVURL != "redis://kv.internal:6379" {
		t.Fatalf("got kv-url %q", s.KVURL)
	}
}

func TestLoadSettingsEnvOverridesFile(t *testing.T) {
	path := writeSettingsFile(t, `verify-secret: "01234567890123456789012345678901"`)

	t.Setenv("CHALLENGE_VERIFY_SECRET", "98765432109876543210987654321098")
	t.Setenv("KV_URL", "redis://override:6379")
	t.Setenv("RISK_DEBUG", "1")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.VerifySecret != "98765432109876543210987654321098" {
		t.Fatalf("got verify secret %q, want the env override", s.VerifySecret)
	}
	if s.KVURL != "redis://override:6379" {
		t.Fatalf("got kv-url %q, want the env override", s.KVURL)
	}
	if !s.RiskDebug {
		t.Fatalf("expected RISK_DEBUG=1 to enable RiskDebug")
	}
}

func TestLoadSettingsRejectsShortSecret(t *testing.T) {
	path := writeSettingsFile(t, `verify-secret: "too-short"`)
	if _, err := LoadSettings(path); err == nil {
		t.Fatalf("expected an error for a short verify-secret")
	}
}
