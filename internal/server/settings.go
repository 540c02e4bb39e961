package server

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Settings is vmwalld's YAML-decoded configuration, with the three
// spec-named environment variables overriding whatever the file sets.
type Settings struct {
	Bind struct {
		Address string `yaml:"address"`
		Network string `yaml:"network"`
	} `yaml:"bind"`

	ManifestDir string `yaml:"manifest-dir"`
	WasmPath    string `yaml:"wasm-path"`

	// VerifySecret is the HMAC key for the challenge JWT. Must be at
	// least 32 characters; CHALLENGE_VERIFY_SECRET always wins over the
	// file if set.
	VerifySecret string `yaml:"verify-secret"`

	// KVURL is the KV store endpoint. Defaults to redis://localhost:6379
	// per spec, though internal/server currently only wires the
	// in-memory implementation (see DESIGN.md).
	KVURL string `yaml:"kv-url"`

	// ASNTablePath points at the JSON document internal/risk.LoadASNTable
	// reads. Empty disables ASN scoring.
	ASNTablePath string `yaml:"asn-table-path"`

	// RiskDebug enables verbose risk-assessor logging. RISK_DEBUG=1
	// always wins over the file if set.
	RiskDebug bool `yaml:"risk-debug"`
}

const minVerifySecretLen = 32

// LoadSettings reads and decodes path, applies environment overrides, and
// validates the result.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server: reading settings file: %w", err)
	}

	s := &Settings{
		KVURL: "redis://localhost:6379",
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("server: parsing settings file: %w", err)
	}

	s.applyEnv()

	if len(s.VerifySecret) < minVerifySecretLen {
		return nil, fmt.Errorf("server: verify-secret/CHALLENGE_VERIFY_SECRET must be at least %d characters", minVerifySecretLen)
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("CHALLENGE_VERIFY_SECRET"); v != "" {
		s.VerifySecret = v
	}
	if v := os.Getenv("KV_URL"); v != "" {
		s.KVURL = v
	}
	if v := os.Getenv("RISK_DEBUG"); v == "1" {
		s.RiskDebug = true
	}
}
