// Package server composes the challenge/risk core into the HTTP surface
// spec.md §6 names: the session/challenge/verify protocol and the
// read-only manager views, plus the YAML+env settings layer that
// configures them.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"git.vmwall.dev/vmwall/internal/bytecode"
	"git.vmwall.dev/vmwall/internal/challenge"
	"git.vmwall.dev/vmwall/internal/kv"
	"git.vmwall.dev/vmwall/internal/risk"
)

// State is the composition root every handler closes over, mirroring the
// teacher's State: one struct holding everything built once at startup
// and shared read-only (except through the KV store) across requests.
type State struct {
	Settings *Settings
	Store    kv.Store
	Logger   *slog.Logger

	Builder  *challenge.Builder
	Verifier *challenge.Verifier
	Gate     *risk.Gate

	Mux *http.ServeMux
}

// NewState wires a Store, the challenge builder/verifier, and the risk
// gate around the given manifest and compiled WASM bytes, then registers
// the five HTTP routes.
func NewState(settings *Settings, manifest *bytecode.Manifest, wasmBytes []byte) (*State, error) {
	store := kv.NewMem()

	var asnTable *risk.ASNTable
	if settings.ASNTablePath != "" {
		var err error
		asnTable, err = risk.LoadASNTable(settings.ASNTablePath)
		if err != nil {
			return nil, fmt.Errorf("server: loading asn table: %w", err)
		}
	}
	scorer, err := risk.NewScorer(store, asnTable)
	if err != nil {
		return nil, fmt.Errorf("server: building scorer: %w", err)
	}

	st := &State{
		Settings: settings,
		Store:    store,
		Logger:   slog.Default(),
		Builder: &challenge.Builder{
			Manifest:  manifest,
			WasmBytes: wasmBytes,
			Store:     store,
			Secret:    []byte(settings.VerifySecret),
		},
		Verifier: &challenge.Verifier{Store: store, Secret: []byte(settings.VerifySecret)},
		Gate: &risk.Gate{
			Limiter: &risk.RateLimiter{Store: store},
			Scorer:  scorer,
		},
		Mux: http.NewServeMux(),
	}
	st.setupRoutes()
	return st, nil
}

func (st *State) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st.Mux.ServeHTTP(w, r)
}
