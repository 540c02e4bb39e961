package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const managerRequestsCap = 500

const (
	defaultManagerPage  = 1
	defaultManagerLimit = 50
	maxManagerLimit     = 200
)

// requestLogEntry is one row of the manager:requests list, spec.md §6's
// "list (newest first), capped 500".
type requestLogEntry struct {
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	RemoteIP  string    `json:"remoteIp"`
	Timestamp time.Time `json:"timestamp"`
}

// recordRequest appends a log entry for a successfully-gated challenge
// protocol request. Best-effort: a KV failure here never fails the
// request it's logging.
func (st *State) recordRequest(ctx context.Context, r *http.Request) {
	entry := requestLogEntry{
		Method:    r.Method,
		Path:      r.URL.Path,
		RemoteIP:  remoteIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For")).String(),
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = st.Store.LPush(ctx, "manager:requests", data, managerRequestsCap)
}

// handleManagerRequests implements GET /manager/requests?page&limit: a
// paginated, newest-first read of the manager:requests list.
func (st *State) handleManagerRequests(w http.ResponseWriter, r *http.Request) {
	page := parsePositiveInt(r.URL.Query().Get("page"), defaultManagerPage)
	limit := parsePositiveInt(r.URL.Query().Get("limit"), defaultManagerLimit)
	if limit > maxManagerLimit {
		limit = maxManagerLimit
	}

	total, err := st.Store.LLen(r.Context(), "manager:requests")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	start := (page - 1) * limit
	stop := start + limit - 1

	var entries []requestLogEntry
	if start < total {
		raw, err := st.Store.LRange(r.Context(), "manager:requests", start, stop)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
			return
		}
		entries = make([]requestLogEntry, 0, len(raw))
		for _, b := range raw {
			var entry requestLogEntry
			if err := json.Unmarshal(b, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": entries,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// handleManagerFingerprints implements GET /manager/fingerprints: every
// fp:dev:{visitorId} record currently live in the KV store.
func (st *State) handleManagerFingerprints(w http.ResponseWriter, r *http.Request) {
	keys, err := st.Store.Scan(r.Context(), "fp:dev:")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	records := make([]deviceRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := st.Store.Get(r.Context(), key)
		if err != nil {
			continue
		}
		var record deviceRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		records = append(records, record)
	}

	writeJSON(w, http.StatusOK, map[string]any{"fingerprints": records})
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
