package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"git.vmwall.dev/vmwall/internal/challenge"
	"git.vmwall.dev/vmwall/internal/vmerr"
)

// entropyMinLen is the minimum length of the client-submitted randomness
// contribution; anything shorter is rejected outright as InvalidEntropy
// rather than scored.
const entropyMinLen = 8

// entropyScoreThreshold is the device-fingerprint score at or above which a
// client is rejected as bot-like, matching spec.md §1's "the score it
// produces feeds in as an opaque number and reason list".
const entropyScoreThreshold = 0.5

func (st *State) setupRoutes() {
	st.Mux.HandleFunc("GET /challenge", st.handleGetChallenge)
	st.Mux.HandleFunc("POST /challenge", st.handlePostChallenge)
	st.Mux.HandleFunc("POST /challenge/verify", st.handleVerify)
	st.Mux.HandleFunc("GET /manager/requests", st.handleManagerRequests)
	st.Mux.HandleFunc("GET /manager/fingerprints", st.handleManagerFingerprints)
}

type envelopeRequest struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

type envelopeResponse struct {
	ID         string `json:"id,omitempty"`
	Credential string `json:"credential,omitempty"`
}

type challengeRequestBody struct {
	Entropy     []byte                         `json:"entropy"`
	Fingerprint *challenge.FingerprintEnvelope `json:"fingerprint,omitempty"`
}

type fingerprintPayload struct {
	VisitorID string   `json:"visitorId"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons"`
}

type deviceRecord struct {
	VisitorID  string    `json:"visitorId"`
	Score      float64   `json:"score"`
	Reasons    []string  `json:"reasons"`
	ReceivedAt time.Time `json:"receivedAt"`
}

const deviceRecordTTL = 90 * 24 * time.Hour

// handleGetChallenge implements GET /challenge: a fresh session is
// created and persisted, and its public key is returned encrypted under
// the session key derived from the session id.
func (st *State) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	if err := st.gate(w, r); err != nil {
		return
	}

	session, err := challenge.NewSession()
	if err != nil {
		writeVMErr(w, vmerr.Internal(err))
		return
	}
	if err := session.Persist(r.Context(), st.Store); err != nil {
		writeVMErr(w, vmerr.Internal(err))
		return
	}

	sessionKey, err := challenge.DeriveSessionKey(session.ID)
	if err != nil {
		writeVMErr(w, vmerr.Internal(err))
		return
	}
	encryptedPublicKey, err := challenge.EncryptResponse(sessionKey, session.PublicKey)
	if err != nil {
		writeVMErr(w, vmerr.Internal(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 session.ID,
		"encryptedPublicKey": encryptedPublicKey,
	})
}

// handlePostChallenge implements POST /challenge: decrypt the envelope
// under the session's private key, validate the submitted entropy and
// device fingerprint, build a challenge, and reply with the encrypted
// credential.
func (st *State) handlePostChallenge(w http.ResponseWriter, r *http.Request) {
	if err := st.gate(w, r); err != nil {
		return
	}

	var req envelopeRequest
	if !st.decodeJSON(w, r, &req) {
		return
	}

	session, err := challenge.LoadSession(r.Context(), st.Store, req.ID)
	if err != nil {
		writeVMErr(w, vmerr.New(vmerr.KindInvalidEnvelope, "unknown or expired session"))
		return
	}

	plaintext, err := challenge.DecryptRequest(session.PrivateKey, req.Body)
	if err != nil {
		writeVMErr(w, vmerr.Wrap(vmerr.KindDecryptionFailed, err))
		return
	}

	var body challengeRequestBody
	if err := json.Unmarshal(plaintext, &body); err != nil {
		writeVMErr(w, vmerr.Wrap(vmerr.KindInvalidEnvelope, err))
		return
	}

	if err := validateEntropy(body.Entropy); err != nil {
		writeVMErr(w, err)
		return
	}

	if body.Fingerprint != nil {
		if err := st.checkFingerprint(r.Context(), session, body.Fingerprint); err != nil {
			writeVMErr(w, err)
			return
		}
	}

	built, err := st.Builder.Build(r.Context(), session)
	if err != nil {
		writeVMErr(w, err)
		return
	}

	credential, err := st.encryptCredential(session, built)
	if err != nil {
		writeVMErr(w, vmerr.Internal(err))
		return
	}

	st.recordRequest(r.Context(), r)

	writeJSON(w, http.StatusOK, envelopeResponse{ID: session.ID, Credential: credential})
}

// handleVerify implements POST /challenge/verify: decrypt the envelope
// under the session's private key, check the submitted token/solved
// pair, and reply with a bare ok/error verdict.
func (st *State) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := st.gate(w, r); err != nil {
		return
	}

	var req envelopeRequest
	if !st.decodeJSON(w, r, &req) {
		return
	}

	session, err := challenge.LoadSession(r.Context(), st.Store, req.ID)
	if err != nil {
		writeVMErr(w, vmerr.New(vmerr.KindInvalidEnvelope, "unknown or expired session"))
		return
	}

	plaintext, err := challenge.DecryptRequest(session.PrivateKey, req.Body)
	if err != nil {
		writeVMErr(w, vmerr.Wrap(vmerr.KindDecryptionFailed, err))
		return
	}

	var verifyReq challenge.VerifyRequest
	if err := json.Unmarshal(plaintext, &verifyReq); err != nil {
		writeVMErr(w, vmerr.Wrap(vmerr.KindInvalidEnvelope, err))
		return
	}

	st.recordRequest(r.Context(), r)

	verr := st.Verifier.Verify(r.Context(), verifyReq)
	writeVerifyResult(w, verr)
}

func validateEntropy(entropy []byte) *vmerr.Error {
	if len(entropy) < entropyMinLen {
		return vmerr.New(vmerr.KindInvalidEntropy, "entropy too short")
	}
	allZero := true
	for _, b := range entropy {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return vmerr.New(vmerr.KindInvalidEntropy, "entropy is all-zero")
	}
	return nil
}

// checkFingerprint verifies the envelope's signature and timestamp, then
// inspects its opaque score/reasons payload (spec.md §1: "the score it
// produces feeds in as an opaque number and reason list"). A score at or
// above entropyScoreThreshold is a block, not a validation failure.
func (st *State) checkFingerprint(ctx context.Context, session *challenge.Session, env *challenge.FingerprintEnvelope) *vmerr.Error {
	signingKey, err := challenge.SigningKeyFor(ctx, st.Store, session.ID)
	if err != nil {
		return vmerr.New(vmerr.KindInvalidFingerprint, "no signing key for session")
	}
	if err := challenge.VerifyFingerprint(env, signingKey, time.Now()); err != nil {
		var vmErr *vmerr.Error
		if errors.As(err, &vmErr) {
			return vmErr
		}
		return vmerr.Internal(err)
	}

	var payload fingerprintPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return vmerr.Wrap(vmerr.KindInvalidFingerprint, err)
	}
	if payload.Score >= entropyScoreThreshold {
		return vmerr.Blocked(vmerr.KindEntropyScoreExceeded, payload.Reasons)
	}

	st.recordDevice(ctx, payload)
	return nil
}

func (st *State) recordDevice(ctx context.Context, payload fingerprintPayload) {
	if payload.VisitorID == "" {
		return
	}
	record := deviceRecord{
		VisitorID:  payload.VisitorID,
		Score:      payload.Score,
		Reasons:    payload.Reasons,
		ReceivedAt: time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	_ = st.Store.Set(ctx, "fp:dev:"+payload.VisitorID, data, deviceRecordTTL)
}

// encryptCredential packs the challenge builder's output into the wire
// shape spec.md §6 names and encrypts it under the session key.
func (st *State) encryptCredential(session *challenge.Session, built *challenge.Challenge) (string, error) {
	plaintext, err := json.Marshal(built)
	if err != nil {
		return "", fmt.Errorf("server: marshaling credential: %w", err)
	}
	sessionKey, err := challenge.DeriveSessionKey(session.ID)
	if err != nil {
		return "", err
	}
	return challenge.EncryptResponse(sessionKey, plaintext)
}

// gate runs the request-risk gate and, on a block, writes the
// corresponding error response and returns the error to the caller so it
// stops processing.
func (st *State) gate(w http.ResponseWriter, r *http.Request) error {
	ip := remoteIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"))
	if err := st.Gate.Check(r.Context(), r, ip); err != nil {
		writeVMErr(w, err)
		return err
	}
	return nil
}

func (st *State) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeVMErr(w, vmerr.Wrap(vmerr.KindInvalidEnvelope, err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeVerifyResult implements spec.md §4.8/§7's verify-specific mapping:
// WrongAnswer is 200 with {ok:false} and no diagnostic, every other kind
// keeps its normal status with {ok:false, error}.
func writeVerifyResult(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	var vmErr *vmerr.Error
	if !errors.As(err, &vmErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}
	if vmErr.Kind == vmerr.KindWrongAnswer {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}
	status := vmErr.Kind.HTTPStatus()
	if vmErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", vmErr.RetryAfter))
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": vmErr.Error()})
}

// writeVMErr maps any error to a status code, matching spec.md §7's
// "only route-boundary code translates a Kind to a status code" policy.
func writeVMErr(w http.ResponseWriter, err error) {
	var vmErr *vmerr.Error
	if !errors.As(err, &vmErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	if vmErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", vmErr.RetryAfter))
	}
	body := map[string]any{"error": vmErr.Error()}
	if len(vmErr.Reasons) > 0 {
		body["reasons"] = vmErr.Reasons
	}
	writeJSON(w, vmErr.Kind.HTTPStatus(), body)
}
