package vmerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidEnvelope:              400,
		KindDecryptionFailed:             400,
		KindInvalidEntropy:               400,
		KindInvalidFingerprint:           400,
		KindChallengeNotFoundOrUsed:      400,
		KindFingerprintSignatureMismatch: 401,
		KindTokenInvalid:                 401,
		KindTokenExpired:                 401,
		KindRiskBlocked:                  403,
		KindEntropyScoreExceeded:         403,
		KindRateLimited:                  429,
		KindWrongAnswer:                  200,
		KindInternal:                     500,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", kind, got, want)
		}
	}
}

func TestErrorUnwrapsWithErrorsAs(t *testing.T) {
	cause := errors.New("boom")
	wrapped := fmt.Errorf("context: %w", Wrap(KindDecryptionFailed, cause))

	var verr *Error
	if !errors.As(wrapped, &verr) {
		t.Fatal("expected errors.As to find the *Error in the chain")
	}
	if verr.Kind != KindDecryptionFailed {
		t.Fatalf("got kind %s, want DecryptionFailed", verr.Kind)
	}
	if !errors.Is(verr, cause) {
		t.Fatalf("expected errors.Is to find the original cause")
	}
}

func TestBlockedCarriesReasons(t *testing.T) {
	e := Blocked(KindRiskBlocked, []string{"asn-score", "rate-tier-3"})
	if len(e.Reasons) != 2 {
		t.Fatalf("expected 2 reasons, got %d", len(e.Reasons))
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	e := RateLimited(30)
	if e.RetryAfter != 30 {
		t.Fatalf("got retryAfter %d, want 30", e.RetryAfter)
	}
	if e.Kind.HTTPStatus() != 429 {
		t.Fatalf("got status %d, want 429", e.Kind.HTTPStatus())
	}
}
