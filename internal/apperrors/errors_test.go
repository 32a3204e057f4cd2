package apperrors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"provably-fair-backend/internal/apperrors"
)

func TestIsMatchesByCode(t *testing.T) {
	err := apperrors.Newf(apperrors.CodeInsufficientFunds, "balance 5.00 below stake %s", "10.00")
	wrapped := fmt.Errorf("open coinflip: %w", err)

	if !errors.Is(wrapped, apperrors.ErrInsufficientFunds) {
		t.Fatalf("expected wrapped error to match ErrInsufficientFunds")
	}
	if errors.Is(wrapped, apperrors.ErrNotFound) {
		t.Fatalf("did not expect match with ErrNotFound")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := apperrors.Wrap(apperrors.CodeInternal, "persist round", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if got := err.Error(); got != "persist round: disk full" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	if got := apperrors.CodeOf(errors.New("boom")); got != apperrors.CodeInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, apperrors.CodeInternal)
	}
	if got := apperrors.CodeOf(fmt.Errorf("x: %w", apperrors.ErrAlreadyCrashed)); got != apperrors.CodeAlreadyCrashed {
		t.Errorf("CodeOf(wrapped) = %s, want %s", got, apperrors.CodeAlreadyCrashed)
	}
	if got := apperrors.Message(errors.New("secret detail")); got != "internal error" {
		t.Errorf("Message(plain) = %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[apperrors.Code]int{
		apperrors.CodeValidation:            http.StatusBadRequest,
		apperrors.CodeInsufficientFunds:     http.StatusPaymentRequired,
		apperrors.CodeNotFound:              http.StatusNotFound,
		apperrors.CodeAlreadyCrashed:        http.StatusConflict,
		apperrors.CodeNotRevealed:           http.StatusForbidden,
		apperrors.CodeRateLimited:           http.StatusTooManyRequests,
		apperrors.CodeInternalInconsistency: http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", code, got, want)
		}
	}
}
