package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a pipeline failure for callers and for HTTP mapping.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUpstreamRejected    Code = "UPSTREAM_REJECTED"
	CodeTransient           Code = "TRANSIENT_ERROR"
	CodeSettlementNotReady  Code = "SETTLEMENT_NOT_READY"
	CodeSettlementFailed    Code = "SETTLEMENT_FAILED"
	CodeClaimReverted       Code = "CLAIM_REVERTED"
	CodePendingConfirmation Code = "PENDING_CONFIRMATION"
)

// Error is a classified pipeline error
type Error struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Upstream  map[string]any `json:"upstream,omitempty"`
	Err       error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to the response status
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUpstreamRejected:
		return http.StatusBadGateway
	case CodeTransient:
		return http.StatusServiceUnavailable
	case CodeSettlementNotReady, CodeClaimReverted:
		return http.StatusConflict
	case CodeSettlementFailed:
		return http.StatusUnprocessableEntity
	case CodePendingConfirmation:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// Validation reports malformed or unsupported input. Not retryable.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// UpstreamRejected reports a decline from an external provider. The upstream
// payload is attached for the caller rather than swallowed.
func UpstreamRejected(err error, upstream map[string]any, format string, args ...any) *Error {
	return &Error{
		Code:     CodeUpstreamRejected,
		Message:  fmt.Sprintf(format, args...),
		Upstream: upstream,
		Err:      err,
	}
}

// Transient reports a network or node level failure. Safe to retry the whole
// request: the idempotency ledger prevents duplicate side effects.
func Transient(err error, format string, args ...any) *Error {
	return &Error{Code: CodeTransient, Message: fmt.Sprintf(format, args...), Retryable: true, Err: err}
}

// SettlementNotReady reports a settlement still pending on-chain.
func SettlementNotReady(txHash string) *Error {
	return &Error{
		Code:      CodeSettlementNotReady,
		Message:   fmt.Sprintf("settlement %s is not confirmed yet", txHash),
		Retryable: true,
	}
}

// SettlementFailed reports a settlement whose transaction reverted.
func SettlementFailed(txHash string) *Error {
	return &Error{Code: CodeSettlementFailed, Message: fmt.Sprintf("settlement %s failed on-chain", txHash)}
}

// ClaimReverted reports a claim transaction that reverted. Fatal for the
// idempotency key; resubmission requires operator review.
func ClaimReverted(claimTxHash string) *Error {
	return &Error{Code: CodeClaimReverted, Message: fmt.Sprintf("claim transaction %s reverted", claimTxHash)}
}

// PendingConfirmation reports a submitted claim that has not reached the
// required confirmation depth. Not a failure; the caller should re-poll.
func PendingConfirmation(claimTxHash string) *Error {
	return &Error{
		Code:      CodePendingConfirmation,
		Message:   fmt.Sprintf("claim transaction %s is awaiting confirmation", claimTxHash),
		Retryable: true,
	}
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}
