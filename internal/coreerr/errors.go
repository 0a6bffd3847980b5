// Package coreerr defines the closed error taxonomy of the Session
// Authority Subsystem. Every fallible operation in the core returns an
// error that is either one of the sentinels below or a *Error wrapping
// one, so callers can always recover a machine Code with errors.As.
//
// Modeled on the wrap-with-context pattern the corpus uses for payment
// errors (tool/resource context wrapping a root cause), generalized with
// a closed Code enum and chainable WithDetails for structured context.
package coreerr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error classification. The set is closed:
// callers may safely switch over it without a default case silently
// swallowing new values introduced elsewhere.
type Code string

const (
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodePolicyDenied        Code = "POLICY_DENIED"
	CodeEmergencyLockdown   Code = "EMERGENCY_LOCKDOWN"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeSessionExpired      Code = "SESSION_EXPIRED"
	CodeOnchainInvalid      Code = "ONCHAIN_INVALID"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeTransportTimeout    Code = "TRANSPORT_TIMEOUT"
	CodeTransportError      Code = "TRANSPORT_ERROR"
	CodeSignerAuthError     Code = "SIGNER_AUTH_ERROR"
	CodeSignerPolicyDenied  Code = "SIGNER_POLICY_DENIED"
	CodeSignerReplayNonce   Code = "SIGNER_REPLAY_NONCE"
	CodeSignerMalformed     Code = "SIGNER_MALFORMED_RESPONSE"
	CodeSignerValidityExp   Code = "SIGNER_VALIDITY_EXPIRED"
	CodeSignerPubkeyChanged Code = "SIGNER_PUBKEY_CHANGED"
	CodeRPCError            Code = "RPC_ERROR"
	CodeConfigInsecure      Code = "CONFIG_INSECURE_TRANSPORT"
	CodeConfigMTLSRequired  Code = "CONFIG_MTLS_REQUIRED"
	CodeConfigMissingProxy  Code = "CONFIG_MISSING_PROXY_URL"
	CodeUnavailable         Code = "UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// retryable classifies which codes represent transient, retryable
// conditions per spec §7 ("transport/timeout/5xx: retryable; 4xx
// policy/auth: not retryable").
var retryable = map[Code]bool{
	CodeTransportTimeout: true,
	CodeTransportError:   true,
	CodeRPCError:         true,
	CodeUnavailable:      true,
}

// Error is the core's single error type: a machine Code, a one-sentence
// human-facing Message, an optional next-step Hint, structured Details,
// and the underlying cause.
type Error struct {
	Code    Code
	Message string
	Hint    string
	Details map[string]string
	Cause   error
}

// New creates an *Error with the given code, message, and wrapped cause.
// cause may be nil.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails returns e with an additional structured detail set,
// chainable at the call site the way the corpus's payment errors attach
// network/asset/amount context to a "no signer" failure.
func (e *Error) WithDetails(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string, 1)
	}
	e.Details[key] = value
	return e
}

// WithHint attaches an optional next-step hint for the user-visible surface.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, coreerr.New(code, ...)) style comparisons by
// code alone, and also satisfies errors.Is against a bare Code sentinel
// via CodeOf below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Retryable reports whether the error's code represents a transient
// condition worth retrying (transport, timeout, RPC, unavailable).
func (e *Error) Retryable() bool {
	return retryable[e.Code]
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error,
// defaulting to CodeInternal for unrecognized errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// UserMessage renders the one-sentence description plus optional hint
// required by spec §7's user-visible failure contract.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Hint == "" {
		return e.Message
	}
	return e.Message + " " + e.Hint
}
