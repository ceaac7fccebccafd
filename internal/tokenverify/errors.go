package tokenverify

import "errors"

// Reason classifies why a token was rejected.
type Reason string

const (
	// ReasonConfiguration means the verifier itself is misconfigured (no
	// issuer). It is a deployment defect, not a caller error.
	ReasonConfiguration Reason = "configuration_error"
	// ReasonMissingCredential means no bearer token was presented.
	ReasonMissingCredential Reason = "missing_credential"
	// ReasonMalformedToken means the header could not be parsed or lacks a kid.
	ReasonMalformedToken Reason = "malformed_token"
	// ReasonKeySetUnavailable means the JWKS could not be fetched.
	ReasonKeySetUnavailable Reason = "key_set_unavailable"
	// ReasonUnknownSigningKey means the kid is absent even after a refresh.
	ReasonUnknownSigningKey Reason = "unknown_signing_key"
	// ReasonTokenInvalid covers signature and claim failures.
	ReasonTokenInvalid Reason = "token_invalid"
)

// Error is the only error type returned by Verifier.Verify.
//
// Detail is a short description safe to show callers. Err carries the
// underlying cause (library or network error) for logs and is never part of
// Error().
type Error struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Reason, so the sentinels below work
// with errors.Is regardless of detail or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrConfiguration     = &Error{Reason: ReasonConfiguration}
	ErrMissingCredential = &Error{Reason: ReasonMissingCredential}
	ErrMalformedToken    = &Error{Reason: ReasonMalformedToken}
	ErrKeySetUnavailable = &Error{Reason: ReasonKeySetUnavailable}
	ErrUnknownSigningKey = &Error{Reason: ReasonUnknownSigningKey}
	ErrTokenInvalid      = &Error{Reason: ReasonTokenInvalid}
)

// ReasonOf extracts the Reason from err, or "" if err is not a verifier error.
func ReasonOf(err error) Reason {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// IsClientError reports whether err should be reported to the caller as an
// authentication failure rather than an internal fault.
func IsClientError(err error) bool {
	r := ReasonOf(err)
	return r != "" && r != ReasonConfiguration
}

func reject(reason Reason, detail string, cause error) *Error {
	return &Error{Reason: reason, Detail: detail, Err: cause}
}
