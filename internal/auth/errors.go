package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies authorization failures.
type ErrorKind int

const (
	// KindInvalidScheme means the redirect URL does not use the registered callback scheme.
	KindInvalidScheme ErrorKind = iota + 1
	// KindStateMismatch means the redirect state did not match the pending nonce, or nothing was pending.
	KindStateMismatch
	// KindAccessDenied means the user declined the authorization request.
	KindAccessDenied
	// KindNotAuthenticated means no credential is held.
	KindNotAuthenticated
	// KindRefreshFailed means the token endpoint rejected the refresh token.
	KindRefreshFailed
	// KindExchangeFailed means the code exchange was rejected or the redirect carried no usable code.
	KindExchangeFailed
	// KindNetworkError means the token endpoint could not be reached.
	KindNetworkError
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidScheme:
		return "invalid scheme"
	case KindStateMismatch:
		return "state mismatch"
	case KindAccessDenied:
		return "access denied"
	case KindNotAuthenticated:
		return "not authenticated"
	case KindRefreshFailed:
		return "refresh failed"
	case KindExchangeFailed:
		return "exchange failed"
	case KindNetworkError:
		return "network error"
	default:
		return "unknown"
	}
}

// Sentinel errors for use with errors.Is.
var (
	ErrInvalidScheme    = &Error{Kind: KindInvalidScheme}
	ErrStateMismatch    = &Error{Kind: KindStateMismatch}
	ErrAccessDenied     = &Error{Kind: KindAccessDenied}
	ErrNotAuthenticated = &Error{Kind: KindNotAuthenticated}
	ErrRefreshFailed    = &Error{Kind: KindRefreshFailed}
	ErrExchangeFailed   = &Error{Kind: KindExchangeFailed}
	ErrNetwork          = &Error{Kind: KindNetworkError}
)

// Error is returned by every Manager operation that fails.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "auth: " + e.Kind.String()
	}
	return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels compare by kind only.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of an auth error, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
