package domain

import (
	"errors"
	"fmt"
)

// Kind discriminates failures so callers can tell retryable conditions
// (StorageUnavailable) from terminal ones without a class hierarchy.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInvalidCredentials
	KindSessionExpired
	KindSessionAlreadyActive
	KindAuctionEnded
	KindInvalidOperation
	KindStorageUnavailable
	KindClockUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindSessionExpired:
		return "session_expired"
	case KindSessionAlreadyActive:
		return "session_already_active"
	case KindAuctionEnded:
		return "auction_ended"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindClockUnavailable:
		return "clock_unavailable"
	default:
		return "unknown"
	}
}

// Error is the single tagged error type used across the core.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Ef(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
