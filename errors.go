package gatt

import "github.com/pkg/errors"

// Sentinel error kinds, per the error-kind table in the design doc. Wrap
// one of these with errors.Wrap/Wrapf so callers can still errors.Is
// against the kind while logs keep the underlying cause and stack.
var (
	ErrHostStack       = errors.New("host stack call failed")
	ErrStatusNotOk     = errors.New("reply carried a non-ok status")
	ErrIdentityMismatch = errors.New("reply identity fields did not match the request")
	ErrTimeout         = errors.New("timed out waiting for host stack reply")
	ErrLockPoisoned    = errors.New("lock poisoned by a prior panic")
	ErrMissingLifetime = errors.New("parent reference no longer live")
	ErrUnknownHandle   = errors.New("event referenced a handle absent from the registry")
	ErrCodec           = errors.New("attribute codec failed")
	ErrMtuUnknown      = errors.New("connection mtu not yet negotiated")
)

// Is reports whether err (or any error it wraps) matches target, using the
// standard library's errors.Is semantics via the pkg/errors shim.
func Is(err, target error) bool { return errors.Is(err, target) }
