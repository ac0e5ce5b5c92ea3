// Package ierr defines the sentinel error kinds shared across the binlog
// packages. Every package wraps one of these with %w instead of minting
// its own error type, so callers can always use errors.Is regardless of
// which layer raised it.
package ierr

import "errors"

var (
	// Integrity is returned when an append is refused because the key is
	// not strictly greater than the current maximum, or when a bulk
	// append's consumed count does not match its added count.
	Integrity = errors.New("integrity violation")

	// ReaderNotFound is returned when a reader name is absent at read,
	// unregister, or reclamation time with no readers registered. It is
	// also what the store's read-only error is remapped to on the
	// reader-touching paths.
	ReaderNotFound = errors.New("reader not found")

	// InvalidValue is returned when a mandatory index is missing its
	// value, a serializer rejects its input, or an unsaved entry is
	// acked.
	InvalidValue = errors.New("invalid value")

	// IllegalState is returned when an anonymous reader is acked, or a
	// log segment that is current or still in use is deleted.
	IllegalState = errors.New("illegal state")

	// TypeError is returned when ack is given something that is neither
	// an entry nor a non-negative integer.
	TypeError = errors.New("type error")

	// NotFound is returned by get(pk) on a missing entry, or delete on a
	// missing segment.
	NotFound = errors.New("not found")
)
