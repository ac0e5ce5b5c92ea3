package logwriter

import (
	"errors"
	"fmt"

	"github.com/epokhe/binlog/ierr"
)

// ErrChecksumMismatch means a record's stored checksum does not match its
// payload, i.e. mid-segment corruption. Unlike a torn tail write (which is
// silently truncated away on open, see recordScanner), this is a hard
// error: a checksum-verified record was, at some point, acknowledged to a
// caller.
var ErrChecksumMismatch = errors.New("segment record checksum mismatch")

// ErrSegmentNotFound wraps ierr.NotFound for Delete on a missing segment.
var ErrSegmentNotFound = fmt.Errorf("segment not found: %w", ierr.NotFound)

// ErrSegmentInUse wraps ierr.IllegalState for Delete on the current
// segment, or one a registered reader currently holds open.
var ErrSegmentInUse = fmt.Errorf("segment in use: %w", ierr.IllegalState)
