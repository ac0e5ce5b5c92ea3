package serializer

import "github.com/epokhe/binlog/ierr"

// errInvalid is what every serializer wraps when it rejects its input, so
// callers can check errors.Is(err, ierr.InvalidValue) regardless of which
// concrete serializer raised it.
var errInvalid = ierr.InvalidValue
