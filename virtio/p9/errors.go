package p9

import (
	"errors"

	"golang.org/x/sys/unix"
)

// rlerror is the op ID of an error reply: 6 regardless of the request that
// triggered it (§4.4).
const rlerror = 6

// protoError wraps the two sentinel conditions the spec calls out by name
// (§7): P9_EPROTO for structural decode failures and missing FIDs,
// P9_ENOTSUP for operations this service declines to implement (xattrwalk).
// Any other error returned by a FileService method is reported as its
// underlying errno if it is one, or EPROTO otherwise.
type protoError struct {
	errno unix.Errno
}

func (e *protoError) Error() string { return e.errno.Error() }

// ErrProto reports a structural decode failure or a FID the table doesn't
// recognize (§4.4, §7).
var ErrProto = &protoError{errno: unix.EPROTO}

// ErrNotSupported reports an operation this device declines to implement
// (§4.4, xattrwalk).
var ErrNotSupported = &protoError{errno: unix.ENOTSUP}

// errnoOf extracts the errno RLERROR should carry for err, defaulting to
// EPROTO when err isn't already an errno-shaped error.
func errnoOf(err error) unix.Errno {
	var pe *protoError
	if errors.As(err, &pe) {
		return pe.errno
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return unix.EPROTO
}
