package fsbridge

import (
	"errors"

	"bazil.org/fuse"

	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
)

// toErrno translates a chunk-engine error into the errno FUSE reports to
// the kernel, so a cancelled or backed-off request surfaces as the right
// syscall failure rather than a generic I/O error.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ioerrors.ErrInterrupted):
		return fuse.EINTR
	case errors.Is(err, ioerrors.ErrImageClosed):
		return fuse.EPERM
	case errors.Is(err, ioerrors.ErrFatalTransport), errors.Is(err, ioerrors.ErrValidatorMismatch):
		return fuse.EIO
	case errors.Is(err, ioerrors.ErrNetworkTransport):
		return fuse.EIO
	default:
		return fuse.EIO
	}
}
