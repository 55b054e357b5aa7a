// Package ioerrors defines the error kinds produced by the chunk I/O engine
// and its collaborators. Callers distinguish them with errors.Is.
package ioerrors

import "errors"

var (
	// ErrEOF is returned when a read begins at or past the logical end of
	// the image. Distinct from ErrPrematureEOF.
	ErrEOF = errors.New("end of file")

	// ErrPrematureEOF is returned when a fetch or a copy-on-write read
	// returns fewer bytes than it committed to, short of the logical end
	// of the image.
	ErrPrematureEOF = errors.New("premature end of file")

	// ErrInvalidCache is returned when on-disk cache state fails validation.
	ErrInvalidCache = errors.New("invalid cache state")

	// ErrInterrupted is returned when a chunk-lock wait was cancelled via
	// context before the lock was acquired.
	ErrInterrupted = errors.New("operation interrupted")

	// ErrFatalTransport marks a permanent origin failure. Callers should not
	// retry. Validator mismatches use ErrValidatorMismatch instead.
	ErrFatalTransport = errors.New("fatal transport error")

	// ErrNetworkTransport marks a transient transport failure. Callers may
	// retry.
	ErrNetworkTransport = errors.New("network transport error")

	// ErrImageClosed is returned by any chunk-engine operation invoked
	// after the image has been closed.
	ErrImageClosed = errors.New("image closed")

	// ErrValidatorMismatch marks an ETag/Last-Modified mismatch detected
	// mid-fetch. Like ErrFatalTransport, it is never retried.
	ErrValidatorMismatch = errors.New("origin validator mismatch")
)
