// Package apperr defines the error kinds surfaced by the editing engine.
// Every error carries a short user-facing message and a technical detail.
package apperr

import (
	"context"
	"errors"
	"fmt"

	"github.com/ansel1/merry/v2"
)

var (
	// ErrOpenFailure means a media file could not be opened or probed
	ErrOpenFailure = merry.Sentinel("media could not be opened", merry.WithUserMessage("The media file could not be opened."))
	// ErrDecodeTransient is a single bad frame or audio packet
	ErrDecodeTransient = merry.Sentinel("transient decode error")
	// ErrDecodeFatal means the source was marked invalid
	ErrDecodeFatal = merry.Sentinel("source is no longer decodable", merry.WithUserMessage("The media file stopped decoding."))
	// ErrWorkerFailure is a failed waveform, thumbnail or proxy job
	ErrWorkerFailure = merry.Sentinel("analysis worker failed", merry.WithUserMessage("Background analysis failed."))
	// ErrEncoderFailure is a non-zero exit from the export encoder
	ErrEncoderFailure = merry.Sentinel("encoder failed", merry.WithUserMessage("Export failed."))
	// ErrInvariantViolation rejects a request that would break the timeline invariants
	ErrInvariantViolation = merry.Sentinel("invariant violation", merry.WithUserMessage("That edit is not allowed."))
	// ErrCancelled marks an operation stopped on request. It is not a failure.
	ErrCancelled = merry.Sentinel("cancelled")
	// ErrNotFound is returned for unknown clip or track ids
	ErrNotFound = merry.Sentinel("not found", merry.WithUserMessage("The item no longer exists."))
)

// OpenFailure wraps an open error for path
func OpenFailure(path string, cause error) error {
	return merry.Wrap(ErrOpenFailure,
		merry.WithMessagef("open %s: %v", path, cause),
		merry.WithUserMessagef("Could not open %s.", path),
		merry.WithCause(cause))
}

// DecodeTransient wraps a recoverable decode error
func DecodeTransient(cause error) error {
	return merry.Wrap(ErrDecodeTransient, merry.WithMessagef("decode: %v", cause), merry.WithCause(cause))
}

// DecodeFatal wraps the error that made a source invalid
func DecodeFatal(path string, cause error) error {
	return merry.Wrap(ErrDecodeFatal,
		merry.WithMessagef("source %s invalid: %v", path, cause),
		merry.WithCause(cause))
}

// WorkerFailure wraps an analysis worker error
func WorkerFailure(kind, clipID string, cause error) error {
	return merry.Wrap(ErrWorkerFailure,
		merry.WithMessagef("%s worker for clip %s: %v", kind, clipID, cause),
		merry.WithUserMessagef("Generating the %s failed.", kind),
		merry.WithCause(cause))
}

// EncoderFailure wraps an encoder exit together with the tail of its stderr
func EncoderFailure(cause error, stderrTail string) error {
	return merry.Wrap(ErrEncoderFailure,
		merry.WithMessagef("encoder: %v: %s", cause, stderrTail),
		merry.WithCause(cause))
}

// Invariant rejects an operation at the API boundary
func Invariant(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return merry.Wrap(ErrInvariantViolation, merry.WithMessage(msg), merry.WithUserMessage(msg))
}

// NotFound reports an unknown id
func NotFound(what, id string) error {
	return merry.Wrap(ErrNotFound, merry.WithMessagef("%s %s not found", what, id))
}

// Cancelled returns the cancellation marker, keeping the context cause
func Cancelled(cause error) error {
	if cause == nil {
		return merry.Wrap(ErrCancelled)
	}
	return merry.Wrap(ErrCancelled, merry.WithCause(cause))
}

// IsCancelled reports whether err is a cancellation rather than a failure
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Is reports whether err is of the given kind
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}

// UserMessage returns the short message to show the user
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := merry.UserMessage(err); msg != "" {
		return msg
	}
	return "Something went wrong."
}

// Detail returns the technical detail, including the stack when one was captured
func Detail(err error) string {
	if err == nil {
		return ""
	}
	return merry.Details(err)
}
