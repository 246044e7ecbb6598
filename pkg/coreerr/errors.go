// Package coreerr defines the error taxonomy shared by the acquisition
// pipeline and module lifecycle: a small set of sentinel error kinds,
// wrapped with context via fmt.Errorf("...: %w", err), classified with
// errors.Is rather than type assertions.
package coreerr

import "errors"

// Kinds. Each is a distinct sentinel; wrap it with fmt.Errorf to add
// context ("%w: model.onnx missing"), and classify with errors.Is or
// the Is* helpers below.
var (
	// ErrPrecondition covers metadata validation and empty-path
	// preconditions. Fatal for the call that raised it.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNotFound covers a missing file or directory observed by the
	// verifier. The orchestrator treats it as "needs (re)download".
	ErrNotFound = errors.New("not found")

	// ErrHashMismatch covers a verified file whose digest does not
	// match the expected hash. The orchestrator deletes and retries.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrNetwork covers downloader timeouts, non-2xx responses, and
	// DNS/connection failures. Retried per chunk up to a budget.
	ErrNetwork = errors.New("network error")

	// ErrRangeNotSupported signals the download origin does not
	// support byte-range requests. Not a failure: triggers single-
	// chunk fallback.
	ErrRangeNotSupported = errors.New("range requests not supported")

	// ErrExtraction covers archive-extraction failures other than a
	// path-traversal attempt. Triggers backoff and retry.
	ErrExtraction = errors.New("extraction failed")

	// ErrSecurity covers an archive entry whose resolved path escapes
	// the destination directory. Fatal for that extraction.
	ErrSecurity = errors.New("security violation")

	// ErrInsufficientSpace covers a failed disk-space probe. Fatal
	// before the acquisition loop begins.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// ErrOperationCancelled covers an observed cancellation token.
	// Surfaced as a Cancel event, never a Failed event.
	ErrOperationCancelled = errors.New("operation cancelled")

	// ErrNativeInit covers a native engine construction failure in a
	// module's initialize hook.
	ErrNativeInit = errors.New("native engine initialization failed")

	// ErrDisposed covers a public API call observed after a module's
	// disposal flag was set. No-op internally; surfaced to the caller.
	ErrDisposed = errors.New("module disposed")
)

func is(err error, target error) bool { return errors.Is(err, target) }

// IsPrecondition reports whether err (or its chain) is ErrPrecondition.
func IsPrecondition(err error) bool { return is(err, ErrPrecondition) }

// IsNotFound reports whether err (or its chain) is ErrNotFound.
func IsNotFound(err error) bool { return is(err, ErrNotFound) }

// IsHashMismatch reports whether err (or its chain) is ErrHashMismatch.
func IsHashMismatch(err error) bool { return is(err, ErrHashMismatch) }

// IsNetwork reports whether err (or its chain) is ErrNetwork.
func IsNetwork(err error) bool { return is(err, ErrNetwork) }

// IsRangeNotSupported reports whether err is ErrRangeNotSupported.
func IsRangeNotSupported(err error) bool { return is(err, ErrRangeNotSupported) }

// IsExtraction reports whether err (or its chain) is ErrExtraction.
func IsExtraction(err error) bool { return is(err, ErrExtraction) }

// IsSecurity reports whether err (or its chain) is ErrSecurity.
func IsSecurity(err error) bool { return is(err, ErrSecurity) }

// IsInsufficientSpace reports whether err is ErrInsufficientSpace.
func IsInsufficientSpace(err error) bool { return is(err, ErrInsufficientSpace) }

// IsCancelled reports whether err (or its chain) is ErrOperationCancelled,
// including the standard library's context.Canceled by convention of
// callers wrapping it with ErrOperationCancelled at the boundary.
func IsCancelled(err error) bool { return is(err, ErrOperationCancelled) }

// IsNativeInit reports whether err (or its chain) is ErrNativeInit.
func IsNativeInit(err error) bool { return is(err, ErrNativeInit) }

// IsDisposed reports whether err (or its chain) is ErrDisposed.
func IsDisposed(err error) bool { return is(err, ErrDisposed) }
