// Package hashcache computes and caches SHA-256 digests of files on
// disk, honoring cancellation and reporting progress the way
// spec.md §4.2 describes, with an mtime-keyed sidecar cache so a
// verified file is not re-hashed until it changes.
package hashcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
)

// readBufSize matches spec.md §4.2's "64 KiB buffer".
const readBufSize = 64 * 1024

// ProgressFunc is invoked with a value in [0,1] as a hash computation
// progresses. It may be nil.
type ProgressFunc func(fraction float64)

// Outcome enumerates the terminal states of a verification, per
// spec.md §4.2.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeCacheHit
	OutcomeHashMismatch
	OutcomeFileNotFound
	OutcomeIsDirectory
	OutcomeCancelled
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeCacheHit:
		return "CacheHit"
	case OutcomeHashMismatch:
		return "HashMismatch"
	case OutcomeFileNotFound:
		return "FileNotFound"
	case OutcomeIsDirectory:
		return "IsDirectory"
	case OutcomeCancelled:
		return "Cancelled"
	default:
		return "Error"
	}
}

// Result is the outcome of a VerifyFile call.
type Result struct {
	Outcome        Outcome
	CalculatedHash string
	ExpectedHash   string
	Err            error
}

// bufPool recycles the read buffers used by ComputeSHA256, so a
// verify-many-files loop does not allocate one 64 KiB buffer per file.
var bufPool = newBufferPool(readBufSize)

// ComputeSHA256 hashes the file at path, reporting progress in [0,1]
// after every buffer's worth of bytes read, and honoring ctx
// cancellation between reads. An empty file hashes to the well-known
// SHA-256 of the empty string.
func ComputeSHA256(ctx context.Context, path string, progress ProgressFunc) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	total := info.Size()

	buf := bufPool.get()
	defer bufPool.put(buf)

	h := sha256.New()
	var read int64
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("hashcache: %w", coreerr.ErrOperationCancelled)
		default:
		}

		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			read += int64(n)
			if progress != nil {
				if total > 0 {
					progress(float64(read) / float64(total))
				} else {
					progress(1)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile checks path against expectedHash (case-insensitively).
// If expectedHash is empty and path exists, it returns Success
// immediately without reading the file body (an existence check). If
// present, the mtime-keyed sidecar cache is consulted first; on a
// cache hit no file body is read.
func VerifyFile(ctx context.Context, path, expectedHash string, progress ProgressFunc) Result {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Outcome: OutcomeFileNotFound, Err: fmt.Errorf("hashcache: %w: %s", coreerr.ErrNotFound, path)}
		}
		return Result{Outcome: OutcomeError, Err: err}
	}
	if info.IsDir() {
		return Result{Outcome: OutcomeIsDirectory, Err: fmt.Errorf("hashcache: verify: %s is a directory", path)}
	}

	if expectedHash == "" {
		return Result{Outcome: OutcomeSuccess}
	}
	expectedHash = strings.ToLower(expectedHash)

	if cached, ok := readCache(path, info); ok && strings.ToLower(cached) == expectedHash {
		return Result{Outcome: OutcomeCacheHit, CalculatedHash: cached, ExpectedHash: expectedHash}
	}

	sum, err := ComputeSHA256(ctx, path, progress)
	if err != nil {
		if errors.Is(err, coreerr.ErrOperationCancelled) {
			// A verify observed cancellation mid-hash, not a genuine
			// I/O or hash failure: callers must be able to tell the
			// two apart (coreerr.IsCancelled, or the distinct
			// outcome) so they don't treat this file as needing a
			// delete-and-redownload.
			return Result{Outcome: OutcomeCancelled, Err: err}
		}
		return Result{Outcome: OutcomeError, Err: err}
	}

	sum = strings.ToLower(sum)
	if sum != expectedHash {
		return Result{
			Outcome:        OutcomeHashMismatch,
			CalculatedHash: sum,
			ExpectedHash:   expectedHash,
			Err:            fmt.Errorf("hashcache: %w: %s", coreerr.ErrHashMismatch, path),
		}
	}

	if err := writeCache(path, sum); err != nil {
		// Cache write failures are non-fatal: verification result stands.
		_ = err
	}
	return Result{Outcome: OutcomeSuccess, CalculatedHash: sum, ExpectedHash: expectedHash}
}
