package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var zipBufPool = newBufferPool(1 << 20)

// extractZip extracts a ZIP archive, optionally fanning file entries
// out across up to opts.MaxParallelism worker goroutines. Progress
// callbacks are throttled to at most one per 100ms.
func extractZip(ctx context.Context, sourceArchive, destinationDir string, opts Options, progress ProgressFunc) Result {
	r, err := zip.OpenReader(sourceArchive)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: open %q: %w", sourceArchive, err)}
	}
	defer r.Close()

	if err := os.MkdirAll(destinationDir, 0o755); err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}

	var total int64
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			total += int64(f.UncompressedSize64)
		}
	}

	// Pre-validate every entry path before extracting anything, so a
	// traversal attempt anywhere in the archive fails the whole
	// operation without leaving a partial tree.
	targets := make([]string, len(r.File))
	for i, f := range r.File {
		target, err := safeJoin(destinationDir, f.Name)
		if err != nil {
			return Result{Outcome: OutcomeSecurityError, Err: err}
		}
		targets[i] = target
	}

	var written int64
	var lastReport int64 // unix nanos, accessed only under progressMu
	var progressMu sync.Mutex

	report := func() {
		if progress == nil {
			return
		}
		now := time.Now().UnixNano()
		progressMu.Lock()
		w := atomic.LoadInt64(&written)
		last := lastReport
		if w < total && now-last < int64(100*time.Millisecond) {
			progressMu.Unlock()
			return
		}
		lastReport = now
		progressMu.Unlock()
		progress(w, total)
	}

	sem := semaphore.NewWeighted(int64(opts.MaxParallelism))
	var wg sync.WaitGroup
	errCh := make(chan error, len(r.File))

	for i, f := range r.File {
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targets[i], 0o755); err != nil {
				return Result{Outcome: OutcomeError, Err: err}
			}
			continue
		}

		if err := cancelled(ctx); err != nil {
			return Result{Outcome: OutcomeError, Err: err}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: %w", err)}
		}

		wg.Add(1)
		go func(f *zip.File, target string) {
			defer wg.Done()
			defer sem.Release(1)

			n, err := extractZipEntry(f, target, opts)
			if err != nil {
				errCh <- err
				return
			}
			atomic.AddInt64(&written, n)
			report()
		}(f, targets[i])
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return Result{Outcome: OutcomeError, Err: err}
		}
	}

	if progress != nil {
		progress(total, total)
	}
	return Result{Outcome: OutcomeSuccess}
}

func extractZipEntry(f *zip.File, target string, opts Options) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("archive: open entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode().Perm()|0o600)
	if err != nil {
		return 0, err
	}
	if opts.PreAllocate && f.UncompressedSize64 > 0 {
		_ = out.Truncate(int64(f.UncompressedSize64))
	}

	buf := zipBufPool.get()
	defer zipBufPool.put(buf)

	n, err := io.CopyBuffer(out, rc, buf)
	if err != nil {
		out.Close()
		return n, fmt.Errorf("archive: write %q: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return n, err
	}
	return n, nil
}
