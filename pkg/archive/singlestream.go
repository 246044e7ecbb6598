package archive

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var singleStreamBufPool = newBufferPool(1 << 20)

// singleStreamDecoder wraps the raw file reader for a compressed
// single-file format (as opposed to a container format like tar).
type singleStreamDecoder func(r io.Reader) (io.Reader, error)

func singleGzip(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }
func singleBzip2(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

// extractSingleStream decompresses a lone .gz or .bz2 file into
// destinationDir, deriving the output filename by stripping the
// compressed extension.
func extractSingleStream(ctx context.Context, sourceArchive, destinationDir string, opts Options, progress ProgressFunc, decode singleStreamDecoder) Result {
	f, err := os.Open(sourceArchive)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: open %q: %w", sourceArchive, err)}
	}
	defer f.Close()

	r, err := decode(f)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: %q: %w", sourceArchive, err)}
	}

	if err := os.MkdirAll(destinationDir, 0o755); err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}

	outName := strings.TrimSuffix(filepath.Base(sourceArchive), filepath.Ext(sourceArchive))
	target, err := safeJoin(destinationDir, outName)
	if err != nil {
		return Result{Outcome: OutcomeSecurityError, Err: err}
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}

	buf := singleStreamBufPool.get()
	defer singleStreamBufPool.put(buf)

	var written int64
	for {
		if err := cancelled(ctx); err != nil {
			out.Close()
			return Result{Outcome: OutcomeError, Err: err}
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: write %q: %w", target, werr)}
			}
			written += int64(n)
			if progress != nil {
				progress(written, 0)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: read %q: %w", sourceArchive, rerr)}
		}
	}

	if err := out.Close(); err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}
	return Result{Outcome: OutcomeSuccess}
}
