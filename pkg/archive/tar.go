package archive

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var tarBufPool = newBufferPool(1 << 20)

// tarDecoder wraps a raw file reader with whatever compression layer
// the archive format needs, or returns it unwrapped for plain .tar.
type tarDecoder func(r io.Reader) (io.Reader, error)

func tarDecoderPlain(r io.Reader) (io.Reader, error) { return r, nil }

func tarDecoderGzip(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

func tarDecoderBzip2(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

// prescanTarSize walks the archive once to sum entry sizes, used when
// Options.AccurateProgress is set. It opens its own file handle so the
// caller's reader is left untouched.
func prescanTarSize(path string, decode tarDecoder) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, err := decode(f)
	if err != nil {
		return 0, err
	}
	tr := tar.NewReader(r)

	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if hdr.Typeflag == tar.TypeReg {
			total += hdr.Size
		}
	}
	return total, nil
}

func extractTar(ctx context.Context, sourceArchive, destinationDir string, opts Options, progress ProgressFunc, decode tarDecoder) Result {
	var total int64
	if opts.AccurateProgress {
		t, err := prescanTarSize(sourceArchive, decode)
		if err == nil {
			total = t
		}
	}

	f, err := os.Open(sourceArchive)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: open %q: %w", sourceArchive, err)}
	}
	defer f.Close()

	r, err := decode(f)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: %q: %w", sourceArchive, err)}
	}
	tr := tar.NewReader(r)

	if err := os.MkdirAll(destinationDir, 0o755); err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}

	buf := tarBufPool.get()
	defer tarBufPool.put(buf)

	var written int64
	for {
		if err := cancelled(ctx); err != nil {
			return Result{Outcome: OutcomeError, Err: err}
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: read %q: %w", sourceArchive, err)}
		}

		target, err := safeJoin(destinationDir, hdr.Name)
		if err != nil {
			return Result{Outcome: OutcomeSecurityError, Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return Result{Outcome: OutcomeError, Err: err}
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return Result{Outcome: OutcomeError, Err: err}
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return Result{Outcome: OutcomeError, Err: err}
			}
			if opts.PreAllocate && hdr.Size > 0 {
				_ = out.Truncate(hdr.Size)
			}
			n, err := io.CopyBuffer(out, tr, buf)
			if err != nil {
				out.Close()
				return Result{Outcome: OutcomeError, Err: fmt.Errorf("archive: write %q: %w", target, err)}
			}
			if err := out.Close(); err != nil {
				return Result{Outcome: OutcomeError, Err: err}
			}
			written += n
			if progress != nil {
				progress(written, total)
			}
		default:
			// Symlinks, hardlinks, devices, etc. are skipped: the
			// model archives this extracts contain only files and
			// directories.
		}
	}

	return Result{Outcome: OutcomeSuccess}
}
