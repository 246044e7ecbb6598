// Package archive streams .zip, .tar, .tar.gz/.tgz, .tar.bz2/.tbz2,
// .gz, and .bz2 archives into a destination directory with
// traversal-safe path handling and progress reporting, per
// spec.md §4.3.
package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
)

// ProgressFunc reports bytes written so far and, when known, the
// total uncompressed size (0 if unknown).
type ProgressFunc func(written, total int64)

// Options configures an extraction. Zero values apply the defaults
// spec.md §4.3 names.
type Options struct {
	// BufferSize is the I/O buffer size used for streaming copies.
	// Defaults to 1 MiB.
	BufferSize int
	// MaxParallelism bounds concurrent worker goroutines for ZIP
	// extraction. Defaults to 1 (sequential).
	MaxParallelism int
	// PreAllocate calls Truncate to the entry's final size before
	// writing, when the format exposes a size up front.
	PreAllocate bool
	// AccurateProgress pre-scans TAR-family archives to compute the
	// total uncompressed size before extracting.
	AccurateProgress bool
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 1 << 20
	}
	if o.MaxParallelism <= 0 {
		o.MaxParallelism = 1
	}
	return o
}

// Outcome is the terminal result of Extract.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeUnsupportedFormat
	OutcomeSecurityError
	OutcomeError
)

// Result is returned by Extract.
type Result struct {
	Outcome Outcome
	Err     error
}

// format identifies a recognized archive container/compression pair.
type format int

const (
	formatUnknown format = iota
	formatTarGz
	formatTarBz2
	formatTar
	formatZip
	formatGz
	formatBz2
)

// detectFormat dispatches on filename suffix, longest suffix first,
// case-insensitively, matching the set in spec.md §4.3.
func detectFormat(name string) format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return formatTarGz
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"), strings.HasSuffix(lower, ".tb2"):
		return formatTarBz2
	case strings.HasSuffix(lower, ".tar"):
		return formatTar
	case strings.HasSuffix(lower, ".zip"):
		return formatZip
	case strings.HasSuffix(lower, ".gz"):
		return formatGz
	case strings.HasSuffix(lower, ".bz2"):
		return formatBz2
	default:
		return formatUnknown
	}
}

// Extract dispatches to the format-specific extractor for
// sourceArchive, streaming its contents into destinationDir.
func Extract(ctx context.Context, sourceArchive, destinationDir string, opts Options, progress ProgressFunc) Result {
	opts = opts.withDefaults()

	switch detectFormat(sourceArchive) {
	case formatTarGz:
		return extractTar(ctx, sourceArchive, destinationDir, opts, progress, tarDecoderGzip)
	case formatTarBz2:
		return extractTar(ctx, sourceArchive, destinationDir, opts, progress, tarDecoderBzip2)
	case formatTar:
		return extractTar(ctx, sourceArchive, destinationDir, opts, progress, tarDecoderPlain)
	case formatZip:
		return extractZip(ctx, sourceArchive, destinationDir, opts, progress)
	case formatGz:
		return extractSingleStream(ctx, sourceArchive, destinationDir, opts, progress, singleGzip)
	case formatBz2:
		return extractSingleStream(ctx, sourceArchive, destinationDir, opts, progress, singleBzip2)
	default:
		return Result{
			Outcome: OutcomeUnsupportedFormat,
			Err:     fmt.Errorf("archive: unsupported format for %q", sourceArchive),
		}
	}
}

func cancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("archive: %w", coreerr.ErrOperationCancelled)
	default:
		return nil
	}
}
