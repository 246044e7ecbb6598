package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
)

const (
	progressInterval  = 500 * time.Millisecond
	defaultMaxRetries = 3
	retryDelay        = 2 * time.Second
)

// ProgressFunc reports aggregate download progress, throttled to at
// most one call per progressInterval.
type ProgressFunc func(downloaded, total int64, speedBytesPerSecond float64, eta time.Duration)

// Options configures a Download call.
type Options struct {
	Client            *http.Client
	MaxParallelChunks int // defaults to 4 when below 1; capped at 8
	MaxRetryAttempts  int // per chunk, defaults to 3
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 0}
	}
	if o.MaxParallelChunks < 1 {
		o.MaxParallelChunks = 4
	}
	if o.MaxParallelChunks > maxHardChunks {
		o.MaxParallelChunks = maxHardChunks
	}
	if o.MaxRetryAttempts < 1 {
		o.MaxRetryAttempts = defaultMaxRetries
	}
	return o
}

// Download fetches url into finalPath, chunked and resumable, per
// spec.md §4.4. It returns true once finalPath exists with the full
// expected size.
func Download(ctx context.Context, url, finalPath string, opts Options, progress ProgressFunc) (bool, error) {
	opts = opts.withDefaults()

	pr, err := probe(ctx, opts.Client, url)
	if err != nil {
		return false, err
	}
	if pr.totalSize <= 0 {
		return false, fmt.Errorf("download: %w: unknown content length for %s", coreerr.ErrNetwork, url)
	}

	meta, resumed := loadMetadata(finalPath, url)
	stage := stagingPath(finalPath)

	if !resumed {
		meta = Metadata{
			URL:       url,
			FileName:  finalPath,
			TotalSize: pr.totalSize,
			Chunks:    planChunks(pr.totalSize, pr.rangeSupport, opts.MaxParallelChunks),
			StartedAt: time.Now(),
		}
		if len(meta.Chunks) > 0 {
			meta.ChunkSize = meta.Chunks[0].size()
		}
		if err := createSparseFile(stage, pr.totalSize); err != nil {
			return false, fmt.Errorf("download: create staging file: %w", err)
		}
		if err := saveMetadata(finalPath, meta); err != nil {
			return false, fmt.Errorf("download: persist metadata: %w", err)
		}
	}

	out, err := os.OpenFile(stage, os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("download: open staging file: %w", err)
	}
	defer out.Close()

	var fileMu sync.Mutex
	var metaMu sync.Mutex

	tracker := newProgressTracker(pr.totalSize, meta.downloadedTotal(), progress)

	sem := semaphore.NewWeighted(int64(opts.MaxParallelChunks))
	var wg sync.WaitGroup
	errCh := make(chan error, len(meta.Chunks))

	var submitErr error
submitLoop:
	for i := range meta.Chunks {
		chunk := meta.Chunks[i]
		if chunk.Completed {
			continue
		}

		if err := ctx.Err(); err != nil {
			submitErr = fmt.Errorf("download: %w", coreerr.ErrOperationCancelled)
			break submitLoop
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			submitErr = fmt.Errorf("download: %w", coreerr.ErrOperationCancelled)
			break submitLoop
		}

		wg.Add(1)
		go func(idx int, c ChunkInfo) {
			defer wg.Done()
			defer sem.Release(1)

			err := downloadChunk(ctx, opts, url, out, &fileMu, &c, tracker.add)
			metaMu.Lock()
			meta.Chunks[idx] = c
			_ = saveMetadata(finalPath, meta)
			metaMu.Unlock()
			if err != nil {
				errCh <- err
			}
		}(i, chunk)
	}

	// Wait for every already-launched chunk goroutine to unwind before
	// returning on any path: they hold the staging file handle closed
	// by the deferred out.Close() above, so returning early while they
	// are still mid read/WriteAt would race a closed file.
	wg.Wait()
	close(errCh)

	if submitErr != nil {
		return false, submitErr
	}
	for err := range errCh {
		if err != nil {
			return false, err
		}
	}

	if err := out.Close(); err != nil {
		return false, fmt.Errorf("download: finalize: %w", err)
	}

	info, err := os.Stat(stage)
	if err != nil {
		return false, fmt.Errorf("download: stat staging file: %w", err)
	}
	if info.Size() != pr.totalSize {
		return false, fmt.Errorf("download: %w: staged size %d != expected %d", coreerr.ErrNetwork, info.Size(), pr.totalSize)
	}

	if err := os.Rename(stage, finalPath); err != nil {
		return false, fmt.Errorf("download: finalize rename: %w", err)
	}
	removeMetadata(finalPath)

	if progress != nil {
		progress(pr.totalSize, pr.totalSize, 0, 0)
	}
	return true, nil
}

func (m Metadata) downloadedTotal() int64 {
	var sum int64
	for _, c := range m.Chunks {
		sum += c.DownloadedBytes
	}
	return sum
}

// createSparseFile creates finalPath's staging file pre-sized to
// size, using Truncate to punch a hole rather than writing zeroes.
func createSparseFile(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

// downloadChunk fetches c's byte range with retry, writing bytes at
// their absolute file offset under fileMu.
func downloadChunk(ctx context.Context, opts Options, url string, out *os.File, fileMu *sync.Mutex, c *ChunkInfo, onBytes func(int64)) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("download: %w", coreerr.ErrOperationCancelled)
		}

		err := attemptChunk(ctx, opts, url, out, fileMu, c, onBytes)
		if err == nil {
			c.Completed = true
			c.LastError = ""
			return nil
		}
		if coreerr.IsCancelled(err) {
			return err
		}

		c.RetryCount++
		c.LastError = err.Error()
		if attempt+1 >= opts.MaxRetryAttempts {
			return fmt.Errorf("download: chunk %d: %w", c.Index, err)
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return fmt.Errorf("download: %w", coreerr.ErrOperationCancelled)
		}
	}
}

func attemptChunk(ctx context.Context, opts Options, url string, out *os.File, fileMu *sync.Mutex, c *ChunkInfo, onBytes func(int64)) error {
	start := c.StartByte + c.DownloadedBytes
	if start > c.EndByte {
		return nil // already complete
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, c.EndByte))

	resp, err := opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		return nil // already fully satisfied
	case http.StatusPartialContent:
		// proceed; body starts at start, as expected.
	case http.StatusOK:
		// The server ignored the Range header and sent the whole
		// resource from byte 0. That's only safe to treat as this
		// chunk's data when the chunk itself starts at byte 0 —
		// otherwise writing it at offset start would corrupt the
		// file with data that actually belongs earlier in it.
		if start != 0 {
			return fmt.Errorf("%w: server returned 200 instead of 206 for range bytes=%d-%d", coreerr.ErrRangeNotSupported, start, c.EndByte)
		}
	default:
		return fmt.Errorf("%w: HTTP %d", coreerr.ErrNetwork, resp.StatusCode)
	}

	buf := chunkBufPool.get()
	defer chunkBufPool.put(buf)

	offset := start
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w", coreerr.ErrOperationCancelled)
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			fileMu.Lock()
			_, werr := out.WriteAt(buf[:n], offset)
			fileMu.Unlock()
			if werr != nil {
				return werr
			}
			offset += int64(n)
			c.DownloadedBytes += int64(n)
			if onBytes != nil {
				onBytes(int64(n))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("%w: %v", coreerr.ErrNetwork, rerr)
		}
	}
	return nil
}
