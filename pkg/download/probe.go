package download

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
)

const (
	minChunkSize     = 1 << 20  // 1 MiB
	defaultChunkSize = 10 << 20 // 10 MiB
	maxHardChunks    = 8
)

// probeResult is what a HEAD or ranged-GET probe learns about the
// remote resource.
type probeResult struct {
	totalSize    int64
	rangeSupport bool
}

// probe determines the remote file's size and whether it accepts
// byte-range requests, per spec.md §4.4 step 1.
func probe(ctx context.Context, client *http.Client, url string) (probeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err == nil {
		if resp, err := client.Do(req); err == nil {
			defer resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.ContentLength > 0 {
				return probeResult{
					totalSize:    resp.ContentLength,
					rangeSupport: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
				}, nil
			}
		}
	}

	// HEAD failed or lacked a usable length; fall back to a small
	// ranged GET and parse Content-Range.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return probeResult{}, fmt.Errorf("download: build probe request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-1023")

	resp, err := client.Do(req)
	if err != nil {
		return probeResult{}, fmt.Errorf("download: %w: %v", coreerr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPartialContent {
		total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if ok {
			return probeResult{totalSize: total, rangeSupport: true}, nil
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.ContentLength > 0 {
		return probeResult{totalSize: resp.ContentLength, rangeSupport: false}, nil
	}

	return probeResult{}, fmt.Errorf("download: %w: could not determine content length", coreerr.ErrNetwork)
}

// parseContentRangeTotal extracts N from "bytes a-b/N".
func parseContentRangeTotal(header string) (int64, bool) {
	i := strings.LastIndexByte(header, '/')
	if i < 0 || i == len(header)-1 {
		return 0, false
	}
	total, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}

// planChunks derives the chunk layout for a total-size download, per
// spec.md §4.4 step 2.
func planChunks(total int64, rangeSupport bool, maxParallelChunks int) []ChunkInfo {
	if !rangeSupport {
		return []ChunkInfo{{Index: 0, StartByte: 0, EndByte: total - 1}}
	}

	chunkSize := clampChunkSize(total, maxParallelChunks)
	var chunks []ChunkInfo
	for start, idx := int64(0), 0; start < total; idx++ {
		end := start + chunkSize - 1
		if end >= total {
			end = total - 1
		}
		chunks = append(chunks, ChunkInfo{Index: idx, StartByte: start, EndByte: end})
		start = end + 1
	}
	return chunks
}

// clampChunkSize picks a chunk size proportional to total/maxParallelChunks,
// bounded to [1 MiB, 10 MiB].
func clampChunkSize(total int64, maxParallelChunks int) int64 {
	if maxParallelChunks < 1 {
		maxParallelChunks = 1
	}
	size := total / int64(maxParallelChunks)
	if size < minChunkSize {
		size = minChunkSize
	}
	if size > defaultChunkSize {
		size = defaultChunkSize
	}
	return size
}
