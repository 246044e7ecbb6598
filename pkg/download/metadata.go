// Package download implements a resumable, chunked HTTP(S)
// downloader: probing for range support, planning chunk boundaries,
// persisting progress to a sidecar so an interrupted download can
// resume, and reassembling the final file atomically.
package download

import (
	"encoding/json"
	"os"
	"time"
)

// ChunkInfo tracks one byte-range segment of the target file.
type ChunkInfo struct {
	Index           int   `json:"index"`
	StartByte       int64 `json:"startByte"`
	EndByte         int64 `json:"endByte"` // inclusive
	DownloadedBytes int64 `json:"downloadedBytes"`
	Completed       bool  `json:"completed"`
	LastError       string `json:"lastError,omitempty"`
	RetryCount      int   `json:"retryCount"`
}

func (c ChunkInfo) size() int64 { return c.EndByte - c.StartByte + 1 }
func (c ChunkInfo) remaining() int64 {
	return c.size() - c.DownloadedBytes
}

// Metadata is the persisted state of an in-progress download.
type Metadata struct {
	URL         string      `json:"url"`
	FileName    string      `json:"fileName"`
	TotalSize   int64       `json:"totalSize"`
	ChunkSize   int64       `json:"chunkSize"`
	Chunks      []ChunkInfo `json:"chunks"`
	StartedAt   time.Time   `json:"startedAt"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

func metadataPath(finalPath string) string { return finalPath + ".download.metadata" }
func stagingPath(finalPath string) string  { return finalPath + ".download" }

// loadMetadata reads a persisted sidecar for finalPath, returning
// (meta, true) only if it exists, parses, and matches url. Only the
// URL is compared: a change in the remote file's size or ETag behind
// the same URL is not detected.
func loadMetadata(finalPath, url string) (Metadata, bool) {
	data, err := os.ReadFile(metadataPath(finalPath))
	if err != nil {
		return Metadata{}, false
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, false
	}
	if m.URL != url {
		return Metadata{}, false
	}
	return m, true
}

func saveMetadata(finalPath string, m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metadataPath(finalPath), data, 0o644)
}

func removeMetadata(finalPath string) {
	_ = os.Remove(metadataPath(finalPath))
}
