package hashcache

import (
	"os"
	"strings"
	"time"
)

// The sidecar format is two lines (spec.md §6): the source file's
// last-write time in round-trip RFC 3339, then the lowercase hex
// digest.

func sidecarPath(path string) string { return path + ".sha256" }

// readCache returns the cached digest for path if the sidecar exists
// and its recorded mtime equals the file's current mtime; a sidecar
// with any other mtime is removed.
func readCache(path string, info os.FileInfo) (digest string, ok bool) {
	data, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return "", false
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return "", false
	}
	cachedMtime, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(lines[0]))
	if err != nil {
		return "", false
	}
	if !cachedMtime.Equal(info.ModTime()) {
		// The file changed since it was hashed: stale, remove so a
		// subsequent verify does not keep consulting it.
		_ = os.Remove(sidecarPath(path))
		return "", false
	}
	digest = strings.ToLower(strings.TrimSpace(lines[1]))
	if digest == "" {
		return "", false
	}
	return digest, true
}

// writeCache persists the (mtime, digest) pair for path.
func writeCache(path, digest string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	contents := info.ModTime().Format(time.RFC3339Nano) + "\n" + strings.ToLower(digest) + "\n"
	return os.WriteFile(sidecarPath(path), []byte(contents), 0o644)
}

// InvalidateCache removes the sidecar for path, if any.
func InvalidateCache(path string) {
	_ = os.Remove(sidecarPath(path))
}
