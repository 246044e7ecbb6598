package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
)

// safeJoin resolves entryName under destDir and rejects any entry
// whose normalized path escapes destDir, per spec.md §4.3.
func safeJoin(destDir, entryName string) (string, error) {
	// Archive entries use forward slashes regardless of host OS.
	cleanEntry := filepath.Clean(strings.ReplaceAll(entryName, "\\", "/"))
	joined := filepath.Join(destDir, cleanEntry)

	destClean := filepath.Clean(destDir) + string(filepath.Separator)
	if joined != filepath.Clean(destDir) && !strings.HasPrefix(joined+string(filepath.Separator), destClean) {
		return "", fmt.Errorf("archive: %w: entry %q escapes %q", coreerr.ErrSecurity, entryName, destDir)
	}
	return joined, nil
}
