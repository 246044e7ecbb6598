// Package modelpath resolves an abstract (module kind, model id, file
// name) triple to absolute, traversal-checked paths under a single
// injected data root, following the layout spec.md §3/§6 describe:
//
//	<dataRoot>/sherpa-onnx/models/<module-kind-kebab>/<modelId>/<fileName>
package modelpath

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
)

// Resolver resolves paths under a single data root, matching
// spec.md §4.1's "single injected value so tests can redirect it".
type Resolver struct {
	dataRoot string
}

// New creates a Resolver rooted at dataRoot. dataRoot must be
// non-empty; it is not required to exist yet.
func New(dataRoot string) (*Resolver, error) {
	if dataRoot == "" {
		return nil, fmt.Errorf("modelpath: %w: empty data root", coreerr.ErrPrecondition)
	}
	abs, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("modelpath: resolve data root: %w", err)
	}
	return &Resolver{dataRoot: abs}, nil
}

// DataRoot returns the resolver's root directory.
func (r *Resolver) DataRoot() string { return r.dataRoot }

// ModuleRoot returns <dataRoot>/sherpa-onnx/models/<kebab-kind>.
func (r *Resolver) ModuleRoot(kind model.Kind) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("modelpath: %w: empty module kind", coreerr.ErrPrecondition)
	}
	return filepath.Join(r.dataRoot, "sherpa-onnx", "models", kebab(string(kind))), nil
}

// ModelRoot returns <module root>/<modelId>.
func (r *Resolver) ModelRoot(meta model.Metadata) (string, error) {
	if meta.ModelID == "" {
		return "", fmt.Errorf("modelpath: %w: empty model id", coreerr.ErrPrecondition)
	}
	root, err := r.ModuleRoot(meta.ModuleKind)
	if err != nil {
		return "", err
	}
	return r.safeJoin(root, meta.ModelID)
}

// FilePath returns <model root>/<name>.
func (r *Resolver) FilePath(meta model.Metadata, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("modelpath: %w: empty file name", coreerr.ErrPrecondition)
	}
	root, err := r.ModelRoot(meta)
	if err != nil {
		return "", err
	}
	return r.safeJoin(root, name)
}

// StagingPath returns where the archive/file named urlFileName should
// be assembled before extraction: inside the module root if it looks
// compressed, otherwise directly inside the model directory
// (spec.md §3, "Download staging path").
func (r *Resolver) StagingPath(meta model.Metadata, urlFileName string) (string, error) {
	if urlFileName == "" {
		return "", fmt.Errorf("modelpath: %w: empty staging file name", coreerr.ErrPrecondition)
	}
	if IsCompressedName(urlFileName) {
		root, err := r.ModuleRoot(meta.ModuleKind)
		if err != nil {
			return "", err
		}
		return r.safeJoin(root, urlFileName)
	}
	root, err := r.ModelRoot(meta)
	if err != nil {
		return "", err
	}
	return r.safeJoin(root, urlFileName)
}

// safeJoin joins root and elem and asserts the normalized result is
// still inside root (and, transitively, inside the data root),
// rejecting path traversal via ".." or absolute elements.
func (r *Resolver) safeJoin(root, elem string) (string, error) {
	joined := filepath.Join(root, elem)
	rootClean := filepath.Clean(root) + string(filepath.Separator)
	if joined != filepath.Clean(root) && !strings.HasPrefix(joined+string(filepath.Separator), rootClean) {
		return "", fmt.Errorf("modelpath: %w: %q escapes %q", coreerr.ErrSecurity, elem, root)
	}
	dataRootClean := filepath.Clean(r.dataRoot) + string(filepath.Separator)
	if joined != filepath.Clean(r.dataRoot) && !strings.HasPrefix(joined+string(filepath.Separator), dataRootClean) {
		return "", fmt.Errorf("modelpath: %w: %q escapes data root %q", coreerr.ErrSecurity, joined, r.dataRoot)
	}
	return joined, nil
}

// compressedSuffixes mirrors the archive package's format dispatch
// table (spec.md §4.3), longest suffix first.
var compressedSuffixes = []string{
	".tar.gz", ".tar.bz2", ".tgz", ".tbz2", ".tb2", ".tar", ".zip", ".gz", ".bz2",
}

// IsCompressedName reports whether name carries one of the recognized
// compressed-archive suffixes (case-insensitive).
func IsCompressedName(name string) bool {
	lower := strings.ToLower(name)
	for _, suf := range compressedSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

// kebab converts an already-kebab-case-ish Kind string to a directory
// segment; model.Kind values are already kebab-case, this normalizes
// any incidental casing.
func kebab(s string) string {
	return strings.ToLower(s)
}
