// Package registry is the process-wide, lazily-initialized store of
// model metadata: it loads the default manifest on first access and
// rewrites logical file names to absolute paths on first lookup of
// each model, per spec.md §4.6.
package registry

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
	"github.com/sherpa-go/sherpa-agents-go/pkg/hashcache"
	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
	"github.com/sherpa-go/sherpa-agents-go/pkg/modelpath"
)

//go:embed manifest.json
var defaultManifestJSON []byte

// Registry is a process-wide catalogue of model metadata, keyed by
// ModelID. It resolves ModelFileNames to absolute paths on first
// Get of an entry, using the injected Resolver.
type Registry struct {
	resolver *modelpath.Resolver

	mu        sync.RWMutex
	byID      map[string]model.Metadata
	order     []string
	resolved  map[string]bool // ModelID -> file names already rewritten
	loadedErr error
}

// New returns a Registry that resolves paths under resolver. It does
// not load the manifest yet; the first Get/All/Filter call does.
func New(resolver *modelpath.Resolver) *Registry {
	return &Registry{resolver: resolver}
}

// ensureLoaded parses the embedded default manifest into the
// registry's map, retrying on a prior failure.
func (r *Registry) ensureLoaded() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID != nil {
		return nil
	}

	manifest, err := model.ParseManifest(bytes.NewReader(defaultManifestJSON))
	if err != nil {
		r.loadedErr = fmt.Errorf("registry: load default manifest: %w", err)
		return r.loadedErr
	}

	byID := make(map[string]model.Metadata, len(manifest.Models))
	order := make([]string, 0, len(manifest.Models))
	for _, m := range manifest.Models {
		byID[m.ModelID] = m
		order = append(order, m.ModelID)
	}

	r.byID = byID
	r.order = order
	r.resolved = make(map[string]bool)
	r.loadedErr = nil
	return nil
}

// Get returns the metadata for modelId, rewriting ModelFileNames to
// absolute paths (memoized) on first lookup.
func (r *Registry) Get(modelID string) (model.Metadata, error) {
	if err := r.ensureLoaded(); err != nil {
		return model.Metadata{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[modelID]
	if !ok {
		return model.Metadata{}, fmt.Errorf("registry: %w: model %q", coreerr.ErrNotFound, modelID)
	}

	if !r.resolved[modelID] {
		resolvedNames := make([]string, len(m.ModelFileNames))
		for i, name := range m.ModelFileNames {
			path, err := r.resolver.FilePath(m, name)
			if err != nil {
				return model.Metadata{}, fmt.Errorf("registry: resolve %q for %q: %w", name, modelID, err)
			}
			resolvedNames[i] = path
		}
		m.ModelFileNames = resolvedNames
		r.byID[modelID] = m
		r.resolved[modelID] = true
	}

	return r.byID[modelID].Clone(), nil
}

// All returns every model in the registry, in manifest order, with
// file names left unresolved unless a prior Get already resolved
// them.
func (r *Registry) All() ([]model.Metadata, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Metadata, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out, nil
}

// Filter returns every model for which predicate returns true.
func (r *Registry) Filter(predicate func(model.Metadata) bool) ([]model.Metadata, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	out := make([]model.Metadata, 0, len(all))
	for _, m := range all {
		if predicate(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// ByKind returns every model of the given module kind, sorted by
// ModelID for a stable listing.
func (r *Registry) ByKind(kind model.Kind) ([]model.Metadata, error) {
	out, err := r.Filter(func(m model.Metadata) bool { return m.ModuleKind == kind })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

// Status reports, per model id, whether every file of every model of
// the given kind already verifies on disk (existing and hash-matching
// where a hash is known). An empty kind checks every registered
// model. Verification runs concurrently across models but is
// otherwise identical to what PrepareModel's own pre-download check
// performs.
func (r *Registry) Status(kind model.Kind) (map[string]bool, error) {
	var models []model.Metadata
	var err error
	if kind == "" {
		models, err = r.All()
	} else {
		models, err = r.ByKind(kind)
	}
	if err != nil {
		return nil, err
	}

	status := make(map[string]bool, len(models))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, entry := range models {
		wg.Add(1)
		go func(modelID string) {
			defer wg.Done()
			// Get, not the unresolved entry from All/ByKind, so
			// ModelFileNames is the absolute, resolver-joined path
			// hashcache.VerifyFile needs.
			m, err := r.Get(modelID)
			if err != nil {
				mu.Lock()
				status[modelID] = false
				mu.Unlock()
				return
			}
			complete := true
			for i, path := range m.ModelFileNames {
				res := hashcache.VerifyFile(context.Background(), path, m.FileHash(i), nil)
				if res.Outcome != hashcache.OutcomeSuccess && res.Outcome != hashcache.OutcomeCacheHit {
					complete = false
					break
				}
			}
			mu.Lock()
			status[modelID] = complete
			mu.Unlock()
		}(entry.ModelID)
	}
	wg.Wait()

	return status, nil
}

// Reset clears the loaded manifest so the next call reloads it. It
// exists for tests that need a clean registry between cases.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = nil
	r.order = nil
	r.resolved = nil
	r.loadedErr = nil
}
