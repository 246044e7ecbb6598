package registry

import (
	"sync"

	"github.com/sherpa-go/sherpa-agents-go/pkg/modelpath"
)

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide Registry, constructing it against
// resolver on first call. Subsequent calls ignore resolver and return
// the existing instance; callers that need a distinct resolver (e.g.
// in tests) should use New directly instead.
func Default(resolver *modelpath.Resolver) *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = New(resolver)
	}
	return defaultRegistry
}
