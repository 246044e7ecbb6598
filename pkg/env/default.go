package env

import "sync"

var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the process-wide Store, initializing it on first
// call.
func Default() *Store {
	defaultOnce.Do(func() {
		defaultStore = New()
	})
	return defaultStore
}
