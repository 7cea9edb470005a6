package auth

import "sync"

var (
	defaultMu    sync.Mutex
	defaultStore *Store
)

// Default returns the process-wide store, creating it with default options on first use.
func Default() *Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultStore == nil {
		defaultStore = NewStore()
	}
	return defaultStore
}

// ResetDefault discards the process-wide store so the next Default call starts
// from a fresh, logged out one. Callers still holding the old store keep using it.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStore = nil
}
