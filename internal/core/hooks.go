package core

import (
	"context"
	"fmt"
	"sync"
)

// PostLoadFunc runs after the last batch of a file was written to table.
// A returned error moves the job to the error stage; rows stay committed.
type PostLoadFunc func(ctx context.Context, table TableRef, inserted int64) error

var (
	hooks   = make(map[string]PostLoadFunc)
	hooksMu sync.RWMutex
)

// RegisterPostLoad adds a hook for a table, keyed "schema.name".
// Panics if the table already has a hook.
func RegisterPostLoad(table string, fn PostLoadFunc) {
	hooksMu.Lock()
	defer hooksMu.Unlock()

	if _, exists := hooks[table]; exists {
		panic(fmt.Sprintf("post-load hook already registered: %s", table))
	}
	hooks[table] = fn
}

// PostLoadHook returns the hook for table, if any.
func PostLoadHook(table TableRef) (PostLoadFunc, bool) {
	hooksMu.RLock()
	defer hooksMu.RUnlock()

	fn, ok := hooks[table.String()]
	return fn, ok
}

// ClearHooks removes all registered hooks.
// Primarily useful for testing.
func ClearHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = make(map[string]PostLoadFunc)
}
