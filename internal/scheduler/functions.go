package scheduler

import (
	"fmt"
	"sync"

	"github.com/R3E-Network/kernel/pkg/kernelerrors"
)

// FunctionRegistry maps a stable name to the Function it dispatches.
// Modules register their scheduler-callable methods here by name
// during Phase 1 or Phase 2; event specs reference functions by that
// name rather than by direct handle.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionRegistry returns an empty FunctionRegistry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]Function)}
}

// Register adds fn under name. Re-registering the same name overwrites
// silently: modules commonly re-register their own functions across
// reloads in tests.
func (r *FunctionRegistry) Register(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
}

// Lookup returns the Function registered under name, or
// FUNCTION_NOT_FOUND if none exists.
func (r *FunctionRegistry) Lookup(name string) (Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[name]
	if !ok {
		return nil, kernelerrors.New(kernelerrors.CodeFunctionNotFound,
			fmt.Sprintf("no function registered under name %q", name))
	}
	return fn, nil
}
