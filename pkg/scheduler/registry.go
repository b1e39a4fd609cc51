package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// JobFunc is the signature of an invocable job target. The context
// carries the run deadline; well-behaved targets return promptly once
// it is cancelled. The returned string is persisted as run output.
type JobFunc func(ctx context.Context, args []string, kwargs map[string]string) (string, error)

// FuncRegistry maps stable target names to function values. Subsystems
// populate it at startup; registering a job against an unknown name is
// a registration-time error, so there is no deferred-import ambiguity.
type FuncRegistry struct {
	mu    sync.RWMutex
	funcs map[string]JobFunc
}

// NewFuncRegistry creates an empty function registry.
func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{funcs: make(map[string]JobFunc)}
}

// RegisterFunc binds a target name to a function. Rebinding an existing
// name is an error; targets are process-wide constants.
func (r *FuncRegistry) RegisterFunc(name string, fn JobFunc) error {
	if name == "" || fn == nil {
		return util.InvalidInputf("unknown_target", "target name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return util.Conflictf("target_exists", "job target %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Resolve returns the function for a target name. The upstream system
// accepted a "__main__" module reference whose meaning depended on the
// invoking process; that shape is rejected here with a stable error.
func (r *FuncRegistry) Resolve(name string) (JobFunc, error) {
	if name == "__main__" || strings.HasPrefix(name, "__main__.") {
		return nil, util.InvalidInputf("unknown_target", "targets bound to __main__ are not registrable")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, util.InvalidInputf("unknown_target", "unknown job target %q", name)
	}
	return fn, nil
}

// Targets returns the registered target names, sorted.
func (r *FuncRegistry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
