package procedure

import (
	"sort"
	"strings"
	"sync"

	"github.com/dshills/procedure-go/procedure/document"
)

// Registry resolves step names to implementations.
type Registry[S any] interface {
	// Resolve returns the step registered under name, or a *LookupError.
	Resolve(name string) (Step[S], error)
}

// MapRegistry is a Registry filled at init time.
//
//	reg := procedure.NewMapRegistry[Project]()
//	_ = reg.Register("h_init", initStep)
type MapRegistry[S any] struct {
	mu    sync.RWMutex
	steps map[string]Step[S]
}

// NewMapRegistry creates an empty registry.
func NewMapRegistry[S any]() *MapRegistry[S] {
	return &MapRegistry[S]{steps: make(map[string]Step[S])}
}

// Register adds step under name. Empty names, nil steps, duplicates and the
// reserved breakpoint marker name are rejected.
func (r *MapRegistry[S]) Register(name string, step Step[S]) error {
	if strings.TrimSpace(name) == "" {
		return &EngineError{Message: "step name cannot be empty", Code: "INVALID_STEP"}
	}
	if step == nil {
		return &EngineError{Message: "step cannot be nil: " + name, Code: "INVALID_STEP"}
	}
	if name == document.BreakpointStep {
		return &EngineError{Message: "step name is reserved: " + name, Code: "RESERVED_STEP"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[name]; exists {
		return &EngineError{Message: "duplicate step name: " + name, Code: "DUPLICATE_STEP"}
	}
	r.steps[name] = step
	return nil
}

// MustRegister is Register that panics on error, for init-time tables.
func (r *MapRegistry[S]) MustRegister(name string, step Step[S]) {
	if err := r.Register(name, step); err != nil {
		panic(err)
	}
}

// Resolve implements Registry.
func (r *MapRegistry[S]) Resolve(name string) (Step[S], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	step, ok := r.steps[name]
	if !ok {
		return nil, &LookupError{Name: name}
	}
	return step, nil
}

// Names returns the registered names, sorted.
func (r *MapRegistry[S]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
