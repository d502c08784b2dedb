package generator

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/jdziat/loaded-handler/pkg/security"
)

var generatorType = reflect.TypeOf((*Generator)(nil)).Elem()

// Registry resolves a HandlerSettings.HandlerName to a fresh Generator
// instance. It is the name-based matching mechanism a Host uses to
// discover the concrete handler type a plugin offers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Generator
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Generator)}
}

// Register binds name to newFn, a zero-argument constructor returning a
// type implementing Generator. newFn's signature is validated by
// reflection at registration time, so a mismatched constructor fails fast
// at startup rather than surfacing later as an Initialize failure.
func (r *Registry) Register(name string, newFn any) {
	if err := security.ValidateHandlerName(name); err != nil {
		panic(fmt.Sprintf("loadedhandler: invalid handler name %q: %v", name, err))
	}

	fnVal := reflect.ValueOf(newFn)
	if !fnVal.IsValid() || fnVal.Kind() != reflect.Func {
		panic(fmt.Sprintf("loadedhandler: generator constructor for %q must be a function", name))
	}

	fnType := fnVal.Type()
	if fnType.NumIn() != 0 || fnType.NumOut() != 1 || !fnType.Out(0).Implements(generatorType) {
		panic(fmt.Sprintf("loadedhandler: generator constructor for %q must have signature func() T, where T implements generator.Generator", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = func() Generator {
		out := fnVal.Call(nil)
		return out[0].Interface().(Generator)
	}
}

// HasHandler reports whether name has a registered constructor.
func (r *Registry) HasHandler(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Resolve instantiates a fresh Generator for name, or reports false if no
// constructor is registered under that name.
func (r *Registry) Resolve(name string) (Generator, bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}
