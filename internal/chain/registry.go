package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// InvokeFunc is a capability body. Args and result are JSON-shaped maps.
type InvokeFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// ArgSpec describes one argument a capability accepts.
type ArgSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// Descriptor is the machine-readable description of a capability, presented
// to the oracle so it knows what it can ask for.
type Descriptor struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Args        []ArgSpec `yaml:"args,omitempty"`
}

// PrimaryArg returns the argument name the natural-language grammar binds a
// quoted value to: the first required argument, else the first argument,
// else "value".
func (d Descriptor) PrimaryArg() string {
	for _, a := range d.Args {
		if a.Required {
			return a.Name
		}
	}
	if len(d.Args) > 0 {
		return d.Args[0].Name
	}
	return "value"
}

// NotFoundError is returned by Invoke for capabilities that were never
// registered.
type NotFoundError struct {
	Capability string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("capability %q not found", e.Capability)
}

// ExecError is returned by Invoke when a capability body fails, panics, or
// produces a result that cannot be serialized as JSON.
type ExecError struct {
	Capability string
	Message    string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("capability %q: %s", e.Capability, e.Message)
}

type capability struct {
	desc   Descriptor
	invoke InvokeFunc
}

// Registry maps capability names to invocable functions and their
// descriptors. Safe for concurrent lookups; registration happens at
// construction time.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]*capability
	order []string
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*capability)}
}

// Register adds a capability. Registering two capabilities under the same
// name is a configuration error and is rejected.
func (r *Registry) Register(desc Descriptor, fn InvokeFunc) error {
	if desc.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if fn == nil {
		return fmt.Errorf("capability %q: invoke function is required", desc.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[desc.Name]; exists {
		return fmt.Errorf("capability %q already registered", desc.Name)
	}
	r.caps[desc.Name] = &capability{desc: desc, invoke: fn}
	r.order = append(r.order, desc.Name)
	return nil
}

// Has reports whether a capability is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[name]
	return ok
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.desc, true
}

// Describe returns all descriptors in registration order.
func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.caps[name].desc)
	}
	return descs
}

// Invoke runs the named capability. It never panics: a missing name yields
// *NotFoundError, and a capability body that returns an error, panics, or
// produces an unserializable result yields *ExecError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (out map[string]any, err error) {
	r.mu.RLock()
	c, ok := r.caps[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Capability: name}
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = &ExecError{Capability: name, Message: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	result, invokeErr := c.invoke(ctx, args)
	if invokeErr != nil {
		return nil, &ExecError{Capability: name, Message: invokeErr.Error()}
	}
	if result != nil {
		if _, jsonErr := json.Marshal(result); jsonErr != nil {
			return nil, &ExecError{Capability: name, Message: fmt.Sprintf("result is not JSON-serializable: %v", jsonErr)}
		}
	}
	return result, nil
}
