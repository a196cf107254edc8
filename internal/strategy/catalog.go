package strategy

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrDuplicateLabel  = errors.New("strategy label already registered")
)

// Catalog is the ordered set of registered instances and the single active
// one. Instances are never removed once registered.
type Catalog struct {
	mu        sync.RWMutex
	instances []*Instance
	index     map[string]int
	active    *Instance
}

func NewCatalog() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Register adds inst as inactive.
func (c *Catalog) Register(inst *Instance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.index[inst.Label()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateLabel, inst.Label())
	}
	c.index[inst.Label()] = len(c.instances)
	c.instances = append(c.instances, inst)
	return nil
}

// Get returns the instance registered under label.
func (c *Catalog) Get(label string) (*Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[label]
	if !ok {
		return nil, false
	}
	return c.instances[i], true
}

// Labels returns registered labels in registration order.
func (c *Catalog) Labels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.instances))
	for i, inst := range c.instances {
		out[i] = inst.Label()
	}
	return out
}

// Instances returns registered instances in registration order.
func (c *Catalog) Instances() []*Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Instance(nil), c.instances...)
}

// Activate makes label the active instance, deactivating any other in the
// same step.
func (c *Catalog) Activate(label string) (*Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, label)
	}
	c.active = c.instances[i]
	return c.active, nil
}

// Deactivate clears the active instance and returns the one it cleared.
func (c *Catalog) Deactivate() *Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.active
	c.active = nil
	return prev
}

// Active returns the active instance or nil.
func (c *Catalog) Active() *Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// IsActive reports whether label is the active instance.
func (c *Catalog) IsActive(label string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active != nil && c.active.Label() == label
}
