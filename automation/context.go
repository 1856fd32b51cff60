package automation

import "sort"

// NavigationID identifies one in-flight navigation. The scheduler treats it as opaque.
type NavigationID string

// ExecutionContext is the state threaded through a script run: the key/value
// environment, whether the current document finished loading, and the set of
// navigations the page has not finished yet.
//
// Steps always receive a clone, so a step never sees another step's
// uncommitted changes.
type ExecutionContext struct {
	Environment map[string]string `json:"environment"`
	HasLoaded   bool              `json:"has_loaded"`

	navigations map[NavigationID]struct{}
}

// NewExecutionContext creates a context seeded with a copy of env.
func NewExecutionContext(env map[string]string) *ExecutionContext {
	ec := &ExecutionContext{
		Environment: make(map[string]string, len(env)),
		navigations: make(map[NavigationID]struct{}),
	}
	for k, v := range env {
		ec.Environment[k] = v
	}
	return ec
}

// Clone returns a deep copy. Cloning a nil context yields an empty one.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return NewExecutionContext(nil)
	}
	clone := NewExecutionContext(c.Environment)
	clone.HasLoaded = c.HasLoaded
	for id := range c.navigations {
		clone.navigations[id] = struct{}{}
	}
	return clone
}

// IsLoading reports whether any navigation is still in flight.
func (c *ExecutionContext) IsLoading() bool {
	return len(c.navigations) > 0
}

// ActiveNavigations returns the in-flight navigation tokens in sorted order.
func (c *ExecutionContext) ActiveNavigations() []NavigationID {
	ids := make([]NavigationID, 0, len(c.navigations))
	for id := range c.navigations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get looks up key in the environment.
func (c *ExecutionContext) Get(key string) (string, bool) {
	v, ok := c.Environment[key]
	return v, ok
}

// Set stores value under key.
func (c *ExecutionContext) Set(key, value string) {
	if c.Environment == nil {
		c.Environment = make(map[string]string)
	}
	c.Environment[key] = value
}

// Delete removes key from the environment.
func (c *ExecutionContext) Delete(key string) {
	delete(c.Environment, key)
}

func (c *ExecutionContext) addNavigation(id NavigationID) {
	if c.navigations == nil {
		c.navigations = make(map[NavigationID]struct{})
	}
	c.navigations[id] = struct{}{}
}

func (c *ExecutionContext) removeNavigation(id NavigationID) bool {
	if _, ok := c.navigations[id]; !ok {
		return false
	}
	delete(c.navigations, id)
	return true
}
