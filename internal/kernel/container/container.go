// Package container implements the service container (C1): a
// name-indexed table of service instances plus the ordered list of
// graceful/force shutdown handlers registered against it.
package container

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/kernel/pkg/kernelerrors"
)

// Record is a registered service's entry in the container.
type Record struct {
	Name      string
	Instance  interface{}
	Priority  int
	CreatedAt time.Time
}

// ShutdownKind distinguishes the two shutdown phases C9 drives.
type ShutdownKind string

const (
	ShutdownGraceful ShutdownKind = "GRACEFUL"
	ShutdownForce    ShutdownKind = "FORCE"
)

// ShutdownHandler is one entry in the ordered shutdown list.
type ShutdownHandler struct {
	Name     string
	Kind     ShutdownKind
	Handler  func() error
	Timeout  time.Duration
	Priority int
}

// Container is the service container. Registration happens only during
// Phase 1/Phase 2; after bootstrap completes it is read-mostly and safe
// for concurrent lookups without external locking by callers.
type Container struct {
	mu       sync.RWMutex
	services map[string]*Record
	order    []string

	shutdownMu sync.Mutex
	shutdown   []ShutdownHandler
}

// New returns an empty Container.
func New() *Container {
	return &Container{
		services: make(map[string]*Record),
	}
}

// Register adds a named service instance. Returns DUPLICATE_SERVICE if
// the name is already taken.
func (c *Container) Register(name string, instance interface{}, priority int) error {
	if name == "" {
		return kernelerrors.New(kernelerrors.CodeDuplicateService, "service name required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; exists {
		return kernelerrors.New(kernelerrors.CodeDuplicateService, fmt.Sprintf("service %q already registered", name))
	}

	c.services[name] = &Record{
		Name:      name,
		Instance:  instance,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	c.order = append(c.order, name)
	return nil
}

// Get returns the instance registered under name, or nil if absent.
// Never returns an error: callers decide whether a nil result is fatal.
func (c *Container) Get(name string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rec, ok := c.services[name]; ok {
		return rec.Instance
	}
	return nil
}

// Has reports whether a service is registered under name.
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.services[name]
	return ok
}

// Unregister removes a service. Registration is not expected to happen
// after Phase 2, but tests and module teardown use this.
func (c *Container) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// List returns every registered service's name and priority, in
// registration order.
func (c *Container) List() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, 0, len(c.order))
	for _, name := range c.order {
		if rec, ok := c.services[name]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// RequireAll verifies every name in names resolves via Get. Used by C5
// at the end of Phase 2 to enforce the universal invariant that every
// advertised service actually resolves once the process is ready.
func (c *Container) RequireAll(names []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	for _, name := range names {
		if _, ok := c.services[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return kernelerrors.New(kernelerrors.CodeRequiredServiceMissing,
			fmt.Sprintf("services not resolvable after phase 2: %v", missing))
	}
	return nil
}

// RegisterShutdown appends a shutdown handler to the ordered list. Order
// among handlers of the same kind is established at shutdown time by
// ascending priority (lower runs first), ties broken by registration
// order.
func (c *Container) RegisterShutdown(name string, kind ShutdownKind, handler func() error, timeout time.Duration, priority int) {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	c.shutdown = append(c.shutdown, ShutdownHandler{
		Name:     name,
		Kind:     kind,
		Handler:  handler,
		Timeout:  timeout,
		Priority: priority,
	})
}

// ShutdownHandlers returns the handlers of the given kind, sorted by
// ascending priority with registration order as the tie-break.
func (c *Container) ShutdownHandlers(kind ShutdownKind) []ShutdownHandler {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()

	var matched []ShutdownHandler
	for _, h := range c.shutdown {
		if h.Kind == kind {
			matched = append(matched, h)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}
