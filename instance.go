package realm

import (
	"io/fs"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/moniker"
)

// InstanceState is the lifecycle state of a component instance.
type InstanceState int

const (
	StateDiscovered InstanceState = iota
	StateResolved
	StateStarted
	StateStopped
	StateDestroyed
)

func (s InstanceState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateResolved:
		return "resolved"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// resolved reports whether an instance in state s has a declaration.
func (s InstanceState) resolved() bool {
	return s == StateResolved || s == StateStarted || s == StateStopped
}

// Execution is the runtime state of a started instance.
type Execution struct {
	ID          string
	Runner      string
	ResolvedURL string
	Controller  Controller
	Namespace   *Namespace
	Outgoing    *Directory
	StartedAt   time.Time
}

// ComponentInstance is a node in the component tree. Instances refer to
// their parent by moniker only; the parent is found through the root.
type ComponentInstance struct {
	moniker    moniker.Moniker
	url        string
	startup    decl.StartupMode
	durability decl.Durability

	// actionMu serializes lifecycle actions on this instance.
	actionMu sync.Mutex
	// destroying is set before a destroy waits for actionMu.
	destroying atomic.Bool

	mu          sync.RWMutex
	state       InstanceState
	decl        *decl.ComponentDecl
	resolvedURL string
	pkg         fs.FS
	children    map[moniker.ChildName]*ComponentInstance
	nextID      map[moniker.ChildName]uint64
	execution   *Execution
}

func newInstance(m moniker.Moniker, componentURL string, startup decl.StartupMode, durability decl.Durability) *ComponentInstance {
	return &ComponentInstance{
		moniker:    m,
		url:        componentURL,
		startup:    startup,
		durability: durability,
		children:   make(map[moniker.ChildName]*ComponentInstance),
		nextID:     make(map[moniker.ChildName]uint64),
	}
}

// Moniker returns the instance's moniker, instance ids included.
func (c *ComponentInstance) Moniker() moniker.Moniker { return c.moniker }

// URL returns the component URL the instance was declared with.
func (c *ComponentInstance) URL() string { return c.url }

// Startup returns the startup mode of a static child.
func (c *ComponentInstance) Startup() decl.StartupMode { return c.startup }

// State returns the current lifecycle state.
func (c *ComponentInstance) State() InstanceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Decl returns the resolved declaration, nil before resolution.
func (c *ComponentInstance) Decl() *decl.ComponentDecl {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decl
}

// ResolvedURL returns the URL reported by the resolver.
func (c *ComponentInstance) ResolvedURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolvedURL
}

// Execution returns the current execution, nil unless Started.
func (c *ComponentInstance) Execution() *Execution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.execution
}

// Destroying reports whether a destroy of this instance or an ancestor is
// in progress or done.
func (c *ComponentInstance) Destroying() bool {
	return c.destroying.Load()
}

// Children returns the live children sorted by moniker text.
func (c *ComponentInstance) Children() []*ComponentInstance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.childrenLocked()
}

func (c *ComponentInstance) childrenLocked() []*ComponentInstance {
	out := make([]*ComponentInstance, 0, len(c.children))
	for _, child := range c.children {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].moniker.String() < out[j].moniker.String()
	})
	return out
}

// Child returns the live child matching name. A zero instance id in name
// matches any instance.
func (c *ComponentInstance) Child(name moniker.ChildName) (*ComponentInstance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	child, ok := c.children[name.Key()]
	if !ok {
		return nil, false
	}
	leaf, _ := child.moniker.Leaf()
	if !name.Matches(leaf) {
		return nil, false
	}
	return child, true
}

// markDestroying flags c and every descendant. The flag is set under mu so
// a concurrent resolve either sees it or attaches children before the walk.
func (c *ComponentInstance) markDestroying() {
	c.mu.Lock()
	c.destroying.Store(true)
	children := c.childrenLocked()
	c.mu.Unlock()
	for _, child := range children {
		child.markDestroying()
	}
}

// depth returns the depth of the deepest live descendant.
func (c *ComponentInstance) depth() int {
	deepest := c.moniker.Depth()
	for _, child := range c.Children() {
		if d := child.depth(); d > deepest {
			deepest = d
		}
	}
	return deepest
}
