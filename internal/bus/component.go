// Package bus implements the component event bus kernel: the
// event/handler data model, the channel index, the manager, and the
// run loop. It has no wire protocol and no file format; its boundary
// is the in-process API exposed by *Component.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

// queuedEvent is one entry on a manager's FIFO. target is typed any
// because push defers target resolution (string vs. *Component) to
// send time.
type queuedEvent struct {
	event   *Event
	channel string
	target  any
}

// Component merges the roles of manager and component into a single
// type, favoring composition over a Manager/BaseComponent/Component
// inheritance chain. Every Component carries the full set of manager
// fields; only the fields on the true root of a tree (manager == self)
// are authoritative for dispatch — see DESIGN.md for the rationale.
type Component struct {
	// ID is an arena-style handle for modeling cyclic ownership
	// without raw pointers held by the root. Components are still
	// addressed by pointer within a process, but ID gives external
	// collaborators (the monitor dashboard, log lines) a stable,
	// serializable identity.
	ID uuid.UUID

	// Channel is this component's default target namespace. Empty
	// means unscoped.
	Channel string

	// impl supplies the explicit handler table: Go has no runtime
	// method introspection, so auto-promotion becomes an explicit
	// HandlerSource implementation.
	impl HandlerSource

	// tick is invoked once per run-loop iteration before the drain,
	// if impl also implements Ticker.
	tick Ticker

	mu sync.Mutex // guards queue only; see DESIGN.md on the concurrency model.

	queue []queuedEvent

	handlers map[*Handler]struct{}
	channels *channelIndex

	components map[*Component]struct{} // direct children, tracked at this node
	hidden     map[*Component]struct{} // promoted grandchildren, root-only
	ticks      map[*Component]Ticker   // root-only

	manager *Component // self (root) or the true root of this tree
	parent  *Component // logical tree owner; distinct from manager once promoted

	runState
}

// Ticker is implemented by components that need to do non-blocking
// periodic work once per run-loop iteration.
type Ticker interface {
	Tick()
}

// NewComponent creates a Component that is its own root. impl supplies
// the handler table (may be nil for a component with no handlers of
// its own, e.g. a pure routing node). If impl also implements Ticker,
// its Tick method is registered automatically.
func NewComponent(channel string, impl HandlerSource) *Component {
	c := &Component{
		ID:         uuid.New(),
		Channel:    channel,
		impl:       impl,
		handlers:   make(map[*Handler]struct{}),
		channels:   newChannelIndex(),
		components: make(map[*Component]struct{}),
		hidden:     make(map[*Component]struct{}),
		ticks:      make(map[*Component]Ticker),
	}
	if t, ok := impl.(Ticker); ok {
		c.tick = t
	}
	c.manager = c
	c.parent = c
	if t := c.tick; t != nil {
		c.ticks[c] = t
	}
	return c
}

// Root walks the manager chain to the true root. After Register,
// manager always points directly at the root (no multi-hop chains),
// so this degenerates to a single check; the loop exists for safety.
func (c *Component) Root() *Component {
	r := c
	for r.manager != r {
		r = r.manager
	}
	return r
}

// IsRoot reports whether c is the root of its tree.
func (c *Component) IsRoot() bool {
	return c.manager == c
}

// ownHandlers returns the handler descriptors declared by c's impl, or
// nil when c has no HandlerSource.
func (c *Component) ownHandlers() []*Handler {
	if c.impl == nil {
		return nil
	}
	return c.impl.Handlers()
}
