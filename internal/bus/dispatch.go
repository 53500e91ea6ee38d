package bus

import (
	"fmt"
	"runtime/debug"
)

// InterruptSignal is the sentinel a handler or tick panics with to
// request immediate shutdown of the run loop, the one case that is
// never reified as an Error event. Ordinary errors
// should be returned normally or panic with any other value; only
// InterruptSignal gets this special, non-catching treatment.
var InterruptSignal = &interruptSignal{}

type interruptSignal struct{}

func (*interruptSignal) Error() string { return "bus: interrupt" }

// resolveTarget turns a push/send target argument into the string the
// channel index understands. Accepts nil, string, or *Component
// (substituting the component's Channel).
func resolveTarget(target any) string {
	switch t := target.(type) {
	case nil:
		return ""
	case string:
		return t
	case *Component:
		return t.Channel
	default:
		return ""
	}
}

// Push appends (event, channel, target) to the root's queue. If target
// resolves empty and c has a default Channel, that Channel is used
// instead. Safe to call from any goroutine, including concurrently
// with a running loop — this is the bus's one externally synchronized
// entry point.
func (c *Component) Push(event *Event, channel string, target any) {
	if resolveTarget(target) == "" && c.Channel != "" {
		target = c.Channel
	}
	root := c.manager
	if root == c {
		root.mu.Lock()
		root.queue = append(root.queue, queuedEvent{event: event, channel: channel, target: target})
		root.mu.Unlock()
		return
	}
	root.Push(event, channel, target)
}

// Flush drains every event currently queued on the root, dispatching
// each through Send in FIFO order. Events pushed during the drain are
// queued into the *new* queue and are not processed until the next
// Flush call — no re-entrant infinite loop within one flush.
func (c *Component) Flush() {
	root := c.manager
	if root != c {
		root.Flush()
		return
	}

	root.mu.Lock()
	batch := root.queue
	root.queue = nil
	root.mu.Unlock()

	for _, qe := range batch {
		root.Send(qe.event, qe.channel, qe.target)
	}
}

// SendOption configures a single Send call.
type SendOption func(*sendOpts)

type sendOpts struct {
	errors bool
	log    bool
}

// WithErrors makes Send re-raise (panic) a handler's error after
// optionally logging it, instead of swallowing it.
func WithErrors() SendOption { return func(o *sendOpts) { o.errors = true } }

// WithoutLog suppresses the Error event a failing handler would
// otherwise generate.
func WithoutLog() SendOption { return func(o *sendOpts) { o.log = false } }

// Send dispatches event on channel (optionally scoped to target) to
// every matching handler, in resolution order.
// Filters run first within each bucket and may halt dispatch by
// returning a truthy, non-nil value; Send returns that value, or the
// last handler's return value if no filter halts dispatch, or nil if
// no handler matched.
func (c *Component) Send(event *Event, channel string, target any, opts ...SendOption) any {
	root := c.manager
	if root != c {
		return root.Send(event, channel, target, opts...)
	}

	o := sendOpts{log: true}
	for _, opt := range opts {
		opt(&o)
	}

	targetStr := resolveTarget(target)
	if targetStr == "" && c.Channel != "" {
		targetStr = c.Channel
	}

	event.Channel = channel
	event.Target = targetStr

	dispatchKey := channel
	if targetStr != "" {
		dispatchKey = targetStr + ":" + channel
	}

	var result any
	for _, h := range root.channels.resolve(dispatchKey) {
		r, halted := root.invoke(h, event, o)
		result = r
		if halted {
			return result
		}
	}
	return result
}

// invoke calls one handler, catching any error other than
// InterruptSignal. Returns the handler's result and
// whether a filter halted the dispatch chain.
func (c *Component) invoke(h *Handler, e *Event, o sendOpts) (result any, halted bool) {
	defer func() {
		if r := recover(); r != nil {
			if r == InterruptSignal {
				panic(r) // never caught; propagates out of Send and the run loop
			}
			kind := fmt.Sprintf("%T", r)
			trace := debug.Stack()
			if o.log {
				c.Push(ErrorEvent(kind, r, trace), "error", nil)
			}
			if o.errors {
				panic(r)
			}
			result = nil
			halted = false
		}
	}()

	r := h.invoke(e, e.Args, e.Kwargs)
	if h.Filter && truthy(r) {
		return r, true
	}
	return r, false
}

// truthy reports the same "truthy, non-nil value" rule filters halt
// dispatch on: nil and the
// boolean false are falsy, zero-length strings are falsy, everything
// else is truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		return true
	}
}
