package bus

import "reflect"

// Event is a value object carrying a name, positional and keyword
// payload, and the channel/target it was (or will be) dispatched on.
// Channel and Target are set by the dispatcher at send time; callers
// constructing an Event normally leave them zero.
//
// Target is modeled as a plain string rather than a pointer: the empty
// string means "unscoped". No bucket in the
// channel index is ever addressed by an empty-string target, so there
// is no ambiguity with a legitimately named target.
type Event struct {
	Name    string
	Args    []any
	Kwargs  map[string]any
	Channel string
	Target  string
}

// New creates an Event with the given name and payload. kwargs may be
// nil; it is normalized to an empty, non-nil map so callers can range
// over Kwargs without a nil check.
func New(name string, args []any, kwargs map[string]any) *Event {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &Event{Name: name, Args: args, Kwargs: kwargs}
}

// Equal reports whether two events are equal: iff Name, Args, Kwargs,
// Channel and Target are all equal.
func (e *Event) Equal(o *Event) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Name == o.Name &&
		e.Channel == o.Channel &&
		e.Target == o.Target &&
		reflect.DeepEqual(e.Args, o.Args) &&
		reflect.DeepEqual(e.Kwargs, o.Kwargs)
}

// At indexes into the event's payload. An int selects from Args by
// position; a string selects from Kwargs by key. Any other key type
// is a structural error.
func (e *Event) At(key any) (any, error) {
	switch k := key.(type) {
	case int:
		if k < 0 || k >= len(e.Args) {
			return nil, ErrBadIndexKey
		}
		return e.Args[k], nil
	case string:
		v, ok := e.Kwargs[k]
		if !ok {
			return nil, ErrBadIndexKey
		}
		return v, nil
	default:
		return nil, ErrBadIndexKey
	}
}

// Kernel-defined event names. Their payload shapes are
// fixed; the constructors below are the only supported way to build
// them so every caller agrees on Args order.
const (
	NameStarted      = "Started"
	NameStopped      = "Stopped"
	NameRegistered   = "Registered"
	NameUnregistered = "Unregistered"
	NameError        = "Error"
)

// Started is emitted once when a run loop begins. Args: [component].
func Started(component any) *Event {
	return New(NameStarted, []any{component}, nil)
}

// Stopped is emitted once when a run loop terminates. Args: [component].
func Stopped(component any) *Event {
	return New(NameStopped, []any{component}, nil)
}

// RegisteredEvent is emitted when a component attaches to a different
// manager. Args: [component, manager].
func RegisteredEvent(component, manager any) *Event {
	return New(NameRegistered, []any{component, manager}, nil)
}

// UnregisteredEvent is emitted when a component detaches from its
// manager. Args: [component, manager].
func UnregisteredEvent(component, manager any) *Event {
	return New(NameUnregistered, []any{component, manager}, nil)
}

// ErrorEvent is emitted for any uncaught handler error. Args:
// [kind, value, trace]. kind is the Go type name of the recovered
// value or error; value is the recovered panic value or returned
// error; trace is the captured stack trace (nil if the error was a
// plain returned error rather than a panic).
func ErrorEvent(kind string, value any, trace []byte) *Event {
	return New(NameError, []any{kind, value, trace}, nil)
}
