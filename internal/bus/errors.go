package bus

import "errors"

// ErrNotAttached is returned by Detach when the component being removed
// is not a direct child of the manager it is being detached from.
var ErrNotAttached = errors.New("bus: component is not attached to this manager")

// ErrBadIndexKey is returned by Event.At when the supplied key is
// neither an int (positional argument) nor a string (keyword argument),
// when an int is out of range, or when a string names no keyword.
var ErrBadIndexKey = errors.New("bus: event index key must be int or string")

// ErrAlreadyRunning is returned by Start when called on a component
// whose run loop is already active.
var ErrAlreadyRunning = errors.New("bus: component is already running")
