package bus

import (
	"testing"
	"time"
)

// handlerSet is a minimal HandlerSource for tests: just a fixed slice
// of pre-built handlers, mirroring how a real component would declare
// them at construction time.
type handlerSet struct {
	handlers []*Handler
}

func (s *handlerSet) Handlers() []*Handler { return s.handlers }

func newTestComponent(channel string, handlers ...*Handler) *Component {
	return NewComponent(channel, &handlerSet{handlers: handlers})
}

func TestSendSimpleEcho(t *testing.T) {
	var got *Event
	h := NewEventHandler(func(e *Event, args []any, kwargs map[string]any) any {
		got = e
		return nil
	}, OnChannels("ping"))

	root := newTestComponent("", h)
	root.Register(root)

	root.Send(New("ping", []any{"hello"}, nil), "ping", nil)

	if got == nil {
		t.Fatal("handler was never invoked")
	}
	if got.Args[0] != "hello" {
		t.Errorf("handler saw Args[0] = %v, want %q", got.Args[0], "hello")
	}
}

func TestSendFilterHaltsDispatch(t *testing.T) {
	var listenerCalled bool
	filter := NewHandler(func(args []any, kwargs map[string]any) any {
		return true
	}, OnChannels("chat"), AsFilter())
	listener := NewHandler(func(args []any, kwargs map[string]any) any {
		listenerCalled = true
		return nil
	}, OnChannels("chat"))

	root := newTestComponent("", filter, listener)
	root.Register(root)

	result := root.Send(New("chat", nil, nil), "chat", nil)

	if result != true {
		t.Errorf("Send() = %v, want true (the filter's return value)", result)
	}
	if listenerCalled {
		t.Error("listener ran after a filter halted dispatch")
	}
}

func TestSendFilterPassesThrough(t *testing.T) {
	var listenerCalled bool
	filter := NewHandler(func(args []any, kwargs map[string]any) any {
		return nil // falsy, does not halt
	}, OnChannels("chat"), AsFilter())
	listener := NewHandler(func(args []any, kwargs map[string]any) any {
		listenerCalled = true
		return "handled"
	}, OnChannels("chat"))

	root := newTestComponent("", filter, listener)
	root.Register(root)

	result := root.Send(New("chat", nil, nil), "chat", nil)

	if !listenerCalled {
		t.Error("listener never ran though filter returned falsy")
	}
	if result != "handled" {
		t.Errorf("Send() = %v, want %q", result, "handled")
	}
}

func TestSendTargetedDispatch(t *testing.T) {
	var aliceCalled, bobCalled bool
	alice := NewHandler(func(args []any, kwargs map[string]any) any {
		aliceCalled = true
		return nil
	}, OnChannels("chat"), OnTarget("alice"))
	bob := NewHandler(func(args []any, kwargs map[string]any) any {
		bobCalled = true
		return nil
	}, OnChannels("chat"), OnTarget("bob"))

	root := newTestComponent("", alice, bob)
	root.Register(root)

	root.Send(New("chat", nil, nil), "chat", "alice")

	if !aliceCalled {
		t.Error("alice's handler was not invoked for a dispatch targeted at alice")
	}
	if bobCalled {
		t.Error("bob's handler fired for a dispatch targeted at alice")
	}
}

func TestSendRecoversHandlerPanicAsErrorEvent(t *testing.T) {
	boom := NewHandler(func(args []any, kwargs map[string]any) any {
		panic("boom")
	}, OnChannels("chat"))

	var errEvent *Event
	sink := NewEventHandler(func(e *Event, args []any, kwargs map[string]any) any {
		errEvent = e
		return nil
	}, OnChannels("error"))

	root := newTestComponent("", boom, sink)
	root.Register(root)

	// Send must not itself panic.
	root.Send(New("chat", nil, nil), "chat", nil)
	root.Flush()

	if errEvent == nil {
		t.Fatal("no Error event was pushed after a handler panic")
	}
	if errEvent.Args[1] != "boom" {
		t.Errorf("Error event value = %v, want %q", errEvent.Args[1], "boom")
	}
}

func TestSendWithErrorsRePanics(t *testing.T) {
	boom := NewHandler(func(args []any, kwargs map[string]any) any {
		panic("boom")
	}, OnChannels("chat"))

	root := newTestComponent("", boom)
	root.Register(root)

	defer func() {
		r := recover()
		if r != "boom" {
			t.Errorf("recovered %v, want %q", r, "boom")
		}
	}()

	root.Send(New("chat", nil, nil), "chat", nil, WithErrors())
	t.Error("Send() with WithErrors did not re-panic")
}

func TestPushThenFlushDispatchesInOrder(t *testing.T) {
	var order []int
	h := NewHandler(func(args []any, kwargs map[string]any) any {
		order = append(order, args[0].(int))
		return nil
	}, OnChannels("seq"))

	root := newTestComponent("", h)
	root.Register(root)

	root.Push(New("seq", []any{1}, nil), "seq", nil)
	root.Push(New("seq", []any{2}, nil), "seq", nil)
	root.Push(New("seq", []any{3}, nil), "seq", nil)

	root.Flush()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("dispatch order = %v, want [1 2 3]", order)
	}
}

func TestRunLoopEmitsStartedAndStopped(t *testing.T) {
	startedCh := make(chan struct{}, 1)
	stoppedCh := make(chan struct{}, 1)

	started := NewHandler(func(args []any, kwargs map[string]any) any {
		select {
		case startedCh <- struct{}{}:
		default:
		}
		return nil
	}, OnChannels("started"))
	stopped := NewHandler(func(args []any, kwargs map[string]any) any {
		select {
		case stoppedCh <- struct{}{}:
		default:
		}
		return nil
	}, OnChannels("stopped"))

	root := newTestComponent("", started, stopped)
	root.Register(root)

	if err := root.Start(Background); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-startedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Started event")
	}

	if got := root.State(); got != "R" {
		t.Errorf("State() = %q while running, want %q", got, "R")
	}

	if err := root.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case <-stoppedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Stopped event")
	}

	if got := root.State(); got != "S" {
		t.Errorf("State() = %q after Stop, want %q", got, "S")
	}
}

func TestStartTwiceReturnsErrAlreadyRunning(t *testing.T) {
	root := newTestComponent("")
	if err := root.Start(Background); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	defer root.Stop()

	if err := root.Start(Background); err != ErrAlreadyRunning {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyRunning)
	}
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", false},
		{"x", true},
		{0, true},
		{[]int{}, true},
	}
	for _, tc := range cases {
		if got := truthy(tc.v); got != tc.want {
			t.Errorf("truthy(%#v) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	c := newTestComponent("alice")
	if got := resolveTarget(nil); got != "" {
		t.Errorf("resolveTarget(nil) = %q, want empty", got)
	}
	if got := resolveTarget("bob"); got != "bob" {
		t.Errorf("resolveTarget(\"bob\") = %q, want %q", got, "bob")
	}
	if got := resolveTarget(c); got != "alice" {
		t.Errorf("resolveTarget(component) = %q, want %q", got, "alice")
	}
}
