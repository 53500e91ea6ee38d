package bus

import "testing"

func TestRegisterSelfIsRoot(t *testing.T) {
	c := newTestComponent("solo")
	c.Register(c)

	if !c.IsRoot() {
		t.Error("component registered to itself is not its own root")
	}
	if c.Root() != c {
		t.Errorf("Root() = %p, want %p", c.Root(), c)
	}
}

func TestRegisterInsertsHandlersIntoRoot(t *testing.T) {
	h := NewHandler(func(args []any, kwargs map[string]any) any { return nil }, OnChannels("chat"))
	root := newTestComponent("root")
	child := newTestComponent("child", h)

	root.Register(root)
	child.Register(root)

	if _, ok := root.handlers[h]; !ok {
		t.Error("child's handler was not inserted into the root's handler set")
	}
	if got := len(root.channels.resolve("chat")); got != 1 {
		t.Errorf("root resolved %d handlers for \"chat\", want 1", got)
	}
}

func TestRegisterPushesRegisteredEvent(t *testing.T) {
	var gotName string
	sink := NewEventHandler(func(e *Event, args []any, kwargs map[string]any) any {
		gotName = e.Name
		return nil
	}, OnChannels("registered"))

	root := newTestComponent("root", sink)
	root.Register(root)

	child := newTestComponent("child")
	child.Register(root)
	root.Flush()

	if gotName != NameRegistered {
		t.Errorf("no Registered event observed, got name %q", gotName)
	}
}

func TestHiddenPromotion(t *testing.T) {
	grandchildHandlerFired := false
	gh := NewHandler(func(args []any, kwargs map[string]any) any {
		grandchildHandlerFired = true
		return nil
	}, OnChannels("ping"))

	root := newTestComponent("root")
	root.Register(root)

	mid := newTestComponent("mid")

	grandchild := newTestComponent("grandchild", gh)
	grandchild.Register(mid) // grandchild attaches to mid while mid is still its own root

	mid.Register(root) // mid joins root, carrying grandchild along for promotion

	// grandchild should be promoted and reachable through root directly.
	if grandchild.manager != root {
		t.Errorf("grandchild.manager = %p, want root %p", grandchild.manager, root)
	}
	if _, ok := root.hidden[grandchild]; !ok {
		t.Error("grandchild was not recorded in root.hidden after promotion")
	}

	root.Send(New("ping", nil, nil), "ping", nil)
	if !grandchildHandlerFired {
		t.Error("grandchild's handler never fired after hidden promotion")
	}
}

func TestUnregisterRemovesHandlersAndPushesEvent(t *testing.T) {
	var unregName string
	sink := NewEventHandler(func(e *Event, args []any, kwargs map[string]any) any {
		unregName = e.Name
		return nil
	}, OnChannels("unregistered"))

	h := NewHandler(func(args []any, kwargs map[string]any) any { return nil }, OnChannels("chat"))
	root := newTestComponent("root", sink)
	root.Register(root)

	child := newTestComponent("child", h)
	child.Register(root)

	if err := child.Unregister(); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	root.Flush()

	if unregName != NameUnregistered {
		t.Errorf("no Unregistered event observed, got name %q", unregName)
	}
	if !child.IsRoot() {
		t.Error("child is not its own root again after Unregister")
	}
	if got := len(root.channels.resolve("chat")); got != 0 {
		t.Errorf("root still resolves %d handlers for \"chat\" after Unregister, want 0", got)
	}
}

func TestUnregisterOnRootIsNoop(t *testing.T) {
	root := newTestComponent("root")
	root.Register(root)

	if err := root.Unregister(); err != nil {
		t.Errorf("Unregister() on a root returned %v, want nil", err)
	}
	if !root.IsRoot() {
		t.Error("root stopped being its own root after a no-op Unregister")
	}
}

func TestAttachDetach(t *testing.T) {
	root := newTestComponent("root")
	root.Register(root)
	child := newTestComponent("child")

	Attach(root, child)
	if child.manager != root {
		t.Fatalf("child.manager = %p after Attach, want root %p", child.manager, root)
	}

	if _, err := Detach(root, child); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if !child.IsRoot() {
		t.Error("child is not its own root after Detach")
	}
}

func TestDetachNotAttachedReturnsError(t *testing.T) {
	root := newTestComponent("root")
	root.Register(root)
	stray := newTestComponent("stray")
	stray.Register(stray)

	if _, err := Detach(root, stray); err != ErrNotAttached {
		t.Errorf("Detach() of an unrelated component returned %v, want %v", err, ErrNotAttached)
	}
}

// tickingComponent is a minimal HandlerSource that also implements
// Ticker, for exercising tick aggregation across a non-self root.
type tickingComponent struct {
	handlers []*Handler
	ticks    int
}

func (s *tickingComponent) Handlers() []*Handler { return s.handlers }
func (s *tickingComponent) Tick()                { s.ticks++ }

func TestRegisterMergesChildTickIntoRoot(t *testing.T) {
	root := newTestComponent("root")
	root.Register(root)

	impl := &tickingComponent{}
	child := NewComponent("child", impl)
	child.Register(root) // child registers to a distinct root, not itself

	if _, ok := root.ticks[child]; !ok {
		t.Fatal("child's tick was not merged into root.ticks; Register bound mergeTicks backwards")
	}
	if _, ok := child.ticks[root]; ok {
		t.Error("root's ticks leaked into child.ticks; mergeTicks ran on the wrong receiver")
	}
}

func TestRegisterIdempotentForHandlerInsertion(t *testing.T) {
	h := NewHandler(func(args []any, kwargs map[string]any) any { return nil }, OnChannels("chat"))
	root := newTestComponent("root")
	root.Register(root)

	child := newTestComponent("child", h)
	child.Register(root)
	child.Register(root) // re-register under the same root

	if got := len(root.channels.resolve("chat")); got != 1 {
		t.Errorf("root resolved %d handlers for \"chat\" after re-registering, want 1 (no duplicate insertion)", got)
	}
}
