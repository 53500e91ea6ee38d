package mqttbridge

import (
	"context"
	"testing"

	"github.com/nugget/circuitry/internal/bus"
)

func newTestRoot() *bus.Component {
	root := bus.NewComponent("", nil)
	root.Register(root)
	return root
}

func TestHandlePublishNoopWithoutConnection(t *testing.T) {
	root := newTestRoot()
	b := New(root, Config{}, nil)

	// cm is nil until Start succeeds; handlePublish must not panic.
	if got := b.handlePublish([]any{"topic", []byte("payload")}, nil); got != nil {
		t.Errorf("handlePublish() with no connection manager = %v, want nil", got)
	}
}

func TestHandlePublishNoopOnShortArgs(t *testing.T) {
	root := newTestRoot()
	b := New(root, Config{}, nil)

	if got := b.handlePublish([]any{"topic"}, nil); got != nil {
		t.Errorf("handlePublish() with one arg = %v, want nil", got)
	}
	if got := b.handlePublish(nil, nil); got != nil {
		t.Errorf("handlePublish(nil) = %v, want nil", got)
	}
}

func TestHandlePublishNoopOnEmptyTopic(t *testing.T) {
	root := newTestRoot()
	b := New(root, Config{}, nil)

	if got := b.handlePublish([]any{"", []byte("payload")}, nil); got != nil {
		t.Errorf("handlePublish() with an empty topic = %v, want nil", got)
	}
}

func TestStartRejectsUnparsableBrokerURL(t *testing.T) {
	root := newTestRoot()
	b := New(root, Config{BrokerURL: "http://bad host name/"}, nil)

	if err := b.Start(context.Background()); err == nil {
		t.Error("Start() with an unparsable broker URL returned nil error, want an error")
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	root := newTestRoot()
	b := New(root, Config{}, nil)

	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("Stop() before Start() error = %v, want nil", err)
	}
}
