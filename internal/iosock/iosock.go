// Package iosock adapts a net.Conn (or any io.ReadWriteCloser, such as
// stdin paired with stdout) onto the bus: bytes arriving on the
// connection become "read" events, and a "write" event's payload is
// written back out. This is the transport half of a line protocol
// like ircproto — the codec never touches the socket directly.
package iosock

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/nugget/circuitry/internal/bus"
)

// readDeadline bounds how long one Tick's read attempt blocks, so the
// run loop's tick cadence is never starved by an idle connection.
const readDeadline = 5 * time.Millisecond

// deadliner is implemented by connections that support read deadlines
// (net.Conn does; a plain io.ReadWriteCloser like stdin does not).
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Socket is a bus.Component that bridges a byte stream onto the bus.
type Socket struct {
	*bus.Component

	conn   io.ReadWriteCloser
	logger *slog.Logger
	reader *bufio.Reader
	closed bool
}

// New creates a Socket wrapping conn, registered under root under the
// given channel namespace (e.g. "irc" to pair with an ircproto.Protocol
// of the same channel).
func New(root *bus.Component, channel string, conn io.ReadWriteCloser, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Socket{conn: conn, logger: logger, reader: bufio.NewReader(conn)}
	s.Component = bus.NewComponent(channel, s)
	s.Component.Register(root)
	return s
}

// Dial opens a TCP connection and wraps it in a Socket.
func Dial(root *bus.Component, channel, network, address string, logger *slog.Logger) (*Socket, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return New(root, channel, conn, logger), nil
}

// Handlers declares the single handler this component contributes: a
// listener on "write" that sends bytes out over the connection.
func (s *Socket) Handlers() []*bus.Handler {
	return []*bus.Handler{
		bus.NewHandler(s.handleWrite, bus.OnChannels("write"), bus.OnTarget(s.Channel)),
	}
}

// Tick attempts one bounded read from the connection and, on any bytes
// received, pushes a "read" event. Satisfies bus.Ticker.
func (s *Socket) Tick() {
	if s.closed {
		return
	}
	if d, ok := s.conn.(deadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(readDeadline))
	}

	buf := make([]byte, 4096)
	n, err := s.reader.Read(buf)
	if n > 0 {
		s.Component.Push(bus.New("read", []any{buf[:n]}, nil), "read", s.Channel)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		if err == io.EOF {
			s.logger.Info("iosock: connection closed", "channel", s.Channel)
			s.closed = true
		}
	}
}

// handleWrite writes raw bytes out over the connection. Args: [data
// []byte].
func (s *Socket) handleWrite(args []any, kwargs map[string]any) any {
	if len(args) == 0 || s.closed {
		return nil
	}
	data, _ := args[0].([]byte)
	if len(data) == 0 {
		return nil
	}
	if _, err := s.conn.Write(data); err != nil {
		s.logger.Warn("iosock: write failed", "channel", s.Channel, "error", err)
		return err
	}
	return nil
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	s.closed = true
	return s.conn.Close()
}
