// Package monitor serves a WebSocket dashboard that mirrors every bus
// event in real time. A single bcrypt-hashed bearer token gates the
// upgrade; once connected, a client receives a JSON line per event
// until it disconnects.
package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/circuitry/internal/bus"
	"github.com/nugget/circuitry/internal/docs"
)

// Config configures a Monitor.
type Config struct {
	Address   string
	Port      int
	TokenHash string // bcrypt hash of the bearer token required to connect
}

// wireEvent is the JSON shape pushed to every connected dashboard.
type wireEvent struct {
	Channel  string `json:"channel"`
	Target   string `json:"target"`
	Name     string `json:"name"`
	Args     []any  `json:"args,omitempty"`
	At       string `json:"at"`
	NoteHTML string `json:"note_html,omitempty"`
}

// Monitor is a bus.Component that mirrors every dispatched event to
// connected WebSocket clients. Its own channel namespace is "*" — it
// subscribes globally rather than to one channel.
type Monitor struct {
	*bus.Component

	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]chan wireEvent
}

// New creates a Monitor registered under root. Call Serve to start
// accepting connections.
func New(root *bus.Component, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Monitor{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*websocket.Conn]chan wireEvent),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	m.Component = bus.NewComponent("*", m)
	m.Component.Register(root)
	return m
}

// Handlers declares a single handler on the global wildcard channel,
// so every event dispatched anywhere in the tree is mirrored out.
func (m *Monitor) Handlers() []*bus.Handler {
	return []*bus.Handler{
		bus.NewEventHandler(m.broadcast, bus.OnChannels("*")),
	}
}

func (m *Monitor) broadcast(e *bus.Event, args []any, kwargs map[string]any) any {
	wire := wireEvent{
		Channel: e.Channel,
		Target:  e.Target,
		Name:    e.Name,
		Args:    e.Args,
		At:      time.Now().UTC().Format(time.RFC3339Nano),
	}

	if note, ok := e.Kwargs["note"].(string); ok && note != "" {
		if html, err := docs.RenderHTML(note); err != nil {
			m.logger.Warn("monitor: render note failed", "error", err)
		} else {
			wire.NoteHTML = html
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.clients {
		select {
		case ch <- wire:
		default:
			// client is behind; drop rather than block dispatch.
		}
	}
	return nil
}

// Serve starts the HTTP/WebSocket listener. It blocks until the
// listener stops (Close is called or it errors).
func (m *Monitor) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)

	m.server = &http.Server{
		Addr:    addrFor(m.cfg),
		Handler: mux,
	}
	m.logger.Info("monitor: listening", "addr", m.server.Addr)
	err := m.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts down the listener and disconnects all clients.
func (m *Monitor) Close() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("monitor: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan wireEvent, 64)
	m.mu.Lock()
	m.clients[conn] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.clients, conn)
		m.mu.Unlock()
	}()

	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// authorized checks the bearer token against the configured bcrypt
// hash. An empty TokenHash disables auth (local/dev use only).
func (m *Monitor) authorized(r *http.Request) bool {
	if m.cfg.TokenHash == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.cfg.TokenHash), []byte(token)) == nil
}

// HashToken bcrypt-hashes a bearer token for storage in Config.TokenHash.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(h), err
}

func addrFor(cfg Config) string {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	return strings.TrimSuffix(cfg.Address, ":") + ":" + strconv.Itoa(port)
}
