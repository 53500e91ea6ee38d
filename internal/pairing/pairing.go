// Package pairing issues short-lived device pairing codes, rendered
// as QR codes, and confirms them against whatever identifier the
// pairing device presents back. A "pairing:request" bus event
// generates a code; "pairing:confirm" redeems one.
package pairing

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/nugget/circuitry/internal/bus"
)

// Config configures a Bridge.
type Config struct {
	CodeTTLSec int
	BaseURL    string // prefixed onto the code to form the QR payload, e.g. "https://host/pair/"
}

// pendingCode is one outstanding, unconfirmed pairing code.
type pendingCode struct {
	owner   string
	expires time.Time
}

// Bridge is a bus.Component that issues and redeems pairing codes. Its
// own channel namespace is "pairing".
type Bridge struct {
	*bus.Component

	cfg Config

	mu      sync.Mutex
	pending map[string]pendingCode
}

// New creates a Bridge registered under root.
func New(root *bus.Component, cfg Config) *Bridge {
	if cfg.CodeTTLSec <= 0 {
		cfg.CodeTTLSec = 300
	}
	b := &Bridge{cfg: cfg, pending: make(map[string]pendingCode)}
	b.Component = bus.NewComponent("pairing", b)
	b.Component.Register(root)
	return b
}

// Handlers declares the two handlers this bridge contributes: a
// listener on "pairing:request" that issues a code, and one on
// "pairing:confirm" that redeems it.
func (b *Bridge) Handlers() []*bus.Handler {
	return []*bus.Handler{
		bus.NewHandler(b.handleRequest, bus.OnChannels("request"), bus.OnTarget("pairing")),
		bus.NewHandler(b.handleConfirm, bus.OnChannels("confirm"), bus.OnTarget("pairing")),
	}
}

// Tick expires stale pending codes once per run-loop iteration,
// satisfying bus.Ticker.
func (b *Bridge) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for code, p := range b.pending {
		if now.After(p.expires) {
			delete(b.pending, code)
		}
	}
}

// handleRequest issues a new pairing code for owner and pushes a
// "pairing:issued" event carrying the code and its QR PNG bytes. Args:
// [owner string].
func (b *Bridge) handleRequest(args []any, kwargs map[string]any) any {
	owner := ""
	if len(args) >= 1 {
		owner, _ = args[0].(string)
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("pairing: generate code: %w", err)
	}

	b.mu.Lock()
	b.pending[code] = pendingCode{
		owner:   owner,
		expires: time.Now().Add(time.Duration(b.cfg.CodeTTLSec) * time.Second),
	}
	b.mu.Unlock()

	payload := code
	if b.cfg.BaseURL != "" {
		payload = b.cfg.BaseURL + code
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("pairing: render qr: %w", err)
	}

	b.Component.Push(bus.New("issued", []any{code, png}, nil), "issued", "pairing")
	return code
}

// handleConfirm redeems a pairing code, returning the owner it was
// issued for, or an error if the code is unknown or expired. Args:
// [code string].
func (b *Bridge) handleConfirm(args []any, kwargs map[string]any) any {
	if len(args) < 1 {
		return fmt.Errorf("pairing: confirm requires a code")
	}
	code, _ := args[0].(string)

	b.mu.Lock()
	p, ok := b.pending[code]
	if ok {
		delete(b.pending, code)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("pairing: unknown code")
	}
	if time.Now().After(p.expires) {
		return fmt.Errorf("pairing: code expired")
	}

	b.Component.Push(bus.New("confirmed", []any{code, p.owner}, nil), "confirmed", "pairing")
	return p.owner
}

// generateCode returns an 8-character base32 code with no padding,
// suitable for reading aloud or typing by hand.
func generateCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
