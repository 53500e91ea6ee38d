// Package contactsbridge mirrors a CardDAV address book onto the bus,
// caching entries in a local SQLite database so the bridge can detect
// what changed between polls without re-fetching every card. New or
// changed contacts are forwarded as "contacts:updated" events.
package contactsbridge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/circuitry/internal/bus"
)

// Config configures a Bridge.
type Config struct {
	URL             string
	Username        string
	Password        string
	PollIntervalSec int
	SQLitePath      string
}

// Bridge is a bus.Component that polls a CardDAV address book and
// mirrors changes onto the bus. Its own channel namespace is
// "contacts".
type Bridge struct {
	*bus.Component

	cfg    Config
	logger *slog.Logger
	client *carddav.Client
	db     *sql.DB

	lastPoll time.Time
}

// New creates a Bridge registered under root, backed by a SQLite cache
// at cfg.SQLitePath.
func New(root *bus.Component, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("contactsbridge: open cache: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cards (
			path TEXT PRIMARY KEY,
			etag TEXT NOT NULL,
			fn   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("contactsbridge: migrate cache: %w", err)
	}

	httpClient := webdav.HTTPClientWithBasicAuth(http.DefaultClient, cfg.Username, cfg.Password)
	client, err := carddav.NewClient(httpClient, cfg.URL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("contactsbridge: create carddav client: %w", err)
	}

	b := &Bridge{cfg: cfg, logger: logger, client: client, db: db}
	b.Component = bus.NewComponent("contacts", b)
	b.Component.Register(root)
	return b, nil
}

// Handlers returns no handlers: this bridge is purely an outbound
// mirror, driven by Tick rather than reacting to bus events.
func (b *Bridge) Handlers() []*bus.Handler { return nil }

// Tick polls the address book once the configured interval has
// elapsed, satisfying bus.Ticker.
func (b *Bridge) Tick() {
	interval := time.Duration(b.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}
	if time.Since(b.lastPoll) < interval {
		return
	}
	b.lastPoll = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.poll(ctx); err != nil {
		b.logger.Warn("contactsbridge: poll failed", "error", err)
	}
}

func (b *Bridge) poll(ctx context.Context) error {
	books, err := b.client.FindAddressBooks(ctx, "")
	if err != nil {
		return fmt.Errorf("discover address books: %w", err)
	}
	for _, book := range books {
		if err := b.syncBook(ctx, &book); err != nil {
			b.logger.Warn("contactsbridge: sync failed", "book", book.Path, "error", err)
		}
	}
	return nil
}

func (b *Bridge) syncBook(ctx context.Context, book *carddav.AddressBook) error {
	objs, err := b.client.QueryAddressBook(ctx, book.Path, &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
	})
	if err != nil {
		return fmt.Errorf("query %s: %w", book.Path, err)
	}

	for _, obj := range objs {
		changed, err := b.isChanged(obj.Path, obj.ETag)
		if err != nil {
			b.logger.Warn("contactsbridge: cache lookup failed", "path", obj.Path, "error", err)
			continue
		}
		if !changed {
			continue
		}

		fn := decodeFN(obj.Card)
		if err := b.upsert(obj.Path, obj.ETag, fn); err != nil {
			b.logger.Warn("contactsbridge: cache write failed", "path", obj.Path, "error", err)
			continue
		}

		b.Component.Push(bus.New("updated", []any{obj.Path, fn}, nil), "updated", "contacts")
	}
	return nil
}

func (b *Bridge) isChanged(path, etag string) (bool, error) {
	var stored string
	err := b.db.QueryRow(`SELECT etag FROM cards WHERE path = ?`, path).Scan(&stored)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return stored != etag, nil
}

func (b *Bridge) upsert(path, etag, fn string) error {
	_, err := b.db.Exec(`
		INSERT INTO cards (path, etag, fn, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET etag = excluded.etag, fn = excluded.fn, updated_at = excluded.updated_at
	`, path, etag, fn, time.Now().UTC().Format(time.RFC3339))
	return err
}

// decodeFN extracts the FN (formatted name) property from a vCard,
// returning an empty string if the card carries none.
func decodeFN(card vcard.Card) string {
	if card == nil {
		return ""
	}
	return card.PreferredValue(vcard.FieldFormattedName)
}

// Close releases the underlying SQLite connection.
func (b *Bridge) Close() error {
	return b.db.Close()
}
