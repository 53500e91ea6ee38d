// Package mailbridge mirrors new IMAP mail onto the bus and accepts
// outgoing mail as bus events. New messages are detected by tracking a
// per-mailbox UID high-water mark across Tick calls rather than IMAP
// IDLE, so polling composes cleanly with the run loop's own tick
// cadence instead of needing a second background goroutine.
package mailbridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nugget/circuitry/internal/bus"
	"github.com/nugget/circuitry/internal/docs"
)

// Config configures a Bridge.
type Config struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Mailbox         string
	TLS             bool
	SMTPHost        string
	SMTPPort        int
	SMTPStartTLS    bool
	From            string
	PollIntervalSec int
}

// Bridge is a bus.Component that mirrors IMAP traffic onto the bus as
// "mail:received" events and accepts "mail:send" events to deliver
// outgoing mail over SMTP. Its own channel namespace is "mail".
type Bridge struct {
	*bus.Component

	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	client   *imapclient.Client
	lastUID  uint32
	seeded   bool
	lastPoll time.Time
}

// New creates a Bridge registered under root. The IMAP connection is
// established lazily on the first Tick.
func New(root *bus.Component, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	b := &Bridge{cfg: cfg, logger: logger}
	b.Component = bus.NewComponent("mail", b)
	b.Component.Register(root)
	return b
}

// Handlers declares the single handler this bridge contributes: a
// listener on "mail:send" that delivers outgoing mail via SMTP.
func (b *Bridge) Handlers() []*bus.Handler {
	return []*bus.Handler{
		bus.NewHandler(b.handleSend, bus.OnChannels("send"), bus.OnTarget("mail")),
	}
}

// Tick polls the configured mailbox once the configured interval has
// elapsed, satisfying bus.Ticker.
func (b *Bridge) Tick() {
	interval := time.Duration(b.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 120 * time.Second
	}
	if time.Since(b.lastPoll) < interval {
		return
	}
	b.lastPoll = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.poll(ctx); err != nil {
		b.logger.Warn("mailbridge: poll failed", "error", err)
	}
}

func (b *Bridge) poll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureConnected(); err != nil {
		return err
	}

	if _, err := b.client.Select(b.cfg.Mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", b.cfg.Mailbox, err)
	}

	criteria := &imap.SearchCriteria{}
	if b.seeded {
		criteria.UID = []imap.UIDSet{
			{imap.UIDRange{Start: imap.UID(b.lastUID + 1), Stop: 0}},
		}
	}

	searchData, err := b.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("search %s: %w", b.cfg.Mailbox, err)
	}
	uids := searchData.AllUIDs()

	if !b.seeded {
		// First poll seeds the high-water mark without reporting the
		// existing inbox as new.
		b.lastUID = uint32(maxUID(uids))
		b.seeded = true
		return nil
	}

	// A "n:*" UID search always matches the highest existing UID, even
	// when it is below n, so only UIDs above the mark are new.
	prev := b.lastUID
	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		if uint32(uid) <= prev {
			continue
		}
		uidSet.AddNum(uid)
		if uint32(uid) > b.lastUID {
			b.lastUID = uint32(uid)
		}
	}
	if len(uidSet) == 0 {
		return nil
	}

	fetchOpts := &imap.FetchOptions{Envelope: true, UID: true}
	fetchCmd := b.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		data, err := msg.Collect()
		if err != nil {
			continue
		}
		from := ""
		if data.Envelope != nil && len(data.Envelope.From) > 0 {
			from = data.Envelope.From[0].Addr()
		}
		subject := ""
		if data.Envelope != nil {
			subject = data.Envelope.Subject
		}
		b.Component.Push(bus.New("received", []any{
			uint32(data.UID), from, subject,
		}, nil), "received", "mail")
	}

	return fetchCmd.Close()
}

func (b *Bridge) ensureConnected() error {
	if b.client != nil {
		if err := b.client.Noop().Wait(); err == nil {
			return nil
		}
	}

	addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(b.cfg.Port))
	var opts imapclient.Options
	if b.cfg.TLS {
		opts.TLSConfig = &tls.Config{ServerName: b.cfg.Host}
	}

	var client *imapclient.Client
	var err error
	if b.cfg.TLS {
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}
	if err := client.Login(b.cfg.Username, b.cfg.Password).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("login as %s: %w", b.cfg.Username, err)
	}
	b.client = client
	return nil
}

// handleSend delivers a message over SMTP. Args: [to []string, subject
// string, body string]. body is markdown; it is sent as a
// multipart/alternative message with a plain-text part and an HTML part
// rendered via internal/docs.
func (b *Bridge) handleSend(args []any, kwargs map[string]any) any {
	if len(args) < 3 {
		return nil
	}
	to, _ := args[0].([]string)
	subject, _ := args[1].(string)
	body, _ := args[2].(string)
	if len(to) == 0 {
		return nil
	}

	msg, err := composeMessage(b.cfg.From, to, subject, body)
	if err != nil {
		b.logger.Warn("mailbridge: compose failed", "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.sendMail(ctx, to, msg); err != nil {
		b.logger.Warn("mailbridge: send failed", "error", err)
		return err
	}
	return nil
}

// composeMessage builds a multipart/alternative RFC 5322 message: a
// text/plain part carrying the raw markdown, and a text/html part
// rendered from it via docs.RenderHTML.
func composeMessage(from string, to []string, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(subject)

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddrs := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("parse to address %q: %w", addr, err)
		}
		toAddrs = append(toAddrs, parsed)
	}
	h.SetAddressList("To", toAddrs)

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	var ph mail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return nil, fmt.Errorf("create plain text part: %w", err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return nil, fmt.Errorf("write plain text: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("close plain text part: %w", err)
	}

	htmlBody, err := docs.RenderHTML(body)
	if err != nil {
		return nil, fmt.Errorf("render markdown to html: %w", err)
	}
	var hh mail.InlineHeader
	hh.Set("Content-Type", "text/html; charset=utf-8")
	hw, err := tw.CreatePart(hh)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(hw, htmlBody); err != nil {
		return nil, fmt.Errorf("write html: %w", err)
	}
	if err := hw.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}

	return buf.Bytes(), nil
}

func (b *Bridge) sendMail(ctx context.Context, to []string, msg []byte) error {
	addr := net.JoinHostPort(b.cfg.SMTPHost, strconv.Itoa(b.cfg.SMTPPort))
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	var client *smtp.Client
	var err error
	if !b.cfg.SMTPStartTLS {
		conn, derr := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: b.cfg.SMTPHost})
		if derr != nil {
			return fmt.Errorf("dial smtps %s: %w", addr, derr)
		}
		client, err = smtp.NewClient(conn, b.cfg.SMTPHost)
	} else {
		conn, derr := dialer.DialContext(ctx, "tcp", addr)
		if derr != nil {
			return fmt.Errorf("dial smtp %s: %w", addr, derr)
		}
		client, err = smtp.NewClient(conn, b.cfg.SMTPHost)
	}
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if b.cfg.SMTPStartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: b.cfg.SMTPHost}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if b.cfg.Username != "" {
		auth := smtp.PlainAuth("", b.cfg.Username, b.cfg.Password, b.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}
	if err := client.Mail(b.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func maxUID(uids []imap.UID) imap.UID {
	var max imap.UID
	for _, u := range uids {
		if u > max {
			max = u
		}
	}
	return max
}
