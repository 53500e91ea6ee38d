// Package ircproto decodes and encodes IRC protocol lines on top of the
// bus: a "read" event carrying raw bytes becomes a "line" event, which
// is parsed into a command-specific event (ping, privmsg, notice,
// join, part, quit, nick, mode, numeric); a PING is answered
// automatically with PONG. Outgoing commands are built with the
// Send* helpers, which push a "RAW" event (the formatted line) and a
// "write" event (the line plus CRLF, as bytes) for whatever transport
// is listening downstream.
package ircproto

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/nugget/circuitry/internal/bus"
)

// Source is a parsed "nick!ident@host" prefix. Ident and Host are
// empty when the line carried no prefix (a plain "nick" identifies a
// server or command with no user attached).
type Source struct {
	Nick, Ident, Host string
}

// Protocol is a bus.Component that decodes "read" events into
// IRC-specific events and encodes outgoing commands into "write"
// events. Its own channel namespace defaults to "irc".
type Protocol struct {
	*bus.Component
}

// New creates a Protocol registered under root.
func New(root *bus.Component, channel string) *Protocol {
	if channel == "" {
		channel = "irc"
	}
	p := &Protocol{}
	p.Component = bus.NewComponent(channel, p)
	p.Component.Register(root)
	return p
}

// Handlers declares the decode pipeline: "read" turns into "line",
// which the line handler further classifies; "ping" is additionally
// auto-answered with PONG.
func (p *Protocol) Handlers() []*bus.Handler {
	return []*bus.Handler{
		bus.NewEventHandler(p.handleRead, bus.OnChannels("read")),
		bus.NewEventHandler(p.handleLine, bus.OnChannels("line")),
		bus.NewEventHandler(p.handlePing, bus.OnChannels("ping")),
	}
}

// handleRead splits the bytes of one read on LF, trims a trailing CR
// from each segment, and pushes a "line" event per non-empty segment.
// Partial lines are not buffered across reads (a line split over two
// reads arrives as two "line" events), and formatting control codes
// are left in place.
func (p *Protocol) handleRead(e *bus.Event, args []any, kwargs map[string]any) any {
	if len(args) == 0 {
		return nil
	}
	data, _ := args[0].([]byte)
	for _, raw := range bytes.Split(data, []byte("\n")) {
		line := bytes.TrimRight(raw, "\r")
		if len(line) == 0 {
			continue
		}
		p.Component.Push(bus.New("line", []any{line}, nil), "line", p.Channel)
	}
	return nil
}

// handleLine classifies one decoded line into its command-specific
// event: numeric reply, PING, or one of the user commands that carry
// a source prefix (privmsg, notice, join, part, quit, nick, mode).
func (p *Protocol) handleLine(e *bus.Event, args []any, kwargs map[string]any) any {
	if len(args) == 0 {
		return nil
	}
	line, _ := args[0].([]byte)
	text := string(line)

	var source *Source
	if strings.HasPrefix(text, ":") {
		sp := strings.IndexByte(text, ' ')
		if sp < 0 {
			return nil
		}
		prefix := text[1:sp]
		s := sourceSplit(prefix)
		source = &s
		text = text[sp+1:]
	}

	fields, trailing := splitIRCParams(text)
	if len(fields) == 0 {
		return nil
	}
	command := fields[0]
	params := fields[1:]
	if trailing != "" {
		params = append(params, trailing)
	}

	src := Source{}
	if source != nil {
		src = *source
	}

	if n, err := strconv.Atoi(command); err == nil {
		eventArgs := append([]any{src, n}, stringsToAny(params)...)
		p.Component.Push(bus.New("numeric", eventArgs, nil), "numeric", p.Channel)
		return nil
	}

	switch strings.ToUpper(command) {
	case "PING":
		p.Component.Push(bus.New("ping", []any{src, firstOr(params, "")}, nil), "ping", p.Channel)
	case "PRIVMSG":
		if len(params) >= 2 {
			p.Component.Push(bus.New("privmsg", []any{src, params[0], params[1]}, nil), "privmsg", p.Channel)
		}
	case "NOTICE":
		if len(params) >= 2 {
			p.Component.Push(bus.New("notice", []any{src, params[0], params[1]}, nil), "notice", p.Channel)
		}
	case "JOIN":
		if len(params) >= 1 {
			p.Component.Push(bus.New("join", []any{src, params[0]}, nil), "join", p.Channel)
		}
	case "PART":
		reason := ""
		if len(params) >= 2 {
			reason = params[1]
		}
		if len(params) >= 1 {
			p.Component.Push(bus.New("part", []any{src, params[0], reason}, nil), "part", p.Channel)
		}
	case "QUIT":
		p.Component.Push(bus.New("quit", []any{src, firstOr(params, "")}, nil), "quit", p.Channel)
	case "NICK":
		if len(params) >= 1 {
			p.Component.Push(bus.New("nick", []any{src, params[0]}, nil), "nick", p.Channel)
		}
	case "MODE":
		eventArgs := append([]any{src}, stringsToAny(params)...)
		p.Component.Push(bus.New("mode", eventArgs, nil), "mode", p.Channel)
	}
	return nil
}

// handlePing answers every PING with the matching PONG, the one
// protocol-level behavior that needs no application involvement.
func (p *Protocol) handlePing(e *bus.Event, args []any, kwargs map[string]any) any {
	if len(args) < 2 {
		return nil
	}
	host, _ := args[1].(string)
	p.SendPONG(host)
	return nil
}

// SendPING pushes a PING command for the given host.
func (p *Protocol) SendPING(host string) { p.send("PING", []string{}, host) }

// SendPONG pushes a PONG reply for the given host.
func (p *Protocol) SendPONG(host string) { p.send("PONG", []string{}, host) }

// SendNICK requests a nickname change.
func (p *Protocol) SendNICK(nick string) { p.send("NICK", []string{}, nick) }

// SendUSER sends the initial USER registration line.
func (p *Protocol) SendUSER(user, hostname, realname string) {
	p.send("USER", []string{user, hostname, "*"}, realname)
}

// SendJOIN joins a channel, with an optional key.
func (p *Protocol) SendJOIN(channel, key string) {
	if key == "" {
		p.sendNoTrailing("JOIN", []string{channel})
		return
	}
	p.sendNoTrailing("JOIN", []string{channel, key})
}

// SendPRIVMSG sends a message to a target (a channel or a nick).
func (p *Protocol) SendPRIVMSG(target, message string) {
	p.send("PRIVMSG", []string{target}, message)
}

// SendQUIT disconnects with the given reason ("Leaving" if empty).
func (p *Protocol) SendQUIT(reason string) {
	if reason == "" {
		reason = "Leaving"
	}
	p.send("QUIT", nil, reason)
}

// send formats "<command> <params...> :<trailing>" and pushes both a
// "RAW" event (the formatted string) and a "write" event (the line
// plus CRLF) for the transport below to carry out.
func (p *Protocol) send(command string, params []string, trailing string) {
	parts := append([]string{command}, params...)
	var raw string
	if trailing != "" {
		raw = strings.Join(parts, " ") + " :" + trailing
	} else {
		raw = strings.Join(parts, " ")
	}
	p.emit(raw)
}

// sendNoTrailing formats a command with no trailing parameter.
func (p *Protocol) sendNoTrailing(command string, params []string) {
	parts := append([]string{command}, params...)
	p.emit(strings.Join(parts, " "))
}

func (p *Protocol) emit(raw string) {
	p.Component.Push(bus.New("RAW", []any{raw}, nil), "RAW", p.Channel)
	p.Component.Push(bus.New("write", []any{[]byte(raw + "\r\n")}, nil), "write", p.Channel)
}

// sourceSplit parses "nick!ident@host" or a bare "nick" prefix.
func sourceSplit(prefix string) Source {
	bang := strings.IndexByte(prefix, '!')
	if bang < 0 {
		return Source{Nick: prefix}
	}
	at := strings.IndexByte(prefix[bang+1:], '@')
	if at < 0 {
		return Source{Nick: prefix[:bang], Ident: prefix[bang+1:]}
	}
	return Source{
		Nick:  prefix[:bang],
		Ident: prefix[bang+1 : bang+1+at],
		Host:  prefix[bang+1+at+1:],
	}
}

// sourceJoin is the inverse of sourceSplit, used when constructing
// prefixes for test fixtures or server-side emulation.
func sourceJoin(nick, ident, host string) string {
	if ident == "" && host == "" {
		return nick
	}
	return nick + "!" + ident + "@" + host
}

// splitIRCParams splits an IRC parameter string on spaces, stopping at
// a " :" trailing-parameter marker.
func splitIRCParams(text string) (fields []string, trailing string) {
	if idx := strings.Index(text, " :"); idx >= 0 {
		trailing = text[idx+2:]
		text = text[:idx]
	} else if strings.HasPrefix(text, ":") {
		return nil, text[1:]
	}
	fields = strings.Fields(text)
	return fields, trailing
}

func firstOr(params []string, fallback string) string {
	if len(params) == 0 {
		return fallback
	}
	return params[0]
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
