// Package config handles circuitry configuration loading.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

// searchPathsFunc is indirected so tests can override the search order
// without touching the real filesystem layout.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/circuitry/config.yaml,
// /config/config.yaml, /etc/circuitry/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "circuitry", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/circuitry/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all circuitry configuration.
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Forge    ForgeConfig    `yaml:"forge"`
	Mail     MailConfig     `yaml:"mail"`
	Contacts ContactsConfig `yaml:"contacts"`
	Pairing  PairingConfig  `yaml:"pairing"`
	IRC      IRCConfig      `yaml:"irc"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// BusConfig tunes the run loop shared by every component tree started
// from cmd/eventbusd.
type BusConfig struct {
	// TickIntervalMS is how often the run loop wakes to tick and flush,
	// in milliseconds.
	TickIntervalMS int `yaml:"tick_interval_ms"`
	// DrainTimeoutSec bounds how long Stop waits for the final flush.
	DrainTimeoutSec int `yaml:"drain_timeout_sec"`
	// JoinTimeoutSec bounds how long Stop waits for the loop goroutine
	// to exit.
	JoinTimeoutSec int `yaml:"join_timeout_sec"`
}

// MonitorConfig defines the read-only WebSocket event dashboard.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = 127.0.0.1)
	Port    int    `yaml:"port"`
	// Token, when set, is hashed with bcrypt and required as a bearer
	// token on every WebSocket upgrade request.
	Token string `yaml:"token"`
}

// MQTTConfig defines the MQTT broker bridge.
type MQTTConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BrokerURL string   `yaml:"broker_url"`
	ClientID  string   `yaml:"client_id"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Topics    []string `yaml:"topics"`
}

// ForgeConfig defines the GitHub issue/PR polling bridge.
type ForgeConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Owner           string `yaml:"owner"`
	Repo            string `yaml:"repo"`
	Token           string `yaml:"token"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
}

// MailConfig defines the IMAP mailbox polling bridge.
type MailConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Mailbox         string `yaml:"mailbox"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
}

// ContactsConfig defines the CardDAV address book sync bridge.
type ContactsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	// SQLitePath is where the last-seen contact set is persisted.
	SQLitePath string `yaml:"sqlite_path"`
}

// PairingConfig defines the QR pairing-code component.
type PairingConfig struct {
	Enabled bool `yaml:"enabled"`
	// CodeTTLSec is how long a generated pairing code remains valid.
	CodeTTLSec int `yaml:"code_ttl_sec"`
}

// IRCConfig defines the IRC transport: an iosock.Socket dialing Network
// paired with an ircproto.Protocol decoding the line stream.
type IRCConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Network  string `yaml:"network"` // dial network, e.g. "tcp"
	Address  string `yaml:"address"` // host:port
	Nick     string `yaml:"nick"`
	Ident    string `yaml:"ident"`
	Realname string `yaml:"realname"`
	Channel  string `yaml:"channel"` // bus channel namespace shared by both halves
}

// Configured reports whether the IRC bridge has enough to dial a server.
func (c IRCConfig) Configured() bool {
	return c.Enabled && c.Address != "" && c.Nick != ""
}

// Configured reports whether the MQTT bridge has a broker URL set.
func (c MQTTConfig) Configured() bool {
	return c.Enabled && c.BrokerURL != ""
}

// Configured reports whether the forge bridge has both a repository
// and a token.
func (c ForgeConfig) Configured() bool {
	return c.Enabled && c.Owner != "" && c.Repo != "" && c.Token != ""
}

// Configured reports whether the mail bridge has enough to dial an
// IMAP account.
func (c MailConfig) Configured() bool {
	return c.Enabled && c.Host != "" && c.Username != "" && c.Password != ""
}

// Configured reports whether the contacts bridge has a CardDAV
// endpoint to sync against.
func (c ContactsConfig) Configured() bool {
	return c.Enabled && c.URL != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${MQTT_PASSWORD}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Bus.TickIntervalMS == 0 {
		c.Bus.TickIntervalMS = 10
	}
	if c.Bus.DrainTimeoutSec == 0 {
		c.Bus.DrainTimeoutSec = 3
	}
	if c.Bus.JoinTimeoutSec == 0 {
		c.Bus.JoinTimeoutSec = 5
	}
	if c.Monitor.Port == 0 {
		c.Monitor.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Forge.PollIntervalSec == 0 {
		c.Forge.PollIntervalSec = 60
	}
	if c.Mail.PollIntervalSec == 0 {
		c.Mail.PollIntervalSec = 120
	}
	if c.Contacts.PollIntervalSec == 0 {
		c.Contacts.PollIntervalSec = 300
	}
	if c.Contacts.SQLitePath == "" {
		c.Contacts.SQLitePath = filepath.Join(c.DataDir, "contacts.db")
	}
	if c.Pairing.CodeTTLSec == 0 {
		c.Pairing.CodeTTLSec = 300
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "circuitry"
	}
	if c.IRC.Network == "" {
		c.IRC.Network = "tcp"
	}
	if c.IRC.Channel == "" {
		c.IRC.Channel = "irc"
	}
	if c.IRC.Ident == "" {
		c.IRC.Ident = c.IRC.Nick
	}
	if c.IRC.Realname == "" {
		c.IRC.Realname = c.IRC.Nick
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Monitor.Enabled && (c.Monitor.Port < 1 || c.Monitor.Port > 65535) {
		return fmt.Errorf("monitor.port %d out of range (1-65535)", c.Monitor.Port)
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url must be set when mqtt.enabled is true")
	}
	if c.Forge.Enabled {
		if c.Forge.Owner == "" || c.Forge.Repo == "" {
			return fmt.Errorf("forge.owner and forge.repo must be set when forge.enabled is true")
		}
		if c.Forge.PollIntervalSec < 10 {
			return fmt.Errorf("forge.poll_interval_sec %d below minimum of 10", c.Forge.PollIntervalSec)
		}
	}
	if c.Mail.Enabled {
		if c.Mail.Host == "" || c.Mail.Username == "" {
			return fmt.Errorf("mail.host and mail.username must be set when mail.enabled is true")
		}
		if c.Mail.PollIntervalSec < 10 {
			return fmt.Errorf("mail.poll_interval_sec %d below minimum of 10", c.Mail.PollIntervalSec)
		}
	}
	if c.Contacts.Enabled {
		if c.Contacts.URL == "" {
			return fmt.Errorf("contacts.url must be set when contacts.enabled is true")
		}
		if c.Contacts.PollIntervalSec < 30 {
			return fmt.Errorf("contacts.poll_interval_sec %d below minimum of 30", c.Contacts.PollIntervalSec)
		}
	}
	if c.IRC.Enabled {
		if c.IRC.Address == "" || c.IRC.Nick == "" {
			return fmt.Errorf("irc.address and irc.nick must be set when irc.enabled is true")
		}
		if _, err := idna.Lookup.ToASCII(hostOnly(c.IRC.Address)); err != nil {
			return fmt.Errorf("irc.address %q is not a valid hostname: %w", c.IRC.Address, err)
		}
	}
	if c.Mail.Enabled && c.Mail.Host != "" {
		if _, err := idna.Lookup.ToASCII(c.Mail.Host); err != nil {
			return fmt.Errorf("mail.host %q is not a valid hostname: %w", c.Mail.Host, err)
		}
	}
	if c.Contacts.Enabled && c.Contacts.URL != "" {
		if u, err := url.Parse(c.Contacts.URL); err == nil && u.Hostname() != "" {
			if _, err := idna.Lookup.ToASCII(u.Hostname()); err != nil {
				return fmt.Errorf("contacts.url host %q is not a valid hostname: %w", u.Hostname(), err)
			}
		}
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL != "" {
		if u, err := url.Parse(c.MQTT.BrokerURL); err == nil && u.Hostname() != "" {
			if _, err := idna.Lookup.ToASCII(u.Hostname()); err != nil {
				return fmt.Errorf("mqtt.broker_url host %q is not a valid hostname: %w", u.Hostname(), err)
			}
		}
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// hostOnly strips a trailing ":port" from a host:port address, for
// hostname validation that doesn't care about the port.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSuffix(addr, ":")
}

// Default returns a default configuration with every bridge disabled,
// suitable for running the bare kernel locally.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
