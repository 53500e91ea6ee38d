package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("monitor:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// Override searchPathsFunc to avoid finding real config files on
	// developer/deploy machines.
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("monitor:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  enabled: true\n  broker_url: ${CIRCUITRY_TEST_BROKER}\n"), 0600)
	os.Setenv("CIRCUITRY_TEST_BROKER", "mqtt://localhost:1883")
	defer os.Unsetenv("CIRCUITRY_TEST_BROKER")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.BrokerURL != "mqtt://localhost:1883" {
		t.Errorf("broker_url = %q, want %q", cfg.MQTT.BrokerURL, "mqtt://localhost:1883")
	}
}

func TestLoad_InlineSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("forge:\n  enabled: true\n  owner: nugget\n  repo: circuitry\n  token: ghp-test-token\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Forge.Token != "ghp-test-token" {
		t.Errorf("token = %q, want %q", cfg.Forge.Token, "ghp-test-token")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Bus.TickIntervalMS != 10 {
		t.Errorf("Bus.TickIntervalMS = %d, want 10", cfg.Bus.TickIntervalMS)
	}
	if cfg.Monitor.Port != 8080 {
		t.Errorf("Monitor.Port = %d, want 8080", cfg.Monitor.Port)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "./data")
	}
	if cfg.Contacts.SQLitePath != filepath.Join("./data", "contacts.db") {
		t.Errorf("Contacts.SQLitePath = %q, want derived from DataDir", cfg.Contacts.SQLitePath)
	}
	if cfg.MQTT.ClientID != "circuitry" {
		t.Errorf("MQTT.ClientID = %q, want %q", cfg.MQTT.ClientID, "circuitry")
	}
}

func TestValidate_ForgeEnabledMissingRepo(t *testing.T) {
	cfg := Default()
	cfg.Forge = ForgeConfig{Enabled: true, Token: "x", PollIntervalSec: 60}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing forge.owner/repo")
	}
}

func TestValidate_ForgePollIntervalTooLow(t *testing.T) {
	cfg := Default()
	cfg.Forge = ForgeConfig{Enabled: true, Owner: "nugget", Repo: "circuitry", Token: "x", PollIntervalSec: 1}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for forge.poll_interval_sec below minimum")
	}
}

func TestValidate_MailEnabledMissingHost(t *testing.T) {
	cfg := Default()
	cfg.Mail = MailConfig{Enabled: true, Username: "me", Password: "x", PollIntervalSec: 60}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing mail.host")
	}
}

func TestValidate_ContactsEnabledMissingURL(t *testing.T) {
	cfg := Default()
	cfg.Contacts = ContactsConfig{Enabled: true, PollIntervalSec: 60}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing contacts.url")
	}
}

func TestValidate_DisabledBridgesSkipValidation(t *testing.T) {
	cfg := Default()
	cfg.Forge = ForgeConfig{Enabled: false}
	cfg.Mail = MailConfig{Enabled: false}
	cfg.Contacts = ContactsConfig{Enabled: false}
	cfg.MQTT = MQTTConfig{Enabled: false}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled bridges should skip validation, got: %v", err)
	}
}

func TestMQTTConfigConfigured(t *testing.T) {
	cases := []struct {
		name string
		cfg  MQTTConfig
		want bool
	}{
		{"enabled with broker", MQTTConfig{Enabled: true, BrokerURL: "mqtt://x"}, true},
		{"disabled", MQTTConfig{Enabled: false, BrokerURL: "mqtt://x"}, false},
		{"enabled no broker", MQTTConfig{Enabled: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.Configured(); got != tc.want {
				t.Errorf("Configured() = %v, want %v", got, tc.want)
			}
		})
	}
}
