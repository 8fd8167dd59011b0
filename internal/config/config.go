// Package config loads the service's single YAML configuration document:
// per-coin backend wiring, notifier transports, event sinks, the database
// URL, and scheduler periods.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/ledgerd/internal/backend"
)

// Config is the top-level configuration document.
type Config struct {
	DatabaseURL string `yaml:"database_url"`

	Coins map[string]*CoinConfig `yaml:"coins"`

	Notifier   NotifierConfig    `yaml:"notifier"`
	EventSinks []EventSinkConfig `yaml:"event_sinks"`

	Service ServiceConfig `yaml:"service"`

	Logging LoggingConfig `yaml:"logging"`
}

// CoinConfig configures one coin's backend and confirmation policy.
type CoinConfig struct {
	Backend              backend.Config `yaml:"backend"`
	ConfirmationCount    int            `yaml:"confirmation_count"`
	Testnet              bool           `yaml:"testnet"`
}

// NotifierConfig selects and configures the IncomingNotifier transport.
type NotifierConfig struct {
	Kind string `yaml:"kind"` // "pipe", "http", "websocket"

	PipePath string `yaml:"pipe_path,omitempty"`

	HTTPAddr string `yaml:"http_addr,omitempty"`

	WebsocketURL string `yaml:"websocket_url,omitempty"`
}

// EventSinkConfig configures one outbound event_sinks entry.
type EventSinkConfig struct {
	Kind string `yaml:"kind"` // "http", "script", "callback"

	URL string `yaml:"url,omitempty"`

	Script    string `yaml:"script,omitempty"`
	LogOutput bool   `yaml:"log_output,omitempty"`
}

// ServiceConfig holds the scheduler periods and retry policy.
type ServiceConfig struct {
	BroadcastPeriod         time.Duration `yaml:"broadcast_period_seconds"`
	ConfirmationPollPeriod  time.Duration `yaml:"confirmation_poll_period_seconds"`
	TransactionRetries      int           `yaml:"transaction_retries"`
	StatusAddr              string        `yaml:"status_addr,omitempty"`
}

// LoggingConfig holds logging settings, matching the teacher's node.LoggingConfig shape.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns a Config with sensible defaults: per-minute
// broadcast/confirmation cycles, 5 transaction retries, and the default
// per-coin backends from the backend package.
func DefaultConfig() *Config {
	coins := make(map[string]*CoinConfig)
	for symbol, cfg := range backend.DefaultConfigs() {
		coins[symbol] = &CoinConfig{
			Backend:           *cfg,
			ConfirmationCount: 3,
		}
	}

	return &Config{
		DatabaseURL: "postgres://localhost/ledgerd?sslmode=disable",
		Coins:       coins,
		Notifier: NotifierConfig{
			Kind:     "pipe",
			PipePath: "/tmp/ledgerd-notify",
		},
		Service: ServiceConfig{
			BroadcastPeriod:        time.Minute,
			ConfirmationPollPeriod: time.Minute,
			TransactionRetries:     5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and parses the YAML document at path, filling in
// DefaultConfig's values for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	header := []byte("# ledgerd configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
