// Package config loads the daobackend process configuration: a YAML file for
// network/store/webhook settings and task scheduling overrides, plus an
// optional TOML file overriding individual task metadata defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support human-readable YAML values like "90s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Network identifies which chain the process tracks.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// TaskOverride overrides a registered task's enabled state and interval.
type TaskOverride struct {
	Enabled  *bool    `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// ChainStateConfig tunes the reconciliation loop's staleness thresholds.
type ChainStateConfig struct {
	StaleBlocks  int      `yaml:"stale_blocks"`
	StaleMaxAge  Duration `yaml:"stale_max_age"`
	PollInterval Duration `yaml:"poll_interval"`
	RatePerSec   float64  `yaml:"rate_per_sec"`
	RateBurst    int      `yaml:"rate_burst"`
}

// WebhookConfig configures the inbound HTTP ingress surface.
type WebhookConfig struct {
	ListenAddress string `yaml:"listen"`
	URL           string `yaml:"url"`
	Auth          string `yaml:"auth"`
	JWTSecret     string `yaml:"jwt_secret"`
}

// StoreConfig configures the relational store connection.
type StoreConfig struct {
	DSN         string   `yaml:"dsn"`
	SQLitePath  string   `yaml:"sqlite_path"`
	MaxOpenConn int      `yaml:"max_open_conns"`
	MaxIdleConn int      `yaml:"max_idle_conns"`
	ConnMaxLife Duration `yaml:"conn_max_lifetime"`
}

// BlockchainConfig configures the outbound chain HTTP client.
type BlockchainConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// LoggingConfig configures the structured logger sink.
type LoggingConfig struct {
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures the OpenTelemetry exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Traces   bool   `yaml:"traces"`
	Metrics  bool   `yaml:"metrics"`
}

// Config captures runtime configuration for the daobackend process.
type Config struct {
	Environment string                  `yaml:"environment"`
	Network     Network                 `yaml:"network"`
	Webhook     WebhookConfig           `yaml:"webhook"`
	Store       StoreConfig             `yaml:"store"`
	Blockchain  BlockchainConfig        `yaml:"blockchain"`
	ChainState  ChainStateConfig        `yaml:"chain_state"`
	Logging     LoggingConfig           `yaml:"logging"`
	Telemetry   TelemetryConfig         `yaml:"telemetry"`
	Tasks       map[string]TaskOverride `yaml:"tasks"`

	// TaskMetadataFile, when set, points at a TOML file that overrides
	// registry-default task metadata (priority, retries, batch size) without
	// requiring a code change. See LoadTaskMetadataFile.
	TaskMetadataFile string `yaml:"task_metadata_file"`
}

// TaskMetadataOverride is one entry of the optional TOML task-metadata file.
type TaskMetadataOverride struct {
	Priority    string `toml:"priority"`
	MaxRetries  int    `toml:"max_retries"`
	RetryDelay  int    `toml:"retry_delay_seconds"`
	Timeout     int    `toml:"timeout_seconds"`
	MaxInFlight int    `toml:"max_concurrent"`
	BatchSize   int    `toml:"batch_size"`
}

// TaskMetadataFileDocument is the root of the optional tasks.toml file.
type TaskMetadataFileDocument struct {
	Tasks map[string]TaskMetadataOverride `toml:"tasks"`
}

// Load reads configuration from the supplied YAML path and applies defaults,
// environment variable overrides, and validation.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadTaskMetadataFile reads the optional TOML task-metadata override file.
// A missing path is not an error; callers pass Config.TaskMetadataFile.
func LoadTaskMetadataFile(path string) (map[string]TaskMetadataOverride, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	var doc TaskMetadataFileDocument
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("decode task metadata file: %w", err)
	}
	return doc.Tasks, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Network == "" {
		cfg.Network = Mainnet
	}
	if cfg.Webhook.ListenAddress == "" {
		cfg.Webhook.ListenAddress = ":8090"
	}
	if cfg.Store.MaxOpenConn <= 0 {
		cfg.Store.MaxOpenConn = 10
	}
	if cfg.Store.MaxIdleConn <= 0 {
		cfg.Store.MaxIdleConn = 5
	}
	if cfg.Store.ConnMaxLife.Duration == 0 {
		cfg.Store.ConnMaxLife.Duration = time.Hour
	}
	if cfg.Blockchain.Timeout.Duration == 0 {
		cfg.Blockchain.Timeout.Duration = 10 * time.Second
	}
	if cfg.ChainState.StaleBlocks <= 0 {
		cfg.ChainState.StaleBlocks = 10
	}
	if cfg.ChainState.StaleMaxAge.Duration == 0 {
		cfg.ChainState.StaleMaxAge.Duration = 5 * time.Minute
	}
	if cfg.ChainState.PollInterval.Duration == 0 {
		cfg.ChainState.PollInterval.Duration = 90 * time.Second
	}
	if cfg.ChainState.RatePerSec <= 0 {
		cfg.ChainState.RatePerSec = 5
	}
	if cfg.ChainState.RateBurst <= 0 {
		cfg.ChainState.RateBurst = 10
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
	if cfg.Tasks == nil {
		cfg.Tasks = map[string]TaskOverride{}
	}
}

// applyEnvOverrides implements the per-task ENABLED/INTERVAL_SECONDS pairs and
// the top-level knobs documented for the core's configuration surface.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("NETWORK")); v != "" {
		cfg.Network = Network(v)
	}
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_URL")); v != "" {
		cfg.Webhook.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_AUTH")); v != "" {
		cfg.Webhook.Auth = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAIN_STATE_STALE_BLOCKS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChainState.StaleBlocks = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHAIN_STATE_STALE_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChainState.StaleMaxAge.Duration = time.Duration(n) * time.Minute
		}
	}

	for taskType := range cfg.Tasks {
		override := cfg.Tasks[taskType]
		envPrefix := strings.ToUpper(strings.ReplaceAll(taskType, "-", "_")) + "_"
		if v := strings.TrimSpace(os.Getenv(envPrefix + "ENABLED")); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				override.Enabled = &b
			}
		}
		if v := strings.TrimSpace(os.Getenv(envPrefix + "INTERVAL_SECONDS")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				override.Interval.Duration = time.Duration(n) * time.Second
			}
		}
		cfg.Tasks[taskType] = override
	}
}

func validate(cfg Config) error {
	switch cfg.Network {
	case Mainnet, Testnet:
	default:
		return fmt.Errorf("config: network must be %q or %q, got %q", Mainnet, Testnet, cfg.Network)
	}
	if cfg.Store.DSN == "" && cfg.Store.SQLitePath == "" {
		return fmt.Errorf("config: store.dsn or store.sqlite_path must be set")
	}
	if cfg.Blockchain.BaseURL == "" {
		return fmt.Errorf("config: blockchain.base_url must be set")
	}
	if cfg.ChainState.StaleBlocks < 0 {
		return fmt.Errorf("config: chain_state.stale_blocks must be >= 0")
	}
	return nil
}
