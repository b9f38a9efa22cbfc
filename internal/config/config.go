// Package config provides Viper-based configuration loading for the fortune daemon.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server operation modes.
const (
	ModeProducer = "producer"
	ModeReplica  = "replica"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Mode is "producer" (computes outcomes) or "replica" (replays an upstream feed).
	Mode string `mapstructure:"mode"`
	// SessionID keys the drawing snapshot in the store.
	SessionID string `mapstructure:"session_id"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// StorageConfig selects the snapshot store.
type StorageConfig struct {
	// Backend is "postgres" or "bolt".
	Backend string `mapstructure:"backend"`
	// BoltPath is the database file used by the bolt backend.
	BoltPath string `mapstructure:"bolt_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// QueueConfig holds event queue limits.
type QueueConfig struct {
	MaxSize         int           `mapstructure:"max_size"`
	EventTimeout    time.Duration `mapstructure:"event_timeout"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
}

// BroadcastConfig holds the viewer and replica transport settings.
type BroadcastConfig struct {
	// HTTPHost is the bind address for the HTTP API and websocket viewers.
	HTTPHost string `mapstructure:"http_host"`
	// HTTPPort is the TCP port for the HTTP API and websocket viewers.
	HTTPPort int `mapstructure:"http_port"`
	// GRPCHost is the bind address for the replica feed.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the TCP port for the replica feed.
	GRPCPort int `mapstructure:"grpc_port"`
	// Upstream is the producer feed address a replica subscribes to.
	Upstream string `mapstructure:"upstream"`
	// Backlog is the number of recent messages replayed to late viewers.
	Backlog int `mapstructure:"backlog"`
}

// HTTPAddr returns the "host:port" HTTP listen address.
func (b BroadcastConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", b.HTTPHost, b.HTTPPort)
}

// GRPCAddr returns the "host:port" gRPC listen address.
func (b BroadcastConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", b.GRPCHost, b.GRPCPort)
}

// DrawingConfig holds spin presentation and pool seeding settings.
type DrawingConfig struct {
	BaseRotations int           `mapstructure:"base_rotations"`
	SpinDuration  time.Duration `mapstructure:"spin_duration"`
	// WeightScript is an optional Lua file defining weight(amount, id, name).
	WeightScript string `mapstructure:"weight_script"`
	// Preset is an optional YAML or TOML pool loaded when no snapshot exists.
	Preset string `mapstructure:"preset"`
}

// TicketConfig holds verifiable random ticket settings.
type TicketConfig struct {
	// PublicKeyHex is the hex encoded secp256k1 key of the ticket signer,
	// compressed or uncompressed.
	// Empty disables ticket spins.
	PublicKeyHex string `mapstructure:"public_key_hex"`
	// ReplayCacheSize bounds the number of remembered ticket ids.
	ReplayCacheSize int `mapstructure:"replay_cache_size"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Drawing   DrawingConfig   `mapstructure:"drawing"`
	Ticket    TicketConfig    `mapstructure:"ticket"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStorage(c.Storage); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Storage.Backend == BackendPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateQueue(c.Queue); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBroadcast(c.Broadcast, c.Server.Mode); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDrawing(c.Drawing, c.Queue.EventTimeout); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Ticket.ReplayCacheSize < 1 {
		errs = append(errs, fmt.Sprintf("ticket.replay_cache_size must be >= 1, got %d", c.Ticket.ReplayCacheSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	validModes := map[string]bool{ModeProducer: true, ModeReplica: true}
	if !validModes[s.Mode] {
		return fmt.Errorf("server.mode must be one of [producer, replica], got %q", s.Mode)
	}
	if s.SessionID == "" {
		return errors.New("server.session_id must not be empty")
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch s.Backend {
	case BackendPostgres:
		return nil
	case BackendBolt:
		if s.BoltPath == "" {
			return errors.New("storage.bolt_path must not be empty for the bolt backend")
		}
		return nil
	}
	return fmt.Errorf("storage.backend must be one of [postgres, bolt], got %q", s.Backend)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateQueue(q QueueConfig) error {
	var errs []string
	if q.MaxSize < 1 {
		errs = append(errs, fmt.Sprintf("queue.max_size must be >= 1, got %d", q.MaxSize))
	}
	if q.EventTimeout <= 0 {
		errs = append(errs, "queue.event_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBroadcast(b BroadcastConfig, mode string) error {
	var errs []string
	if b.HTTPPort < 1 || b.HTTPPort > 65535 {
		errs = append(errs, fmt.Sprintf("broadcast.http_port must be 1-65535, got %d", b.HTTPPort))
	}
	if b.GRPCPort < 1 || b.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("broadcast.grpc_port must be 1-65535, got %d", b.GRPCPort))
	}
	if b.Backlog < 0 {
		errs = append(errs, fmt.Sprintf("broadcast.backlog must be >= 0, got %d", b.Backlog))
	}
	if mode == ModeReplica && b.Upstream == "" {
		errs = append(errs, "broadcast.upstream must not be empty in replica mode")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateDrawing checks the spin settings. A spin must finish within the
// queue's event timeout, since the spin event waits for its animation.
func validateDrawing(d DrawingConfig, eventTimeout time.Duration) error {
	var errs []string
	if d.BaseRotations < 0 {
		errs = append(errs, fmt.Sprintf("drawing.base_rotations must be >= 0, got %d", d.BaseRotations))
	}
	if d.SpinDuration <= 0 {
		errs = append(errs, "drawing.spin_duration must be positive")
	}
	if eventTimeout > 0 && d.SpinDuration >= eventTimeout {
		errs = append(errs, fmt.Sprintf("drawing.spin_duration (%s) must be shorter than queue.event_timeout (%s)", d.SpinDuration, eventTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with FORTUNE_ prefix
	v.SetEnvPrefix("FORTUNE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance populated with every default value.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", ModeProducer)
	v.SetDefault("server.session_id", "default")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fortune")
	v.SetDefault("database.password", "fortune")
	v.SetDefault("database.name", "fortune")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("storage.backend", BackendBolt)
	v.SetDefault("storage.bolt_path", "fortune.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("queue.max_size", 100)
	v.SetDefault("queue.event_timeout", "30s")
	v.SetDefault("queue.continue_on_error", true)

	v.SetDefault("broadcast.http_host", "0.0.0.0")
	v.SetDefault("broadcast.http_port", 8080)
	v.SetDefault("broadcast.grpc_host", "0.0.0.0")
	v.SetDefault("broadcast.grpc_port", 50061)
	v.SetDefault("broadcast.backlog", 32)

	v.SetDefault("drawing.base_rotations", 5)
	v.SetDefault("drawing.spin_duration", "10s")

	v.SetDefault("ticket.replay_cache_size", 4096)
}
