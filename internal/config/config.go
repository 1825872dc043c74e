package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/busybox42/minimta/internal/logging"
	"github.com/busybox42/minimta/internal/smtp"
	"github.com/busybox42/minimta/internal/store"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultAddress = "127.0.0.1"
	DefaultPort    = 7777

	// maxConfigFileSize bounds what LoadConfig will read.
	maxConfigFileSize = 1 << 20
)

// Duration is a time.Duration written as a string such as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// Config represents the application configuration
type Config struct {
	Server  ServerSection  `toml:"server"`
	Client  ClientSection  `toml:"client"`
	Store   StoreSection   `toml:"store"`
	Logging LoggingSection `toml:"logging"`
	Metrics MetricsSection `toml:"metrics"`
}

// ServerSection configures the accepting side.
type ServerSection struct {
	Hostname        string   `toml:"hostname"` // empty uses the machine hostname
	Address         string   `toml:"address"`
	Port            int      `toml:"port"`
	Single          bool     `toml:"single"`
	MaxLineLength   int      `toml:"max_line_length"`
	IdleTimeout     Duration `toml:"idle_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// ClientSection configures the sending side.
type ClientSection struct {
	Identifier  string   `toml:"identifier"` // empty uses the machine hostname
	Address     string   `toml:"address"`
	Port        int      `toml:"port"`
	DialTimeout Duration `toml:"dial_timeout"`
}

// StoreSection selects and configures the message store.
type StoreSection struct {
	Type            string   `toml:"type"` // "file", "memory", "redis", "memcached", "sqlite", "postgres", "mysql"
	Dir             string   `toml:"dir"`
	URL             string   `toml:"url"`
	KeyPrefix       string   `toml:"key_prefix"`
	Breaker         bool     `toml:"breaker"`
	BreakerFailures uint32   `toml:"breaker_failures"`
	BreakerTimeout  Duration `toml:"breaker_timeout"`
}

// LoggingSection configures log output.
type LoggingSection struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
	File   string `toml:"file"`
}

// MetricsSection configures the status endpoint.
type MetricsSection struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = DefaultAddress
	cfg.Server.Port = DefaultPort
	cfg.Server.MaxLineLength = smtp.DefaultMaxLineLength
	cfg.Server.ShutdownTimeout = Duration{30 * time.Second}

	cfg.Client.Address = DefaultAddress
	cfg.Client.Port = DefaultPort
	cfg.Client.DialTimeout = Duration{10 * time.Second}

	cfg.Store.Type = "file"
	cfg.Store.Dir = "."
	cfg.Store.KeyPrefix = "minimta:"
	cfg.Store.BreakerFailures = 5
	cfg.Store.BreakerTimeout = Duration{30 * time.Second}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Metrics.Listen = "127.0.0.1:9090"

	return cfg
}

// FindConfigFile returns configPath if it exists, or the first config file
// found in the standard locations.
func FindConfigFile(configPath string) (string, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("config file not found at specified path: %s", configPath)
	}

	locations := []string{
		"./minimta.toml",
		"./config/minimta.toml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".minimta.toml"))
	}
	locations = append(locations, "/etc/minimta/minimta.toml")

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}

	return "", errors.New("no config file found")
}

// LoadConfig loads a configuration from a file. With no explicit path and
// no file in the standard locations, the defaults are returned.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	configFile, err := FindConfigFile(configPath)
	if err != nil {
		if configPath != "" {
			return nil, err
		}
		return cfg, nil
	}

	info, err := os.Stat(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max: %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing TOML configuration: %w", err)
	}

	// Relative store paths are resolved against the config file.
	if cfg.Store.Dir != "" && !filepath.IsAbs(cfg.Store.Dir) && cfg.Store.Type == "file" {
		cfg.Store.Dir = filepath.Join(filepath.Dir(configFile), cfg.Store.Dir)
	}

	result := cfg.Validate()
	if !result.Valid {
		var errorMessages []string
		for _, err := range result.Errors {
			errorMessages = append(errorMessages, err.Error())
		}
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errorMessages, "; "))
	}

	return cfg, nil
}

// ApplyArgs applies the positional [address] [port] arguments to both the
// server and client sections.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("expected at most 2 arguments (address, port), got %d", len(args))
	}
	if len(args) >= 1 {
		c.Server.Address = args[0]
		c.Client.Address = args[0]
	}
	if len(args) == 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[1])
		}
		c.Server.Port = port
		c.Client.Port = port
	}
	return nil
}

// ServerConfig maps the configuration onto smtp.Config.
func (c *Config) ServerConfig() *smtp.Config {
	cfg := &smtp.Config{
		Hostname:        c.Server.Hostname,
		ListenAddr:      net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port)),
		Single:          c.Server.Single,
		MaxLineLength:   c.Server.MaxLineLength,
		IdleTimeout:     c.Server.IdleTimeout.Duration,
		ShutdownTimeout: c.Server.ShutdownTimeout.Duration,
	}
	if cfg.Hostname == "" {
		cfg.Hostname = machineHostname()
	}
	if c.Metrics.Enabled {
		cfg.StatusAddr = c.Metrics.Listen
	}
	return cfg
}

// ClientConfig maps the configuration onto smtp.ClientConfig.
func (c *Config) ClientConfig() *smtp.ClientConfig {
	identifier := c.Client.Identifier
	if identifier == "" {
		identifier = machineHostname()
	}
	return &smtp.ClientConfig{
		Identifier:  identifier,
		DialTimeout: c.Client.DialTimeout.Duration,
	}
}

// ClientAddr is the address the client dials.
func (c *Config) ClientAddr() string {
	return net.JoinHostPort(c.Client.Address, strconv.Itoa(c.Client.Port))
}

// StoreConfig maps the configuration onto store.Config.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Type:            c.Store.Type,
		Dir:             c.Store.Dir,
		URL:             c.Store.URL,
		KeyPrefix:       c.Store.KeyPrefix,
		Breaker:         c.Store.Breaker,
		BreakerFailures: c.Store.BreakerFailures,
		BreakerTimeout:  c.Store.BreakerTimeout.Duration,
	}
}

// LoggingConfig maps the configuration onto logging.Config.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		File:   c.Logging.File,
	}
}

func machineHostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

// SaveConfig saves the configuration to a file in TOML format. Files that
// carry store credentials are written owner-only.
func (c *Config) SaveConfig(configPath string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	content := append([]byte("# minimta configuration\n\n"), data...)

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	mode := os.FileMode(0644)
	if c.containsCredentials() {
		mode = 0600
	}
	if err := os.WriteFile(configPath, content, mode); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) containsCredentials() bool {
	if c.Store.URL == "" {
		return false
	}
	// URL style (redis://, postgres://) and mysql DSN style (user:pass@tcp(...)).
	before, _, ok := strings.Cut(c.Store.URL, "@")
	if i := strings.Index(before, "://"); i >= 0 {
		before = before[i+3:]
	}
	return ok && strings.Contains(before, ":")
}

// CreateDefaultConfig creates a default configuration file
func CreateDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists at %s", configPath)
	}
	return DefaultConfig().SaveConfig(configPath)
}
