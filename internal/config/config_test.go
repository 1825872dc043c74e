package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.False(t, cfg.Server.Single)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, "127.0.0.1", cfg.Client.Address)
	assert.Equal(t, 7777, cfg.Client.Port)
	assert.Equal(t, "file", cfg.Store.Type)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)

	result := cfg.Validate()
	assert.True(t, result.Valid, "%v", result.Errors)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimta.toml")
	content := `
[server]
hostname = "mx.example.com"
address = "0.0.0.0"
port = 2525
single = true
idle_timeout = "5m"

[client]
identifier = "relay.example.com"
port = 2525

[store]
type = "sqlite"
url = "messages.db"
breaker = true

[logging]
level = "debug"
format = "json"

[metrics]
enabled = true
listen = "127.0.0.1:9100"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mx.example.com", cfg.Server.Hostname)
	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, 2525, cfg.Server.Port)
	assert.True(t, cfg.Server.Single)
	assert.Equal(t, 5*time.Minute, cfg.Server.IdleTimeout.Duration)
	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, "127.0.0.1", cfg.Client.Address)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.True(t, cfg.Store.Breaker)
	assert.Equal(t, uint32(5), cfg.Store.BreakerFailures)
	assert.Equal(t, "json", cfg.Logging.Format)

	server := cfg.ServerConfig()
	assert.Equal(t, "0.0.0.0:2525", server.ListenAddr)
	assert.Equal(t, "mx.example.com", server.Hostname)
	assert.Equal(t, "127.0.0.1:9100", server.StatusAddr)
	assert.True(t, server.Single)

	client := cfg.ClientConfig()
	assert.Equal(t, "relay.example.com", client.Identifier)
	assert.Equal(t, "127.0.0.1:2525", cfg.ClientAddr())

	st := cfg.StoreConfig()
	assert.Equal(t, "sqlite", st.Type)
	assert.Equal(t, "messages.db", st.URL)
	assert.Equal(t, 30*time.Second, st.BreakerTimeout)
}

func TestLoadConfigResolvesStoreDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimta.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\ntype = \"file\"\ndir = \"mail\"\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mail"), cfg.Store.Dir)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[server\nport = "), 0644))
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "error parsing TOML")

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("[store]\ntype = \"tape\"\n[logging]\nlevel = \"loud\"\n"), 0644))
	_, err = LoadConfig(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.type")
	assert.Contains(t, err.Error(), "logging.level")

	duration := filepath.Join(dir, "duration.toml")
	require.NoError(t, os.WriteFile(duration, []byte("[server]\nidle_timeout = \"soon\"\n"), 0644))
	_, err = LoadConfig(duration)
	assert.Error(t, err)
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Skipf("a system config file is present: %v", err)
	}
	if _, statErr := os.Stat("/etc/minimta/minimta.toml"); statErr == nil {
		t.Skip("a system config file is present")
	}
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad hostname", func(c *Config) { c.Server.Hostname = "bad host!" }, "server.hostname"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative line length", func(c *Config) { c.Server.MaxLineLength = -1 }, "server.max_line_length"},
		{"multi-token identifier", func(c *Config) { c.Client.Identifier = "two words" }, "client.identifier"},
		{"client port zero", func(c *Config) { c.Client.Port = 0 }, "client.port"},
		{"unknown store", func(c *Config) { c.Store.Type = "tape" }, "store.type"},
		{"postgres without url", func(c *Config) { c.Store.Type = "postgres" }, "store.url"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad metrics listen", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = "nowhere"
		}, "metrics.listen"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			result := cfg.Validate()
			require.False(t, result.Valid)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, tc.field, result.Errors[0].Field)
			assert.Contains(t, result.Errors[0].Error(), tc.field)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Type = "memory"
	cfg.Server.MaxLineLength = 100

	result := cfg.Validate()
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 2)
}

func TestApplyArgs(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyArgs(nil))
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)

	require.NoError(t, cfg.ApplyArgs([]string{"10.0.0.5"}))
	assert.Equal(t, "10.0.0.5", cfg.Server.Address)
	assert.Equal(t, "10.0.0.5", cfg.Client.Address)
	assert.Equal(t, 7777, cfg.Server.Port)

	require.NoError(t, cfg.ApplyArgs([]string{"localhost", "2525"}))
	assert.Equal(t, "localhost:2525", cfg.ClientAddr())
	assert.Equal(t, "localhost:2525", cfg.ServerConfig().ListenAddr)

	assert.Error(t, cfg.ApplyArgs([]string{"localhost", "port"}))
	assert.Error(t, cfg.ApplyArgs([]string{"localhost", "99999"}))
	assert.Error(t, cfg.ApplyArgs([]string{"a", "1", "b"}))
}

func TestServerConfigDefaultsHostname(t *testing.T) {
	cfg := DefaultConfig()
	server := cfg.ServerConfig()
	assert.NotEmpty(t, server.Hostname)
	assert.Empty(t, server.StatusAddr)
	assert.NotEmpty(t, cfg.ClientConfig().Identifier)
}

func TestSaveAndCreateDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "minimta.toml")

	require.NoError(t, CreateDefaultConfig(path))
	assert.Error(t, CreateDefaultConfig(path), "existing file must not be overwritten")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# minimta configuration"))
	assert.Contains(t, string(data), "shutdown_timeout")
	assert.Contains(t, string(data), "30s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
	assert.Equal(t, DefaultConfig().Client, cfg.Client)
}

func TestSaveConfigWithCredentialsIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimta.toml")
	cfg := DefaultConfig()
	cfg.Store.Type = "redis"
	cfg.Store.URL = "redis://:secret@localhost:6379/0"
	require.NoError(t, cfg.SaveConfig(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg.Store.URL = "redis://localhost:6379/0"
	assert.False(t, cfg.containsCredentials())
	cfg.Store.URL = "user:pass@tcp(localhost:3306)/mail"
	assert.True(t, cfg.containsCredentials())
}
