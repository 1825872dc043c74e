package config

import (
	"fmt"
	"net"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

var (
	validStoreTypes = []string{"file", "memory", "redis", "memcached", "sqlite", "sqlite3", "postgres", "mysql"}
	validLevels     = []string{"debug", "info", "warn", "error"}
	validFormats    = []string{"text", "json"}
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error in field '%s': %s (current value: %v)", e.Field, e.Message, e.Value)
}

// ValidationResult holds the results of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
	Valid    bool
}

// AddError adds a validation error
func (vr *ValidationResult) AddError(field string, value interface{}, message string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message})
	vr.Valid = false
}

// AddWarning adds a validation warning
func (vr *ValidationResult) AddWarning(field string, value interface{}, message string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message})
}

// Validate checks every section and collects all problems found.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateServer(result)
	c.validateClient(result)
	c.validateStore(result)
	c.validateLogging(result)
	c.validateMetrics(result)

	return result
}

func (c *Config) validateServer(result *ValidationResult) {
	if c.Server.Hostname != "" && !isValidHostname(c.Server.Hostname) {
		result.AddError("server.hostname", c.Server.Hostname, "invalid hostname")
	}
	if !isValidHost(c.Server.Address) {
		result.AddError("server.address", c.Server.Address, "invalid listen address")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		result.AddError("server.port", c.Server.Port, "port must be between 0 and 65535")
	}
	if c.Server.MaxLineLength < 0 {
		result.AddError("server.max_line_length", c.Server.MaxLineLength, "must not be negative")
	} else if c.Server.MaxLineLength > 0 && c.Server.MaxLineLength < 1024 {
		result.AddWarning("server.max_line_length", c.Server.MaxLineLength, "very small line limit will reject ordinary body lines")
	}
	if c.Server.IdleTimeout.Duration < 0 {
		result.AddError("server.idle_timeout", c.Server.IdleTimeout, "must not be negative")
	}
	if c.Server.ShutdownTimeout.Duration < 0 {
		result.AddError("server.shutdown_timeout", c.Server.ShutdownTimeout, "must not be negative")
	}
}

func (c *Config) validateClient(result *ValidationResult) {
	if c.Client.Identifier != "" && len(strings.Fields(c.Client.Identifier)) != 1 {
		result.AddError("client.identifier", c.Client.Identifier, "identifier must be a single token")
	}
	if c.Client.Address == "" {
		result.AddError("client.address", c.Client.Address, "server address is required")
	} else if !isValidHost(c.Client.Address) {
		result.AddError("client.address", c.Client.Address, "invalid server address")
	}
	if c.Client.Port <= 0 || c.Client.Port > 65535 {
		result.AddError("client.port", c.Client.Port, "port must be between 1 and 65535")
	}
	if c.Client.DialTimeout.Duration < 0 {
		result.AddError("client.dial_timeout", c.Client.DialTimeout, "must not be negative")
	}
}

func (c *Config) validateStore(result *ValidationResult) {
	if c.Store.Type != "" && !slices.Contains(validStoreTypes, c.Store.Type) {
		result.AddError("store.type", c.Store.Type, fmt.Sprintf("invalid store type, must be one of: %s", strings.Join(validStoreTypes, ", ")))
		return
	}

	switch c.Store.Type {
	case "postgres", "mysql":
		if c.Store.URL == "" {
			result.AddError("store.url", c.Store.URL, fmt.Sprintf("a connection URL is required for %s", c.Store.Type))
		}
	case "memory":
		result.AddWarning("store.type", c.Store.Type, "messages are lost when the server stops")
	}

	if c.Store.Breaker && c.Store.BreakerFailures == 0 {
		result.AddWarning("store.breaker_failures", c.Store.BreakerFailures, "zero selects the default of 5")
	}
	if c.Store.BreakerTimeout.Duration < 0 {
		result.AddError("store.breaker_timeout", c.Store.BreakerTimeout, "must not be negative")
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	if c.Logging.Level != "" && !slices.Contains(validLevels, c.Logging.Level) {
		result.AddError("logging.level", c.Logging.Level, fmt.Sprintf("invalid log level, must be one of: %s", strings.Join(validLevels, ", ")))
	}
	if c.Logging.Format != "" && !slices.Contains(validFormats, c.Logging.Format) {
		result.AddError("logging.format", c.Logging.Format, fmt.Sprintf("invalid log format, must be one of: %s", strings.Join(validFormats, ", ")))
	}
}

func (c *Config) validateMetrics(result *ValidationResult) {
	if !c.Metrics.Enabled {
		return
	}
	if !isValidListenAddress(c.Metrics.Listen) {
		result.AddError("metrics.listen", c.Metrics.Listen, "invalid listen address")
	}
}

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	if hostname == "localhost" || net.ParseIP(hostname) != nil {
		return true
	}
	return hostnameRegex.MatchString(hostname)
}

// isValidHost accepts an empty host (all interfaces), an IP or a hostname.
func isValidHost(host string) bool {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return true
	}
	return isValidHostname(host)
}

func isValidListenAddress(addr string) bool {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return false
	}
	return isValidHost(host)
}
