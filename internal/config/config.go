/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config provides configuration management for the kvdb server.

The configuration system supports multiple sources with clear precedence:
 1. Command-line arguments and flags (highest priority)
 2. Environment variables
 3. Configuration file
 4. Default values (lowest priority)

Command Line:

	dbserver [flags] authfile connections [portnum]

authfile names a file whose first line is the shared secret for the private
namespace. connections is the connection limit (0 means unlimited). portnum
is 0 (ephemeral) or 1024..65535 and defaults to 0.

Configuration File Format:
The configuration file uses a small TOML subset of key = value lines.

	# kvdb configuration
	port = 0
	log_level = "info"
	log_json = false
	metrics_addr = "127.0.0.1:9100"
	advertise = true
	instance_name = "kvdb-lab"

Environment Variables:
  - KVDB_PORT: Listening port when portnum is not given
  - KVDB_LOG_LEVEL: Log level (debug, info, warn, error)
  - KVDB_LOG_JSON: Enable JSON logging (true/false)
  - KVDB_METRICS_ADDR: Address for the Prometheus/health HTTP server
  - KVDB_ADVERTISE: Advertise the server over mDNS (true/false)
  - KVDB_INSTANCE_NAME: mDNS instance name
  - KVDB_CONFIG_FILE: Path to configuration file
*/
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	kverrors "kvdb/internal/errors"
)

// Environment variable names for configuration.
const (
	EnvPort         = "KVDB_PORT"
	EnvLogLevel     = "KVDB_LOG_LEVEL"
	EnvLogJSON      = "KVDB_LOG_JSON"
	EnvMetricsAddr  = "KVDB_METRICS_ADDR"
	EnvAdvertise    = "KVDB_ADVERTISE"
	EnvInstanceName = "KVDB_INSTANCE_NAME"
	EnvConfigFile   = "KVDB_CONFIG_FILE"
)

// Port bounds for a non-ephemeral listening port.
const (
	MinPort = 1024
	MaxPort = 65535
)

// Usage is the fixed usage line printed on an invalid command line.
const Usage = "Usage: dbserver authfile connections [portnum]"

// Default configuration file paths (searched in order).
var DefaultConfigPaths = []string{
	"/etc/kvdb/kvdb.conf",
	"$HOME/.config/kvdb/kvdb.conf",
	"./kvdb.conf",
}

// Config holds all configuration values for the server.
type Config struct {
	AuthFile        string `toml:"-" json:"auth_file"`
	AuthSecret      string `toml:"-" json:"-"`
	ConnectionLimit int    `toml:"-" json:"connections"`
	Port            int    `toml:"port" json:"port"`

	LogLevel string `toml:"log_level" json:"log_level"`
	LogJSON  bool   `toml:"log_json" json:"log_json"`

	MetricsAddr  string `toml:"metrics_addr" json:"metrics_addr"`
	Advertise    bool   `toml:"advertise" json:"advertise"`
	InstanceName string `toml:"instance_name" json:"instance_name"`

	ConfigFile string `toml:"-" json:"-"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Port:     0,
		LogLevel: "info",
		LogJSON:  false,
	}
}

// Manager handles configuration loading, validation, and access.
type Manager struct {
	config *Config
	mu     sync.RWMutex
	getenv func(string) string
}

// NewManager creates a new configuration manager with default values.
func NewManager() *Manager {
	return &Manager{
		config: DefaultConfig(),
		getenv: os.Getenv,
	}
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Set updates the configuration.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var err error

	if c.AuthFile == "" {
		err = multierr.Append(err, fmt.Errorf("authfile is required"))
	}
	if c.ConnectionLimit < 0 {
		err = multierr.Append(err, fmt.Errorf("invalid connections: %d (must be non-negative)", c.ConnectionLimit))
	}
	if !ValidPort(c.Port) {
		err = multierr.Append(err, fmt.Errorf("invalid port: %d (must be 0 or %d-%d)", c.Port, MinPort, MaxPort))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}

	return err
}

// ValidPort reports whether port is 0 or within MinPort..MaxPort.
func ValidPort(port int) bool {
	return port == 0 || (port >= MinPort && port <= MaxPort)
}

// LoadFromFile loads configuration from a TOML file over the current values.
func (m *Manager) LoadFromFile(path string) error {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := m.Get()
	if err := parseTOML(string(data), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// LoadFromEnv merges environment variables over the current values.
// Unparsable numeric or boolean values are reported rather than ignored.
func (m *Manager) LoadFromEnv() error {
	cfg := m.Get()
	var errs error

	if v := m.getenv(EnvPort); v != "" {
		port, ok := parseDigits(v)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%s: not a port number: %q", EnvPort, v))
		} else {
			cfg.Port = port
		}
	}
	if v := m.getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := m.getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = parseBool(v)
	}
	if v := m.getenv(EnvMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if v := m.getenv(EnvAdvertise); v != "" {
		cfg.Advertise = parseBool(v)
	}
	if v := m.getenv(EnvInstanceName); v != "" {
		cfg.InstanceName = v
	}

	m.Set(cfg)
	return errs
}

// FindConfigFile returns the first configuration file that exists, or "".
func (m *Manager) FindConfigFile() string {
	if envPath := m.getenv(EnvConfigFile); envPath != "" {
		if _, err := os.Stat(os.ExpandEnv(envPath)); err == nil {
			return os.ExpandEnv(envPath)
		}
	}

	for _, path := range DefaultConfigPaths {
		expandedPath := os.ExpandEnv(path)
		if _, err := os.Stat(expandedPath); err == nil {
			return expandedPath
		}
	}

	return ""
}

// ParseArgs builds the final configuration from defaults, the config file,
// the environment and args (without the program name). Any problem with the
// command line or the merged values is returned as an InvalidUsage error.
// The secret file is not read here; see ReadAuthSecret.
func (m *Manager) ParseArgs(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("dbserver", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configFile := fs.String("config", "", "path to configuration file")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logJSON := fs.Bool("log-json", false, "emit JSON log lines")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics and health checks on this address")
	advertise := fs.Bool("advertise", false, "advertise the server over mDNS")
	instance := fs.String("instance", "", "mDNS instance name")

	if err := fs.Parse(args); err != nil {
		return nil, kverrors.InvalidUsage(err.Error())
	}

	positional := fs.Args()
	if len(positional) < 2 || len(positional) > 3 {
		return nil, kverrors.InvalidUsage(fmt.Sprintf("expected 2 or 3 arguments, got %d", len(positional)))
	}

	path := *configFile
	if path == "" {
		path = m.FindConfigFile()
	}
	if path != "" {
		if err := m.LoadFromFile(path); err != nil {
			return nil, kverrors.InvalidUsage("config file").WithCause(err)
		}
	}
	if err := m.LoadFromEnv(); err != nil {
		return nil, kverrors.InvalidUsage("environment").WithCause(err)
	}

	cfg := m.Get()
	cfg.AuthFile = positional[0]

	limit, ok := parseDigits(positional[1])
	if !ok {
		return nil, kverrors.InvalidUsage(fmt.Sprintf("connections must be a non-negative integer: %q", positional[1]))
	}
	cfg.ConnectionLimit = limit

	if len(positional) == 3 {
		port, ok := parseDigits(positional[2])
		if !ok {
			return nil, kverrors.InvalidUsage(fmt.Sprintf("portnum must be an integer: %q", positional[2]))
		}
		cfg.Port = port
	}

	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-json") {
		cfg.LogJSON = *logJSON
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	if fs.Changed("advertise") {
		cfg.Advertise = *advertise
	}
	if fs.Changed("instance") {
		cfg.InstanceName = *instance
	}

	if err := cfg.Validate(); err != nil {
		return nil, kverrors.InvalidUsage("configuration validation failed").WithCause(err)
	}

	m.Set(cfg)
	return cfg, nil
}

// ReadAuthSecret returns the first line of the file at path, without its
// line terminator. An empty first line is a valid secret; a file that
// cannot be opened or contains no line at all is not.
func ReadAuthSecret(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", kverrors.SecretUnreadable(path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", kverrors.SecretUnreadable(path, err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// parseDigits accepts optional leading spaces followed by one or more
// decimal digits.
func parseDigits(s string) (int, bool) {
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

// parseTOML parses a simple TOML format (key = value pairs).
func parseTOML(data string, cfg *Config) error {
	lines := strings.Split(data, "\n")

	for lineNum, line := range lines {
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("line %d: invalid syntax: %s", lineNum+1, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := applyConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNum+1, err)
		}
	}

	return nil
}

func applyConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port: %s", value)
		}
		cfg.Port = port
	case "log_level":
		cfg.LogLevel = value
	case "log_json":
		cfg.LogJSON = parseBool(value)
	case "metrics_addr":
		cfg.MetricsAddr = value
	case "advertise":
		cfg.Advertise = parseBool(value)
	case "instance_name":
		cfg.InstanceName = value
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// String returns a string representation of the configuration.
// The secret is never included.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("kvdb Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Auth File:        %s\n", c.AuthFile))
	sb.WriteString(fmt.Sprintf("  Connections:      %d\n", c.ConnectionLimit))
	sb.WriteString(fmt.Sprintf("  Port:             %d\n", c.Port))
	sb.WriteString(fmt.Sprintf("  Log Level:        %s\n", c.LogLevel))
	sb.WriteString(fmt.Sprintf("  Log JSON:         %v\n", c.LogJSON))
	if c.MetricsAddr != "" {
		sb.WriteString(fmt.Sprintf("  Metrics Address:  %s\n", c.MetricsAddr))
	}
	sb.WriteString(fmt.Sprintf("  Advertise:        %v\n", c.Advertise))
	if c.ConfigFile != "" {
		sb.WriteString(fmt.Sprintf("  Config File:      %s\n", c.ConfigFile))
	}
	return sb.String()
}
