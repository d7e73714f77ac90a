// Package config handles netmonitor configuration from a YAML file in the
// data directory, with validated ranges and live reload.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"netmonitor/errkind"
)

// Config is the full daemon configuration.
type Config struct {
	SamplingIntervalSeconds int    `yaml:"samplingIntervalSeconds"`
	RawTTLDays              int    `yaml:"rawTTLDays"`
	HourTTLDays             int    `yaml:"hourTTLDays"`
	ServerPort              int    `yaml:"serverPort"`
	LogLevel                string `yaml:"logLevel"`
	DataDir                 string `yaml:"dataDir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SamplingIntervalSeconds: 5,
		RawTTLDays:              7,
		HourTTLDays:             90,
		ServerPort:              7500,
		LogLevel:                "info",
		DataDir:                 defaultDataDir(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netmonitor"
	}
	return filepath.Join(home, ".netmonitor")
}

// LoadFile reads a YAML configuration file. A missing file yields the
// defaults; a present but invalid file is an error so typos never silently
// fall back.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.SamplingIntervalSeconds == 0 {
		c.SamplingIntervalSeconds = d.SamplingIntervalSeconds
	}
	if c.RawTTLDays == 0 {
		c.RawTTLDays = d.RawTTLDays
	}
	if c.HourTTLDays == 0 {
		c.HourTTLDays = d.HourTTLDays
	}
	if c.ServerPort == 0 {
		c.ServerPort = d.ServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
}

// Validate checks every knob against its documented range.
func (c Config) Validate() error {
	if c.SamplingIntervalSeconds < 1 || c.SamplingIntervalSeconds > 3600 {
		return fmt.Errorf("%w: samplingIntervalSeconds %d out of range [1, 3600]",
			errkind.ErrValidation, c.SamplingIntervalSeconds)
	}
	if c.RawTTLDays < 1 {
		return fmt.Errorf("%w: rawTTLDays %d must be >= 1", errkind.ErrValidation, c.RawTTLDays)
	}
	if c.HourTTLDays < 1 {
		return fmt.Errorf("%w: hourTTLDays %d must be >= 1", errkind.ErrValidation, c.HourTTLDays)
	}
	if c.ServerPort < 1024 || c.ServerPort > 65535 {
		return fmt.Errorf("%w: serverPort %d out of range [1024, 65535]",
			errkind.ErrValidation, c.ServerPort)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a config log level to slog.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: unknown logLevel %q", errkind.ErrValidation, s)
}

// DBPath returns the store file location under the data directory.
func (c Config) DBPath() string { return filepath.Join(c.DataDir, "netmonitor.db") }

// LogDir returns the log directory under the data directory.
func (c Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }

// Manager holds the live configuration and supports reloading it from disk.
// Periodic tasks read through Current on every pass, so a successful reload
// takes effect on their next tick without a restart.
type Manager struct {
	path  string
	level *slog.LevelVar

	mu  sync.RWMutex
	cur Config
}

// NewManager wraps an initial configuration loaded from path. level may be
// nil when the caller does not want reloads to retune logging.
func NewManager(path string, initial Config, level *slog.LevelVar) *Manager {
	return &Manager{path: path, cur: initial, level: level}
}

// Current returns the live configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Apply sets one enumerated key on the live configuration. Unknown keys and
// out-of-range values are rejected without touching the running config. A
// serverPort change validates and sticks but only binds after a restart.
func (m *Manager) Apply(key, value string) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cur
	switch key {
	case "samplingIntervalSeconds", "rawTTLDays", "hourTTLDays", "serverPort":
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s wants an integer, got %q", errkind.ErrValidation, key, value)
		}
		switch key {
		case "samplingIntervalSeconds":
			cfg.SamplingIntervalSeconds = n
		case "rawTTLDays":
			cfg.RawTTLDays = n
		case "hourTTLDays":
			cfg.HourTTLDays = n
		case "serverPort":
			cfg.ServerPort = n
		}
	case "logLevel":
		cfg.LogLevel = value
	default:
		return Config{}, fmt.Errorf("%w: unknown config key %q", errkind.ErrValidation, key)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	m.cur = cfg
	if m.level != nil {
		lvl, _ := ParseLevel(cfg.LogLevel)
		m.level.Set(lvl)
	}
	return cfg, nil
}

// Reload re-reads the file and swaps the live configuration. On any error
// the previous configuration stays in force. Port and data-dir changes are
// reported but require a restart to apply; the caller surfaces that.
func (m *Manager) Reload() (Config, error) {
	cfg, err := LoadFile(m.path)
	if err != nil {
		return Config{}, err
	}

	m.mu.Lock()
	cfg.DataDir = m.cur.DataDir // immutable while running
	m.cur = cfg
	m.mu.Unlock()

	if m.level != nil {
		lvl, _ := ParseLevel(cfg.LogLevel)
		m.level.Set(lvl)
	}
	return cfg, nil
}
