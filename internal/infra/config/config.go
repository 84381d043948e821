package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Workspace string          `yaml:"workspace"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Store     StoreConfig     `yaml:"store"`
	Bus       BusConfig       `yaml:"bus"`
	Stream    StreamConfig    `yaml:"stream"`
	Satellite SatelliteConfig `yaml:"satellite"`
	Hub       HubConfig       `yaml:"hub"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json or auto
	Output string `yaml:"output"` // stderr, stdout or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// StoreConfig holds task store settings.
type StoreConfig struct {
	Path            string        `yaml:"path"` // relative paths resolve against workspace
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// BusConfig holds broadcast bus settings.
type BusConfig struct {
	Capacity int `yaml:"capacity"` // per-subscriber backlog
}

// StreamConfig holds the HTTP event-stream server settings.
type StreamConfig struct {
	Addr           string        `yaml:"addr"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	RequestsPerMin int           `yaml:"requests_per_min"`
	Burst          int           `yaml:"burst"`
}

// SatelliteConfig holds the companion websocket server settings.
type SatelliteConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PortRange  int    `yaml:"port_range"` // extra ports tried after Port is taken
	EnvFile    string `yaml:"env_file"`
	MDNS       bool   `yaml:"mdns"`
	SendBuffer int    `yaml:"send_buffer"`
}

// HubConfig holds command hub limits and housekeeping schedules.
type HubConfig struct {
	PeekLimit     int           `yaml:"peek_limit"`
	ResultsLimit  int           `yaml:"results_limit"`
	MaxResults    int           `yaml:"max_results"`
	PruneSchedule string        `yaml:"prune_schedule"` // cron expression or duration; empty disables
	HeartbeatTTL  time.Duration `yaml:"heartbeat_ttl"`
	ReapSchedule  string        `yaml:"reap_schedule"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Workspace: ".",
		Logger: LoggerConfig{
			Level:  "info",
			Format: "auto",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Store: StoreConfig{
			Path:            filepath.Join(".taskrails", "taskrails.db"),
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Bus: BusConfig{
			Capacity: 100,
		},
		Stream: StreamConfig{
			Addr:           "127.0.0.1:4567",
			KeepAlive:      15 * time.Second,
			RequestsPerMin: 600,
			Burst:          100,
		},
		Satellite: SatelliteConfig{
			Enabled:    true,
			Host:       "127.0.0.1",
			Port:       3002,
			PortRange:  10,
			EnvFile:    filepath.Join(".taskrails", "config", "local_env.json"),
			SendBuffer: 64,
		},
		Hub: HubConfig{
			PeekLimit:    10,
			ResultsLimit: 50,
			MaxResults:   500,
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error: defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps TASKRAILS_* env vars to config fields. Unparseable
// numeric values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASKRAILS_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("TASKRAILS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("TASKRAILS_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("TASKRAILS_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("TASKRAILS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("TASKRAILS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("TASKRAILS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TASKRAILS_BUS_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bus.Capacity = n
		}
	}
	if v := os.Getenv("TASKRAILS_STREAM_ADDR"); v != "" {
		cfg.Stream.Addr = v
	}
	if v := os.Getenv("TASKRAILS_SATELLITE_ENABLED"); v != "" {
		cfg.Satellite.Enabled = v == "true"
	}
	if v := os.Getenv("TASKRAILS_SATELLITE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Satellite.Port = n
		}
	}
	if v := os.Getenv("TASKRAILS_SATELLITE_MDNS"); v == "true" {
		cfg.Satellite.MDNS = true
	}
	if v := os.Getenv("TASKRAILS_HUB_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hub.MaxResults = n
		}
	}
}

// ResolvePath returns p unchanged when absolute, otherwise joined to the
// workspace directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Group or world write is rejected; read access is fine.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
