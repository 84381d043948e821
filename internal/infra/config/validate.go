package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateWorkspace(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateStore(cfg, ve)
	validateBus(cfg, ve)
	validateStream(cfg, ve)
	validateSatellite(cfg, ve)
	validateHub(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateWorkspace(cfg *Config, ve *ValidationError) {
	if strings.TrimSpace(cfg.Workspace) == "" {
		ve.Add("workspace is required")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is invalid (valid: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json", "auto", "":
	default:
		ve.Add("logger.format %q is invalid (valid: text, json, auto)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (valid: stdout, noop)", cfg.Tracer.Exporter)
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Path == "" {
		ve.Add("store.path is required")
	}
	if cfg.Store.BreakerTimeout < 0 {
		ve.Add("store.breaker_timeout must not be negative")
	}
}

func validateBus(cfg *Config, ve *ValidationError) {
	if cfg.Bus.Capacity < 1 {
		ve.Add("bus.capacity must be >= 1")
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	if cfg.Stream.Addr == "" {
		ve.Add("stream.addr is required")
	} else if _, _, err := net.SplitHostPort(cfg.Stream.Addr); err != nil {
		ve.Add("stream.addr %q is not a valid host:port", cfg.Stream.Addr)
	}
	if cfg.Stream.KeepAlive < 0 {
		ve.Add("stream.keep_alive must not be negative")
	}
	if cfg.Stream.RequestsPerMin < 0 {
		ve.Add("stream.requests_per_min must not be negative")
	}
	if cfg.Stream.RequestsPerMin > 0 && cfg.Stream.Burst < 1 {
		ve.Add("stream.burst must be >= 1 when rate limiting is enabled")
	}
}

func validateSatellite(cfg *Config, ve *ValidationError) {
	if !cfg.Satellite.Enabled {
		return
	}
	if cfg.Satellite.Port < 0 || cfg.Satellite.Port > 65535 {
		ve.Add("satellite.port %d is out of range", cfg.Satellite.Port)
	}
	if cfg.Satellite.PortRange < 0 {
		ve.Add("satellite.port_range must not be negative")
	}
	if cfg.Satellite.EnvFile == "" {
		ve.Add("satellite.env_file is required when satellite is enabled")
	}
	if cfg.Satellite.SendBuffer < 1 {
		ve.Add("satellite.send_buffer must be >= 1")
	}
}

func validateHub(cfg *Config, ve *ValidationError) {
	if cfg.Hub.PeekLimit < 0 {
		ve.Add("hub.peek_limit must not be negative")
	}
	if cfg.Hub.ResultsLimit < 0 {
		ve.Add("hub.results_limit must not be negative")
	}
	if cfg.Hub.MaxResults < 0 {
		ve.Add("hub.max_results must not be negative")
	}
	if cfg.Hub.PruneSchedule != "" {
		if err := checkSchedule(cfg.Hub.PruneSchedule); err != nil {
			ve.Add("hub.prune_schedule %q: %v", cfg.Hub.PruneSchedule, err)
		}
		if cfg.Hub.MaxResults == 0 {
			ve.Add("hub.max_results must be > 0 when hub.prune_schedule is set")
		}
	}
	if cfg.Hub.ReapSchedule != "" {
		if err := checkSchedule(cfg.Hub.ReapSchedule); err != nil {
			ve.Add("hub.reap_schedule %q: %v", cfg.Hub.ReapSchedule, err)
		}
		if cfg.Hub.HeartbeatTTL <= 0 {
			ve.Add("hub.heartbeat_ttl must be > 0 when hub.reap_schedule is set")
		}
	}
}

// checkSchedule accepts a positive duration or a standard cron expression.
func checkSchedule(s string) error {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return fmt.Errorf("duration must be positive")
		}
		return nil
	}
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("not a duration or cron expression: %w", err)
	}
	return nil
}
