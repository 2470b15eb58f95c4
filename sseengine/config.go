package sseengine

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every engine-level setting named by the spec plus the
// ambient file/logging knobs added for this module.
type Config struct {
	// Version is an opaque client version string. No engine component
	// reads it.
	Version string `yaml:"version"`

	// Debug enables verbose structured logging.
	Debug bool `yaml:"debug"`

	// LogFileName, when non-empty, routes logs through a rotating file
	// sink instead of stderr.
	LogFileName string `yaml:"logFileName"`

	// DebugTag is attached to every log line as a "tag" field.
	DebugTag string `yaml:"debugTag"`

	// IdleTimeoutSeconds is fractional seconds of no cache-length change
	// before the connection is considered idle.
	IdleTimeoutSeconds float64 `yaml:"idleTimeout"`

	// ExceptionTimeoutSeconds is fractional seconds of no cache-length
	// change before the connection is considered exceptional.
	ExceptionTimeoutSeconds float64 `yaml:"exceptionTimeout"`

	// SSEBufferExtractIntervalMS is the pacing / idle-tick interval in
	// milliseconds.
	SSEBufferExtractIntervalMS int `yaml:"sseBufferExtractInterval"`

	// EleTypesInInterval is the set of element types eligible for the
	// pacing interval.
	EleTypesInInterval []string `yaml:"eleTypesInInterval"`

	// UnCheckConnectStatePaths lists request-path substrings for which
	// idle detection is skipped entirely.
	UnCheckConnectStatePaths []string `yaml:"unCheckConnectStatePaths"`

	// SSEFilter is the permanent FilterService filter, set programmatically
	// (not loadable from YAML).
	SSEFilter FilterFunc `yaml:"-"`

	// StreamAdapter overrides the default framing adapter, set
	// programmatically (not loadable from YAML).
	StreamAdapter StreamAdapter `yaml:"-"`
}

// DefaultConfig returns a Config with the engine's baseline defaults.
func DefaultConfig() *Config {
	return &Config{
		IdleTimeoutSeconds:         5,
		ExceptionTimeoutSeconds:    30,
		SSEBufferExtractIntervalMS: 80,
	}
}

// IdleTimeout returns IdleTimeoutSeconds as a time.Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds * float64(time.Second))
}

// ExceptionTimeout returns ExceptionTimeoutSeconds as a time.Duration.
func (c *Config) ExceptionTimeout() time.Duration {
	return time.Duration(c.ExceptionTimeoutSeconds * float64(time.Second))
}

// Interval returns SSEBufferExtractIntervalMS as a time.Duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.SSEBufferExtractIntervalMS) * time.Millisecond
}

// PacedTypeSet returns EleTypesInInterval as a lookup set.
func (c *Config) PacedTypeSet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.EleTypesInInterval))
	for _, t := range c.EleTypesInInterval {
		out[t] = struct{}{}
	}
	return out
}

// SkipIdleCheck reports whether reqPath contains any of
// UnCheckConnectStatePaths as a substring.
func (c *Config) SkipIdleCheck(reqPath string) bool {
	for _, p := range c.UnCheckConnectStatePaths {
		if p != "" && strings.Contains(reqPath, p) {
			return true
		}
	}
	return false
}

// LoadConfigFile parses a YAML config file at path into a Config seeded
// with DefaultConfig's values. Unknown keys are rejected so that config
// typos surface immediately instead of silently no-oping.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sseengine: read config %q: %w", path, err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("sseengine: parse config %q: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays well-known SSE_* environment variables onto cfg,
// mirroring the teacher's env-var-first configuration style for its demo
// binary. Unset or unparsable variables leave the existing value in place.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("SSE_DEBUG")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("SSE_IDLE_TIMEOUT_SECONDS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.IdleTimeoutSeconds = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("SSE_EXCEPTION_TIMEOUT_SECONDS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ExceptionTimeoutSeconds = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("SSE_BUFFER_EXTRACT_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SSEBufferExtractIntervalMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SSE_LOG_FILE")); v != "" {
		c.LogFileName = v
	}
	if v := strings.TrimSpace(os.Getenv("SSE_DEBUG_TAG")); v != "" {
		c.DebugTag = v
	}
}
