package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/bidiload/bidi"
	"github.com/liuxd6825/bidiload/lib/types"
)

// Config is the configuration of a conformance run.
//
//nolint:lll
type Config struct {
	// WebSocketURL is the BiDi endpoint of the browser under test. When it
	// is not set the simulated browser is started in-process.
	WebSocketURL null.String `json:"webSocketURL" envconfig:"BIDI_WEBSOCKET_URL"`
	// NewSession sends session.new after connecting, for endpoints that
	// expect it (e.g. a driver rather than a browser).
	NewSession null.Bool `json:"newSession" envconfig:"BIDI_NEW_SESSION"`

	// Timeout bounds every command round trip.
	Timeout types.NullDuration `json:"timeout" envconfig:"BIDI_TIMEOUT"`
	// EventTimeout bounds waits for events that must arrive.
	EventTimeout types.NullDuration `json:"eventTimeout" envconfig:"BIDI_EVENT_TIMEOUT"`
	// NoEventTimeout is how long to wait before concluding that an event
	// did not fire.
	NoEventTimeout types.NullDuration `json:"noEventTimeout" envconfig:"BIDI_NO_EVENT_TIMEOUT"`

	LogLevel  null.String `json:"logLevel" envconfig:"BIDI_LOG_LEVEL"`
	LogFilter null.String `json:"logFilter" envconfig:"BIDI_LOG_FILTER"`
}

// NewConfig creates a new Config instance with default values for some fields.
func NewConfig() Config {
	return Config{
		NewSession:     null.NewBool(false, false),
		Timeout:        types.NewNullDuration(bidi.DefaultTimeout, false),
		EventTimeout:   types.NewNullDuration(5*time.Second, false),
		NoEventTimeout: types.NewNullDuration(500*time.Millisecond, false),
		LogLevel:       null.NewString("info", false),
	}
}

// Apply saves config non-zero config values from the passed config in the receiver.
func (c Config) Apply(cfg Config) Config {
	if cfg.WebSocketURL.Valid && cfg.WebSocketURL.String != "" {
		c.WebSocketURL = cfg.WebSocketURL
	}
	if cfg.NewSession.Valid {
		c.NewSession = cfg.NewSession
	}
	if cfg.Timeout.Valid {
		c.Timeout = cfg.Timeout
	}
	if cfg.EventTimeout.Valid {
		c.EventTimeout = cfg.EventTimeout
	}
	if cfg.NoEventTimeout.Valid {
		c.NoEventTimeout = cfg.NoEventTimeout
	}
	if cfg.LogLevel.Valid && cfg.LogLevel.String != "" {
		c.LogLevel = cfg.LogLevel
	}
	if cfg.LogFilter.Valid {
		c.LogFilter = cfg.LogFilter
	}
	return c
}

// Validate checks the values a run cannot work without.
func (c Config) Validate() error {
	if c.WebSocketURL.Valid && c.WebSocketURL.String != "" &&
		!strings.HasPrefix(c.WebSocketURL.String, "ws://") &&
		!strings.HasPrefix(c.WebSocketURL.String, "wss://") {
		return fmt.Errorf("webSocketURL %q must use the ws or wss scheme", c.WebSocketURL.String)
	}
	for name, d := range map[string]types.NullDuration{
		"timeout":        c.Timeout,
		"eventTimeout":   c.EventTimeout,
		"noEventTimeout": c.NoEventTimeout,
	} {
		if d.Valid && d.TimeDuration() <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Duration)
		}
	}
	return nil
}

// fileConfig is the YAML form of Config.
type fileConfig struct {
	WebSocketURL   *string            `yaml:"webSocketURL"`
	NewSession     *bool              `yaml:"newSession"`
	Timeout        types.NullDuration `yaml:"timeout"`
	EventTimeout   types.NullDuration `yaml:"eventTimeout"`
	NoEventTimeout types.NullDuration `yaml:"noEventTimeout"`
	LogLevel       *string            `yaml:"logLevel"`
	LogFilter      *string            `yaml:"logFilter"`
}

func (f fileConfig) config() Config {
	return Config{
		WebSocketURL:   null.StringFromPtr(f.WebSocketURL),
		NewSession:     null.BoolFromPtr(f.NewSession),
		Timeout:        f.Timeout,
		EventTimeout:   f.EventTimeout,
		NoEventTimeout: f.NoEventTimeout,
		LogLevel:       null.StringFromPtr(f.LogLevel),
		LogFilter:      null.StringFromPtr(f.LogFilter),
	}
}

// ReadConfigFile reads a YAML config file. Unknown keys are rejected.
func ReadConfigFile(fs afero.Fs, path string) (Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return fc.config(), nil
}

// GetConsolidatedConfig combines the default config values with the config
// file (when path is not empty) and environment variables, in that order.
func GetConsolidatedConfig(fs afero.Fs, path string, env map[string]string) (Config, error) {
	result := NewConfig()

	if path != "" {
		fileConf, err := ReadConfigFile(fs, path)
		if err != nil {
			return result, err
		}
		result = result.Apply(fileConf)
	}

	envConfig := Config{}
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return result, fmt.Errorf("reading environment: %w", err)
	}
	result = result.Apply(envConfig)

	return result, result.Validate()
}

// EnvMap converts a list of KEY=value pairs, as returned by os.Environ, to a map.
func EnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

// ConfigFromEnv returns the configuration given by the process environment.
// BIDI_CONFIG names an optional config file.
func ConfigFromEnv() (Config, error) {
	env := EnvMap(os.Environ())
	return GetConsolidatedConfig(afero.NewOsFs(), env["BIDI_CONFIG"], env)
}
