// Package config resolves convo's settings from built-in defaults, an
// optional config file under CONVO_HOME, and environment variables.
//
// Environment variables:
//   - CONVO_HOME: base directory for config and logs (default: ~/.convo)
//   - CONVO_ENDPOINT: WebSocket endpoint (ws:// or wss://)
//   - CONVO_AGENT: agent persona to talk to
//   - CONVO_TOKEN: bearer token (prefer CONVO_TOKEN_FILE)
//   - CONVO_TOKEN_FILE: file holding the bearer token
//   - CONVO_LOG_LEVEL: debug, info, warn or error
//
// Command-line flags are applied on top by the caller.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"convo/pkg/board"
	"convo/pkg/protocol"
)

// Environment variable names.
const (
	EnvHome      = "CONVO_HOME"
	EnvEndpoint  = "CONVO_ENDPOINT"
	EnvAgent     = "CONVO_AGENT"
	EnvToken     = "CONVO_TOKEN"
	EnvTokenFile = "CONVO_TOKEN_FILE"
	EnvLogLevel  = "CONVO_LOG_LEVEL"
)

// fileNames are tried in order inside the home directory.
var fileNames = []string{"config.yaml", "config.yml", "config.toml", "config.jsonc", "config.json"}

// Duration is a time.Duration written as a Go duration string ("2s").
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the resolved configuration.
type Config struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	AgentID   string `yaml:"agent" toml:"agent" json:"agent"`
	SessionID string `yaml:"session,omitempty" toml:"session,omitempty" json:"session,omitempty"`
	TokenFile string `yaml:"token_file,omitempty" toml:"token_file,omitempty" json:"token_file,omitempty"`
	Token     string `yaml:"token,omitempty" toml:"token,omitempty" json:"token,omitempty"`

	RetryDelay           Duration `yaml:"retry_delay" toml:"retry_delay" json:"retry_delay"`
	RetryJitter          Duration `yaml:"retry_jitter" toml:"retry_jitter" json:"retry_jitter"`
	MaxAttempts          int      `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	HandshakeTimeout     Duration `yaml:"handshake_timeout" toml:"handshake_timeout" json:"handshake_timeout"`
	SessionRecoveryDelay Duration `yaml:"session_recovery_delay" toml:"session_recovery_delay" json:"session_recovery_delay"`
	PromptTimeout        Duration `yaml:"prompt_timeout" toml:"prompt_timeout" json:"prompt_timeout"`

	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// Board overrides the tool names the task board recognises. Empty
	// lists keep the defaults.
	Board board.Vocabulary `yaml:"board" toml:"board" json:"board"`

	// Home and File record where the configuration came from.
	Home string `yaml:"-" toml:"-" json:"-"`
	File string `yaml:"-" toml:"-" json:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		AgentID:              "default",
		RetryDelay:           Duration(2 * time.Second),
		RetryJitter:          Duration(500 * time.Millisecond),
		MaxAttempts:          5,
		HandshakeTimeout:     Duration(10 * time.Second),
		SessionRecoveryDelay: Duration(time.Second),
		PromptTimeout:        Duration(5 * time.Minute),
		LogLevel:             "info",
	}
}

// ResolveHome returns CONVO_HOME or ~/.convo.
func ResolveHome() (string, error) {
	if v := os.Getenv(EnvHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// Load resolves the home directory, reads the first config file found
// there and applies environment overrides. A missing file is not an error.
func Load() (Config, error) {
	home, err := ResolveHome()
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(home, os.Getenv)
}

// LoadFrom is Load with an explicit home directory and environment.
func LoadFrom(home string, getenv func(string) string) (Config, error) {
	cfg := Default()
	cfg.Home = home
	if path, ok := FindFile(home); ok {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(getenv)
	cfg.Board = cfg.Board.Merge(board.DefaultVocabulary())
	return cfg, nil
}

// FindFile returns the first config file present in home.
func FindFile(home string) (string, bool) {
	for _, name := range fileNames {
		path := filepath.Join(home, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// LoadFile merges the file at path into c. The format follows the
// extension: YAML, TOML, or JSON with comments.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".jsonc", ".json":
		err = json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.File = path
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Endpoint, EnvEndpoint)
	set(&c.AgentID, EnvAgent)
	set(&c.Token, EnvToken)
	set(&c.TokenFile, EnvTokenFile)
	set(&c.LogLevel, EnvLogLevel)
}

// LogPath is where interactive commands write their logs.
func (c Config) LogPath() string {
	return filepath.Join(c.Home, "convo.log")
}

// Validate checks the settings needed to connect.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, fmt.Errorf("endpoint is required (set %s or endpoint in the config file)", EnvEndpoint))
	} else if u, err := url.Parse(c.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("endpoint: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("endpoint scheme %q: want ws or wss", u.Scheme))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts))
	}
	for name, d := range map[string]Duration{
		"retry_delay":            c.RetryDelay,
		"retry_jitter":           c.RetryJitter,
		"handshake_timeout":      c.HandshakeTimeout,
		"session_recovery_delay": c.SessionRecoveryDelay,
		"prompt_timeout":         c.PromptTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Token != "" {
		c.Token = "<redacted>"
	}
	return c
}
