package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Session    SessionConfig    `yaml:"session"`
	Connection ConnectionConfig `yaml:"connection"`
	Relay      RelayConfig      `yaml:"relay"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig locates the chat server. WSURL defaults to APIURL with the
// scheme switched to ws(s) and /ws/chat appended.
type ServerConfig struct {
	APIURL string `yaml:"api_url"`
	WSURL  string `yaml:"ws_url,omitempty"`
}

type AuthConfig struct {
	Token string `yaml:"token,omitempty"`
}

type SessionConfig struct {
	Model                string   `yaml:"model"`
	Provider             string   `yaml:"provider"`
	DefaultTitle         string   `yaml:"default_title,omitempty"`
	TitlePollDelay       Duration `yaml:"title_poll_delay,omitempty"`
	TitlePollMaxMessages int      `yaml:"title_poll_max_messages,omitempty"`
}

type ConnectionConfig struct {
	AuthGrace         Duration `yaml:"auth_grace,omitempty"`
	WriteTimeout      Duration `yaml:"write_timeout,omitempty"`
	RequestTimeout    Duration `yaml:"request_timeout,omitempty"`
	ReconnectAttempts int      `yaml:"reconnect_attempts,omitempty"` // negative disables
	ReconnectBase     Duration `yaml:"reconnect_base,omitempty"`
	ReconnectMax      Duration `yaml:"reconnect_max,omitempty"`
}

// RelayConfig configures the development relay started by `wtchat serve`.
type RelayConfig struct {
	Addr         string   `yaml:"addr"`
	DBPath       string   `yaml:"db_path"`
	JWTSecret    string   `yaml:"jwt_secret,omitempty"` // base64; random per process when empty
	StreamDelay  Duration `yaml:"stream_delay,omitempty"`
	MessageRate  float64  `yaml:"message_rate,omitempty"` // user turns per second per socket
	MessageBurst int      `yaml:"message_burst,omitempty"`
	PushTitles   *bool    `yaml:"push_titles,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Duration is a time.Duration that reads and writes as a string like "3s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return &yaml.TypeError{Errors: []string{"expected duration string"}}
	}
	if value.Value == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{APIURL: "http://localhost:8470"},
		Session: SessionConfig{
			Model:    "echo-1",
			Provider: "echo",
		},
		Relay: RelayConfig{
			Addr:   ":8470",
			DBPath: "wingchat.db",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a file. A missing file yields the defaults.
// Environment variables override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables if present
	if token := os.Getenv("WTCHAT_TOKEN"); token != "" {
		cfg.Auth.Token = token
	}
	if server := os.Getenv("WTCHAT_SERVER"); server != "" {
		cfg.Server.APIURL = server
		cfg.Server.WSURL = ""
	}
	if secret := os.Getenv("WTCHAT_JWT_SECRET"); secret != "" {
		cfg.Relay.JWTSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	// The file may carry a credential.
	return os.WriteFile(path, data, 0600)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.APIURL == "" {
		return fmt.Errorf("server.api_url is required")
	}
	if !strings.HasPrefix(c.Server.APIURL, "http://") && !strings.HasPrefix(c.Server.APIURL, "https://") {
		return fmt.Errorf("server.api_url must start with http:// or https://")
	}
	if c.Server.WSURL != "" && !strings.HasPrefix(c.Server.WSURL, "ws://") && !strings.HasPrefix(c.Server.WSURL, "wss://") {
		return fmt.Errorf("server.ws_url must start with ws:// or wss://")
	}
	if c.Session.TitlePollMaxMessages < 0 {
		return fmt.Errorf("session.title_poll_max_messages must not be negative")
	}
	for name, d := range map[string]Duration{
		"session.title_poll_delay":   c.Session.TitlePollDelay,
		"connection.auth_grace":      c.Connection.AuthGrace,
		"connection.write_timeout":   c.Connection.WriteTimeout,
		"connection.request_timeout": c.Connection.RequestTimeout,
		"connection.reconnect_base":  c.Connection.ReconnectBase,
		"connection.reconnect_max":   c.Connection.ReconnectMax,
		"relay.stream_delay":         c.Relay.StreamDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Connection.ReconnectMax != 0 && c.Connection.ReconnectMax < c.Connection.ReconnectBase {
		return fmt.Errorf("connection.reconnect_max must be >= connection.reconnect_base")
	}
	if c.Relay.MessageRate < 0 || c.Relay.MessageBurst < 0 {
		return fmt.Errorf("relay.message_rate and relay.message_burst must not be negative")
	}
	return nil
}

// ChatURL returns the WebSocket endpoint for chat sockets.
func (c *Config) ChatURL() string {
	if c.Server.WSURL != "" {
		return c.Server.WSURL
	}
	base := strings.TrimSuffix(c.Server.APIURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/chat"
}
