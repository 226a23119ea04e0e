package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all bot configuration
type Config struct {
	Server       string `yaml:"server"`
	Port         int    `yaml:"port"`
	TLS          bool   `yaml:"tls"`
	TLSInsecure  bool   `yaml:"tls_insecure"`
	WebSocketURL string `yaml:"websocket_url"`
	Proxy        string `yaml:"proxy"`
	ServerPass   string `yaml:"server_pass"`

	Nick      string `yaml:"nick"`
	Alternate string `yaml:"alternate"`
	Username  string `yaml:"username"`
	IRCName   string `yaml:"irc_name"`

	SASLUsername string `yaml:"sasl_username"`
	SASLPassword string `yaml:"sasl_password"`

	Channels      []Channel `yaml:"channels"`
	CommandPrefix string    `yaml:"command_prefix"`
	Capabilities  []string  `yaml:"capabilities"`

	FallbackCharset string        `yaml:"fallback_charset"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	Reconnect       Reconnect     `yaml:"reconnect"`
	Flood           Flood         `yaml:"flood"`
	Log             Log           `yaml:"log"`

	StatusListen string `yaml:"status_listen"`
	DataDir      string `yaml:"data_dir"`
}

// Channel is a channel to join once registered, with an optional key.
type Channel struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

type Reconnect struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Flood limits outbound lines per second with a burst allowance.
type Flood struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Log configures console output and the optional rotated log file.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultCapabilities are requested when the config does not list any.
var DefaultCapabilities = []string{
	"multi-prefix",
	"away-notify",
	"account-notify",
	"extended-join",
	"chghost",
	"userhost-in-names",
	"server-time",
	"message-tags",
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		if c.TLS {
			c.Port = 6697
		} else {
			c.Port = 6667
		}
	}
	if c.Username == "" {
		c.Username = c.Nick
	}
	if c.IRCName == "" {
		c.IRCName = c.Nick
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	if c.Capabilities == nil {
		c.Capabilities = append([]string(nil), DefaultCapabilities...)
	}
	if c.PingInterval == 0 {
		c.PingInterval = 2 * time.Minute
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 5
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = 5 * time.Second
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = 2 * time.Minute
	}
	if c.Flood.Rate == 0 {
		c.Flood.Rate = 2
	}
	if c.Flood.Burst == 0 {
		c.Flood.Burst = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 64
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 16
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// Validate checks the fields the connection controller cannot work without
func (c *Config) Validate() error {
	if c.Server == "" && c.WebSocketURL == "" {
		return errors.New("server or websocket_url is required")
	}
	if c.Nick == "" {
		return errors.New("nick is required")
	}
	if strings.ContainsAny(c.Nick, " \r\n\x00") {
		return fmt.Errorf("nick %q contains illegal characters", c.Nick)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if (c.SASLUsername == "") != (c.SASLPassword == "") {
		return errors.New("sasl_username and sasl_password must be set together")
	}
	if len([]rune(c.CommandPrefix)) != 1 {
		return fmt.Errorf("command_prefix %q must be a single character", c.CommandPrefix)
	}
	for _, ch := range c.Channels {
		if ch.Name == "" || strings.ContainsAny(ch.Name, " ,\r\n\x00\x07") {
			return fmt.Errorf("invalid channel name %q", ch.Name)
		}
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	return nil
}

// Address returns the host:port pair to dial.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

// WantsSASL reports whether SASL credentials are configured.
func (c *Config) WantsSASL() bool {
	return c.SASLUsername != "" && c.SASLPassword != ""
}
