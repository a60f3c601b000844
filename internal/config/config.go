// ABOUTME: Configuration loading and parsing for the outpost controller and agent
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the default
// config location.
const EnvConfigPath = "OUTPOST_CONFIG"

// Defaults applied when a field is left empty.
const (
	DefaultListenAddr       = "0.0.0.0:4444"
	DefaultHTTPAddr         = "127.0.0.1:8080"
	DefaultControllerAddr   = "127.0.0.1:4444"
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultCallTimeout      = 5 * time.Minute
	DefaultInitialDelay     = 5 * time.Second
	DefaultMaxDelay         = 60 * time.Second
	DefaultMultiplier       = 1.5
	DefaultDialTimeout      = 10 * time.Second
	DefaultExecTimeout      = 15 * time.Second
	DefaultMaxFrameSize     = "128 MiB"
)

// ControllerConfig represents the complete outpost-controller configuration
type ControllerConfig struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Sessions SessionsConfig `yaml:"sessions" toml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
	// HTTPAddr is the console API address; "off" disables it.
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`
	MaxFrameSize     int           `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	MaxFrameSizeRaw     string `yaml:"max_frame_size" toml:"max_frame_size"`
}

// SessionsConfig holds session registry policy
type SessionsConfig struct {
	Exclusion   string `yaml:"exclusion" toml:"exclusion"`
	OnCollision string `yaml:"on_collision" toml:"on_collision"`

	CallTimeout    time.Duration `yaml:"-" toml:"-"`
	CallTimeoutRaw string        `yaml:"call_timeout" toml:"call_timeout"`
}

// AgentConfig represents the complete outpost-agent configuration
type AgentConfig struct {
	Controller EndpointConfig  `yaml:"controller" toml:"controller"`
	Reconnect  ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	Exec       ExecConfig      `yaml:"exec" toml:"exec"`
	Logging    LoggingConfig   `yaml:"logging" toml:"logging"`
}

// EndpointConfig says where the controller is
type EndpointConfig struct {
	Address string `yaml:"address" toml:"address"`

	DialTimeout  time.Duration `yaml:"-" toml:"-"`
	MaxFrameSize int           `yaml:"-" toml:"-"`

	DialTimeoutRaw  string `yaml:"dial_timeout" toml:"dial_timeout"`
	MaxFrameSizeRaw string `yaml:"max_frame_size" toml:"max_frame_size"`
}

// ReconnectConfig holds the dial backoff schedule
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"-" toml:"-"`
	MaxDelay     time.Duration `yaml:"-" toml:"-"`
	Multiplier   float64       `yaml:"multiplier" toml:"multiplier"`

	InitialDelayRaw string `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelayRaw     string `yaml:"max_delay" toml:"max_delay"`
}

// ExecConfig bounds command execution and file transfer on the agent
type ExecConfig struct {
	Timeout     time.Duration `yaml:"-" toml:"-"`
	MaxReadSize int64         `yaml:"-" toml:"-"`

	TimeoutRaw     string `yaml:"timeout" toml:"timeout"`
	MaxReadSizeRaw string `yaml:"max_download_size" toml:"max_download_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultController returns the controller configuration used when no file exists.
func DefaultController() *ControllerConfig {
	cfg := &ControllerConfig{}
	cfg.applyDefaults()
	return cfg
}

// DefaultAgent returns the agent configuration used when no file exists.
func DefaultAgent() *AgentConfig {
	cfg := &AgentConfig{}
	cfg.applyDefaults()
	return cfg
}

// LoadController reads a controller configuration file. An empty path
// returns the defaults.
func LoadController(path string) (*ControllerConfig, error) {
	cfg := &ControllerConfig{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.parse(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadAgent reads an agent configuration file. An empty path returns the
// defaults.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.parse(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// decodeFile reads path, expands ${VAR} references and decodes the result
// as TOML when the extension says so and YAML otherwise.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, v); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), v); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	}
	return nil
}

// ResolvePath picks the config file to load. Priority: flagPath >
// OUTPOST_CONFIG > $XDG_CONFIG_HOME/outpost/<name>.yaml. The default
// location is only returned when the file exists; otherwise "" means
// built-in defaults.
func ResolvePath(flagPath, name string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	path, err := DefaultPath(name)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// DefaultPath returns $XDG_CONFIG_HOME/outpost/<name>.yaml, falling back
// to ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath(name string) (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("finding home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "outpost", name+".yaml"), nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that the controller configuration is usable.
func (c *ControllerConfig) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	switch c.Sessions.Exclusion {
	case "session", "global":
	default:
		return fmt.Errorf("sessions.exclusion must be \"session\" or \"global\", got %q", c.Sessions.Exclusion)
	}
	switch c.Sessions.OnCollision {
	case "replace", "reject":
	default:
		return fmt.Errorf("sessions.on_collision must be \"replace\" or \"reject\", got %q", c.Sessions.OnCollision)
	}
	return validateLogging(c.Logging)
}

// ConsoleEnabled reports whether the HTTP console should listen.
func (c *ControllerConfig) ConsoleEnabled() bool {
	return c.Server.HTTPAddr != "off"
}

// Validate checks that the agent configuration is usable.
func (c *AgentConfig) Validate() error {
	if c.Controller.Address == "" {
		return errors.New("controller.address is required")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1, got %v", c.Reconnect.Multiplier)
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay (%s) is shorter than reconnect.initial_delay (%s)",
			c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	return validateLogging(c.Logging)
}

func validateLogging(l LoggingConfig) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}
	return nil
}

func (c *ControllerConfig) parse() error {
	var err error
	if c.Server.HandshakeTimeout, err = parseDuration("server.handshake_timeout", c.Server.HandshakeTimeoutRaw); err != nil {
		return err
	}
	if c.Server.MaxFrameSize, err = parseFrameSize("server.max_frame_size", c.Server.MaxFrameSizeRaw); err != nil {
		return err
	}
	if c.Sessions.CallTimeout, err = parseDuration("sessions.call_timeout", c.Sessions.CallTimeoutRaw); err != nil {
		return err
	}
	return nil
}

func (c *AgentConfig) parse() error {
	var err error
	if c.Controller.DialTimeout, err = parseDuration("controller.dial_timeout", c.Controller.DialTimeoutRaw); err != nil {
		return err
	}
	if c.Controller.MaxFrameSize, err = parseFrameSize("controller.max_frame_size", c.Controller.MaxFrameSizeRaw); err != nil {
		return err
	}
	if c.Reconnect.InitialDelay, err = parseDuration("reconnect.initial_delay", c.Reconnect.InitialDelayRaw); err != nil {
		return err
	}
	if c.Reconnect.MaxDelay, err = parseDuration("reconnect.max_delay", c.Reconnect.MaxDelayRaw); err != nil {
		return err
	}
	if c.Exec.Timeout, err = parseDuration("exec.timeout", c.Exec.TimeoutRaw); err != nil {
		return err
	}
	if c.Exec.MaxReadSizeRaw != "" {
		n, err := humanize.ParseBytes(c.Exec.MaxReadSizeRaw)
		if err != nil {
			return fmt.Errorf("parsing exec.max_download_size %q: %w", c.Exec.MaxReadSizeRaw, err)
		}
		c.Exec.MaxReadSize = int64(n)
	}
	return nil
}

func (c *ControllerConfig) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.MaxFrameSize == 0 {
		c.Server.MaxFrameSize, _ = parseFrameSize("", DefaultMaxFrameSize)
	}
	if c.Sessions.Exclusion == "" {
		c.Sessions.Exclusion = "session"
	}
	if c.Sessions.OnCollision == "" {
		c.Sessions.OnCollision = "replace"
	}
	if c.Sessions.CallTimeout == 0 {
		c.Sessions.CallTimeout = DefaultCallTimeout
	}
	c.Logging.applyDefaults()
}

func (c *AgentConfig) applyDefaults() {
	if c.Controller.Address == "" {
		c.Controller.Address = DefaultControllerAddr
	}
	if c.Controller.DialTimeout == 0 {
		c.Controller.DialTimeout = DefaultDialTimeout
	}
	if c.Controller.MaxFrameSize == 0 {
		c.Controller.MaxFrameSize, _ = parseFrameSize("", DefaultMaxFrameSize)
	}
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultInitialDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = DefaultMultiplier
	}
	if c.Exec.Timeout == 0 {
		c.Exec.Timeout = DefaultExecTimeout
	}
	c.Logging.applyDefaults()
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, raw)
	}
	return d, nil
}

// parseFrameSize accepts human sizes such as "128 MiB" or "64MB".
func parseFrameSize(field, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", field, raw, err)
	}
	if n < 1024 || n > 1<<31-1 {
		return 0, fmt.Errorf("%s must be between 1 KiB and 2 GiB, got %s", field, raw)
	}
	return int(n), nil
}
