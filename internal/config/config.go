package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Identity modes select how a websocket connection names its session.
const (
	// IdentityClient trusts the user field sent by the client.
	IdentityClient = "client"
	// IdentityConnection assigns one server-generated id per connection and
	// ignores any user_id the client sends.
	IdentityConnection = "connection"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Control   ControlConfig   `yaml:"control"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Robot     RobotConfig     `yaml:"robot"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" env:"KROPBOT_PORT"`
	Host           string   `yaml:"host" env:"KROPBOT_HOST"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"KROPBOT_ALLOWED_ORIGINS"`
	MaxConnections int      `yaml:"max_connections" env:"KROPBOT_MAX_CONNECTIONS"`
}

type ControlConfig struct {
	SessionTimeout      time.Duration `yaml:"session_timeout" env:"KROPBOT_SESSION_TIMEOUT"`
	SweepInterval       time.Duration `yaml:"sweep_interval" env:"KROPBOT_SWEEP_INTERVAL"`
	IdentityMode        string        `yaml:"identity_mode" env:"KROPBOT_IDENTITY_MODE"`
	MaxIDsPerConnection int           `yaml:"max_ids_per_connection" env:"KROPBOT_MAX_IDS_PER_CONNECTION"`
	EvictOnDisconnect   bool          `yaml:"evict_on_disconnect" env:"KROPBOT_EVICT_ON_DISCONNECT"`
	InstructionRate     float64       `yaml:"instruction_rate" env:"KROPBOT_INSTRUCTION_RATE"`
	InstructionBurst    int           `yaml:"instruction_burst" env:"KROPBOT_INSTRUCTION_BURST"`
}

type BroadcastConfig struct {
	ResendInterval time.Duration `yaml:"resend_interval" env:"KROPBOT_RESEND_INTERVAL"`
	SendBuffer     int           `yaml:"send_buffer" env:"KROPBOT_SEND_BUFFER"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"KROPBOT_WRITE_TIMEOUT"`
}

type RobotConfig struct {
	Enabled       bool          `yaml:"enabled" env:"KROPBOT_ROBOT_ENABLED"`
	Secret        string        `yaml:"secret" env:"ROBOT_WS_SECRET"`
	MaxFrameBytes int64         `yaml:"max_frame_bytes" env:"KROPBOT_ROBOT_MAX_FRAME_BYTES"`
	StaleAfter    time.Duration `yaml:"stale_after" env:"KROPBOT_ROBOT_STALE_AFTER"`
}

type LogConfig struct {
	File       string `yaml:"file" env:"KROPBOT_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"KROPBOT_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"KROPBOT_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"KROPBOT_LOG_MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"KROPBOT_LOG_COMPRESS"`
}

type TelemetryConfig struct {
	OTLPEndpoint string        `yaml:"otlp_endpoint" env:"KROPBOT_OTLP_ENDPOINT"`
	Insecure     bool          `yaml:"insecure" env:"KROPBOT_OTLP_INSECURE"`
	Interval     time.Duration `yaml:"interval" env:"KROPBOT_OTLP_INTERVAL"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 256,
		},
		Control: ControlConfig{
			SessionTimeout:      3 * time.Second,
			SweepInterval:       500 * time.Millisecond,
			IdentityMode:        IdentityClient,
			MaxIDsPerConnection: 4,
			EvictOnDisconnect:   true,
			InstructionRate:     20,
			InstructionBurst:    10,
		},
		Broadcast: BroadcastConfig{
			ResendInterval: 5 * time.Second,
			SendBuffer:     64,
			WriteTimeout:   5 * time.Second,
		},
		Robot: RobotConfig{
			Enabled:       true,
			MaxFrameBytes: 1 << 20,
			StaleAfter:    3 * time.Second,
		},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Telemetry: TelemetryConfig{
			Interval: 15 * time.Second,
		},
	}
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. A missing file is an error; see LoadOrDefault. Callers run
// Validate once command-line overrides are in place.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConnections <= 0 {
		errs = append(errs, errors.New("server.max_connections must be positive"))
	}
	if c.Control.SessionTimeout <= 0 {
		errs = append(errs, errors.New("control.session_timeout must be positive"))
	}
	if c.Control.SweepInterval <= 0 {
		errs = append(errs, errors.New("control.sweep_interval must be positive"))
	} else if c.Control.SweepInterval >= c.Control.SessionTimeout {
		errs = append(errs, fmt.Errorf("control.sweep_interval %s must be shorter than session_timeout %s",
			c.Control.SweepInterval, c.Control.SessionTimeout))
	}
	switch c.Control.IdentityMode {
	case IdentityClient, IdentityConnection:
	default:
		errs = append(errs, fmt.Errorf("control.identity_mode %q: want %q or %q",
			c.Control.IdentityMode, IdentityClient, IdentityConnection))
	}
	if c.Control.MaxIDsPerConnection < 1 {
		errs = append(errs, errors.New("control.max_ids_per_connection must be at least 1"))
	}
	if c.Control.InstructionRate < 0 {
		errs = append(errs, errors.New("control.instruction_rate must not be negative"))
	}
	if c.Control.InstructionRate > 0 && c.Control.InstructionBurst < 1 {
		errs = append(errs, errors.New("control.instruction_burst must be at least 1 when rate limiting"))
	}
	if c.Broadcast.SendBuffer < 1 {
		errs = append(errs, errors.New("broadcast.send_buffer must be at least 1"))
	}
	if c.Broadcast.WriteTimeout <= 0 {
		errs = append(errs, errors.New("broadcast.write_timeout must be positive"))
	}
	if c.Broadcast.ResendInterval < 0 {
		errs = append(errs, errors.New("broadcast.resend_interval must not be negative"))
	}
	if c.Robot.Enabled && c.Robot.Secret == "" {
		errs = append(errs, errors.New("robot.secret (or ROBOT_WS_SECRET) is required when the robot endpoint is enabled"))
	}
	if c.Robot.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("robot.max_frame_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
