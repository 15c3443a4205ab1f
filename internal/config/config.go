// Package config loads runtime settings from defaults, an optional YAML file,
// a .env file, and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration accepts either a bare integer number of seconds or a Go duration
// string such as "1m30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ByteSize accepts a plain byte count or a human-readable size such as "10MB".
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		return nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// String renders the size for logs.
func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// RateLimitConfig defines per-connection inbound frame limits.
type RateLimitConfig struct {
	Burst          int      `yaml:"burst" env:"RATE_LIMIT_BURST"`
	RefillInterval Duration `yaml:"refill_interval" env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// ServerConfig holds the HTTP and WebSocket transport settings.
type ServerConfig struct {
	Port            string          `yaml:"port" env:"SERVER_PORT"`
	AllowedOrigins  []string        `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize  ByteSize        `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	SendBufferSize  int             `yaml:"send_buffer_size" env:"SEND_BUFFER_SIZE"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// AuthConfig holds credential settings.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string   `yaml:"issuer" env:"JWT_ISSUER"`
	TokenTTL  Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH"`
}

// RealtimeConfig tunes the realtime engine.
type RealtimeConfig struct {
	TypingTTL           Duration `yaml:"typing_ttl" env:"TYPING_TTL"`
	TypingSweepInterval Duration `yaml:"typing_sweep_interval" env:"TYPING_SWEEP_INTERVAL"`
	MaxFileSize         ByteSize `yaml:"max_file_size" env:"MAX_FILE_SIZE"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED"`
}

// TelemetryConfig configures OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// RetentionConfig schedules pruning of the activity log.
type RetentionConfig struct {
	Schedule string   `yaml:"schedule" env:"RETENTION_CRON"`
	Period   Duration `yaml:"period" env:"RETENTION_PERIOD"`
}

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Retention RetentionConfig `yaml:"retention"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: 16 << 10,
			SendBufferSize: 256,
			RateLimit: RateLimitConfig{
				Burst:          5,
				RefillInterval: Duration(time.Second),
			},
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Auth: AuthConfig{
			Issuer:   "roomcast",
			TokenTTL: Duration(24 * time.Hour),
		},
		Database: DatabaseConfig{Path: "roomcast.db"},
		Realtime: RealtimeConfig{
			TypingTTL:           Duration(30 * time.Second),
			TypingSweepInterval: Duration(30 * time.Second),
			MaxFileSize:         10 << 20,
		},
		Log:       LogConfig{Level: "info", Format: "json"},
		Metrics:   MetricsConfig{Enabled: true},
		Telemetry: TelemetryConfig{ServiceName: "roomcast"},
		Retention: RetentionConfig{
			Schedule: "0 3 * * *",
			Period:   Duration(30 * 24 * time.Hour),
		},
	}
}

// Load builds the configuration. yamlPath may be empty; envFile names an
// optional dotenv file whose absence is not an error.
func Load(yamlPath, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return Sanitize(cfg), nil
}

// Sanitize replaces unusable values with defaults.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = def.Server.MaxMessageSize
	}
	if cfg.Server.SendBufferSize <= 0 {
		cfg.Server.SendBufferSize = def.Server.SendBufferSize
	}
	if cfg.Server.RateLimit.Burst <= 0 {
		cfg.Server.RateLimit.Burst = def.Server.RateLimit.Burst
	}
	if cfg.Server.RateLimit.RefillInterval <= 0 {
		cfg.Server.RateLimit.RefillInterval = def.Server.RateLimit.RefillInterval
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	origins := cfg.Server.AllowedOrigins[:0:0]
	for _, o := range cfg.Server.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.Server.AllowedOrigins = origins

	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = def.Auth.TokenTTL
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = def.Database.Path
	}
	if cfg.Realtime.TypingTTL <= 0 {
		cfg.Realtime.TypingTTL = def.Realtime.TypingTTL
	}
	if cfg.Realtime.TypingSweepInterval <= 0 {
		cfg.Realtime.TypingSweepInterval = def.Realtime.TypingSweepInterval
	}
	if cfg.Realtime.MaxFileSize <= 0 {
		cfg.Realtime.MaxFileSize = def.Realtime.MaxFileSize
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format != "console" {
		cfg.Log.Format = "json"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if cfg.Retention.Period <= 0 {
		cfg.Retention.Period = def.Retention.Period
	}
	return cfg
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if len(c.Server.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS must list at least one origin"))
	}
	return errors.Join(errs...)
}
