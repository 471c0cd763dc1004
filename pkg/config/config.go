// Package config loads relay and client settings from built-in defaults, an
// optional YAML file and CANVAS_* environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix     = "CANVAS_"
	ConfigPathEnv = "CANVAS_CONFIG"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Relay   RelayConfig   `koanf:"relay"`
	Client  ClientConfig  `koanf:"client"`
	Logging LoggingConfig `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type RelayConfig struct {
	SendQueueSize  int           `koanf:"send_queue_size" validate:"gt=0"`
	MaxMessageSize int64         `koanf:"max_message_size" validate:"gt=0"`
	WriteWait      time.Duration `koanf:"write_wait" validate:"gt=0"`
	// PeerRateLimit is frames per second per peer; zero disables throttling.
	PeerRateLimit  float64  `koanf:"peer_rate_limit" validate:"gte=0"`
	PeerRateBurst  int      `koanf:"peer_rate_burst" validate:"gte=0"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	DumpDir        string   `koanf:"dump_dir"`
}

type ClientConfig struct {
	Host   string `koanf:"host" validate:"required"`
	Secure bool   `koanf:"secure"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "localhost:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			SendQueueSize:  256,
			MaxMessageSize: 16 << 20,
			WriteWait:      10 * time.Second,
			PeerRateLimit:  0,
			PeerRateBurst:  0,
		},
		Client: ClientConfig{
			Host: "localhost:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load layers defaults, the YAML file at path (or $CANVAS_CONFIG when path is
// empty; no file is fine) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// allowed_origins may arrive from the environment as a comma separated string
	if raw, ok := k.Get("relay.allowed_origins").(string); ok {
		origins := make([]string, 0)
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if err := k.Set("relay.allowed_origins", origins); err != nil {
			return nil, fmt.Errorf("failed to set allowed origins: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps CANVAS_RELAY_SEND_QUEUE_SIZE to relay.send_queue_size. Only the
// first underscore after the prefix separates section from key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
