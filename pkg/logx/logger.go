package logx

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the process-wide logger. It is a no-op until Init is called so that
// packages and tests can log without any setup.
var L = zap.NewNop()

type Config struct {
	Level  string
	Format string
}

func Init(cfg Config) error {
	logger, err := Build(cfg)
	if err != nil {
		return err
	}
	L = logger
	return nil
}

// Build returns a logger for the given config without installing it.
// Format "json" selects the production encoder, anything else the development one.
func Build(cfg Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to parse log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
