package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options narrows application config down to what the logger needs.
type Options struct {
	Service     string
	Version     string
	Environment string
	Level       string
}

// New builds the process-wide zap logger and replaces zap's globals.
// Production gets the sampled JSON encoder; every other environment gets the
// development console encoder at the same level. Each entry carries the
// service identity so mixed log streams stay attributable.
func New(opts Options) (*zap.Logger, error) {
	level := opts.Level
	if level == "" {
		level = "info"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if !strings.EqualFold(opts.Environment, "production") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build(zap.Fields(
		zap.String("service", opts.Service),
		zap.String("version", opts.Version),
	))
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)
	return log, nil
}
