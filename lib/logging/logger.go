package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a zap logger configured with the given level string. The debug
// level switches to the human-readable development encoder.
func New(level string) (*zap.Logger, error) {
	var (
		cfg      zap.Config
		zapLevel zapcore.Level
	)
	switch strings.ToLower(level) {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
		zapLevel = zapcore.DebugLevel
	case "info", "":
		cfg = zap.NewProductionConfig()
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		cfg = zap.NewProductionConfig()
		zapLevel = zapcore.WarnLevel
	case "error":
		cfg = zap.NewProductionConfig()
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
