package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildLogger constructs the zap logger every probe is injected with.
// level is one of "debug", "info", "warn", "error"; format is "json" or
// "console".
func BuildLogger(level, format string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		zl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.DisableStacktrace = true

	return cfg.Build()
}
