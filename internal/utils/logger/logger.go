package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global *zap.SugaredLogger

// Init configures the global logger at the requested level ("debug", "info",
// "warn", "error"). An empty level means info.
func Init(level string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	global = z.Sugar()
	return nil
}

// Logger returns the global sugared logger. It must return a non-nil
// *SugaredLogger even before Init runs, so early callers get a no-op logger.
func Logger() *zap.SugaredLogger {
	if global == nil {
		return zap.NewNop().Sugar()
	}
	return global
}

// Replace swaps the global logger and returns a function restoring the
// previous one. Tests use it to observe log output.
func Replace(l *zap.SugaredLogger) func() {
	prev := global
	global = l
	return func() { global = prev }
}
