// Package observability provides the process-wide structured loggers.
//
// Loggers are initialized once at startup; before Init is called the
// exported loggers are no-ops so library code can log unconditionally.
package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is used by cobra commands and one-shot tooling.
var CLILogger = zap.NewNop()

// ServerLogger is used by the HTTP surface and the status agent.
var ServerLogger = zap.NewNop()

// Init builds the process loggers for the given level and environment.
//
// env "production" selects the JSON production encoder; anything else gets
// the human-readable development encoder.
func Init(level string, env string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	var cfg zap.Config
	if strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	CLILogger = logger.Named("cli")
	ServerLogger = logger.Named("server")
	return nil
}

// Sync flushes any buffered log entries. Safe to call on no-op loggers.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}

func parseLevel(level string) (zapcore.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
}
