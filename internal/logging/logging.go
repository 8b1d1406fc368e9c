// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "LOG_LEVEL"

func DefaultConfig() zap.Config {
	logConf := zap.NewProductionConfig()
	logConf.Sampling = nil
	logConf.EncoderConfig.TimeKey = "time"
	logConf.EncoderConfig.LevelKey = "severity"
	logConf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConf.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	return logConf
}

// New returns a logger at the given level, or at $LOG_LEVEL when that is set.
// An empty level means info.
func New(level string) (*zap.Logger, error) {
	if fromEnv := os.Getenv(EnvLevel); fromEnv != "" {
		level = fromEnv
	}
	if level == "" {
		level = "info"
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logConf := DefaultConfig()
	logConf.Level = zap.NewAtomicLevelAt(lvl)

	return logConf.Build()
}

func ParseLevel(l string) (zapcore.Level, error) {
	l = strings.ToLower(strings.TrimSpace(l))
	switch l {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		level, err := strconv.ParseInt(l, 10, 8)
		if err != nil {
			return 0, err
		}
		if level < int64(zapcore.DebugLevel) || level > int64(zapcore.FatalLevel) {
			return 0, fmt.Errorf("level %d out of range", level)
		}
		return zapcore.Level(level), nil
	}
}
