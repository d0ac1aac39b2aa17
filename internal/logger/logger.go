// Package logger builds the process zap logger.
package logger

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoding of the logger.
type Config struct {
	// Level is parsed by zapcore.ParseLevel.
	Level string `yaml:"level" default:"info"`
	// Production switches to JSON output.
	Production bool `yaml:"production"`
}

// New creates a logger writing to stderr. Development mode uses a coloured
// console encoder; production mode writes JSON.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
		}
		level = l
	}
	if os.Getenv("DEBUG") != "" {
		level = zapcore.DebugLevel
	}

	var encoder zapcore.Encoder
	if cfg.Production {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller()), nil
}
