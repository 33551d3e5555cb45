// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package logger holds the monitor structured logger.
//
// Key material, sealed values and decrypted buffers must never be passed to
// the logger.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global logger instance, it discards everything until Init is
// called.
var Log = zap.NewNop().Sugar()

// Config represents the logger configuration.
type Config struct {
	// enable debug level logging
	Debug bool
	// "json" or "human"
	Format string
	// additional output paths, stderr is always used
	OutputPaths []string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Format: "human",
	}
}

// Init initializes the global logger with the provided configuration.
func Init(conf Config) (err error) {
	var zapConfig zap.Config

	switch conf.Format {
	case "json":
		zapConfig = zap.NewProductionConfig()
	case "human", "":
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zapConfig.DisableStacktrace = true
	default:
		return fmt.Errorf("invalid log format %q", conf.Format)
	}

	zapConfig.OutputPaths = append([]string{"stderr"}, conf.OutputPaths...)

	if conf.Debug {
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	l, err := zapConfig.Build()

	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	Log = l.Sugar()

	return
}

// Set replaces the global logger, it is intended for tests and embedders
// providing their own core.
func Set(l *zap.Logger) {
	Log = l.Sugar()
}

// Sync flushes any buffered log entries.
func Sync() error {
	return Log.Sync()
}
