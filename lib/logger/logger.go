/*
Copyright 2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Config configures the process-wide logger.
type Config struct {
	// Output is "stdout", "stderr" or a path to a log file.
	Output string `toml:"output"`
	// Severity is one of "debug", "info", "warn" or "error".
	Severity string `toml:"severity"`
	// Format is either "text" (default) or "json".
	Format string `toml:"format"`
}

// Fields is an alias so callers don't have to import logrus directly.
type Fields = log.Fields

type contextKey struct{}

// Init sets sane defaults before the configuration file is read.
func Init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
}

// Setup applies the logger configuration to the standard logger.
func Setup(conf Config) error {
	switch strings.ToLower(conf.Output) {
	case "stderr", "error", "2":
		log.SetOutput(os.Stderr)
	case "", "stdout", "out", "1":
		log.SetOutput(os.Stdout)
	default:
		// assume it's a file path:
		logFile, err := os.OpenFile(conf.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return trace.Wrap(err, "failed to create the log file")
		}
		log.SetOutput(logFile)
	}

	switch strings.ToLower(conf.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return trace.BadParameter("unsupported log format %q", conf.Format)
	}

	switch strings.ToLower(conf.Severity) {
	case "info":
		log.SetLevel(log.InfoLevel)
	case "err", "error":
		log.SetLevel(log.ErrorLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	default:
		return trace.BadParameter("unsupported logger severity: %q", conf.Severity)
	}

	return nil
}

// Standard returns the process-wide logger.
func Standard() log.FieldLogger {
	return log.StandardLogger()
}

// Discard returns a logger which drops everything. Handy in tests.
func Discard() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// WithLogger stores the logger in the context.
func WithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithField returns a derived context and a logger carrying an extra field.
func WithField(ctx context.Context, key string, value interface{}) (context.Context, log.FieldLogger) {
	logger := Get(ctx).WithField(key, value)
	return WithLogger(ctx, logger), logger
}

// WithFields returns a derived context and a logger carrying extra fields.
func WithFields(ctx context.Context, fields Fields) (context.Context, log.FieldLogger) {
	logger := Get(ctx).WithFields(fields)
	return WithLogger(ctx, logger), logger
}

// SetField is WithField without the logger.
func SetField(ctx context.Context, key string, value interface{}) context.Context {
	ctx, _ = WithField(ctx, key, value)
	return ctx
}

// Get returns the logger stored in the context or the standard one.
func Get(ctx context.Context) log.FieldLogger {
	if logger, ok := ctx.Value(contextKey{}).(log.FieldLogger); ok && logger != nil {
		return logger
	}
	return Standard()
}
