// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type loggerKey struct{}

var (
	mu           sync.RWMutex
	globalLogger zerolog.Logger
)

func init() {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	pname, err := os.Executable()
	if err != nil {
		pname = "tams"
	}

	level := zerolog.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		parsed, err := zerolog.ParseLevel(raw)
		if err != nil || parsed == zerolog.NoLevel {
			log.Warn().Err(err).Str("log_level", raw).Msg("invalid LOG_LEVEL, defaulting to INFO")
		} else {
			level = parsed
		}
	}

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	globalLogger = log.With().
		Str("hostname", hostname).
		Str("executable", filepath.Base(pname)).
		Stack().
		Caller().
		Logger().
		Level(level)

	log.Logger = globalLogger
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := globalLogger
	return &l
}

// Ctx returns the logger stored in ctx, or the global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*zerolog.Logger); ok && l != nil {
			return l
		}
	}
	return current()
}

func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithFields returns ctx carrying a child of its logger with the given
// string fields attached, e.g. WithFields(ctx, "flow_id", id).
func WithFields(ctx context.Context, kv ...string) context.Context {
	lc := Ctx(ctx).With()
	for i := 0; i+1 < len(kv); i += 2 {
		lc = lc.Str(kv[i], kv[i+1])
	}
	l := lc.Logger()
	return WithLogger(ctx, &l)
}

// SetLevel updates the global log level
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = globalLogger.Level(level)
	log.Logger = globalLogger
}

// SetConsole switches the global logger to human readable output on w.
// Used for local runs and CLI subcommands.
func SetConsole(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = globalLogger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	log.Logger = globalLogger
}

func Fatal() *zerolog.Event {
	return current().Fatal()
}

func Error() *zerolog.Event {
	return current().Error()
}

func Warn() *zerolog.Event {
	return current().Warn()
}

func Info() *zerolog.Event {
	return current().Info()
}

func Debug() *zerolog.Event {
	return current().Debug()
}

func Trace() *zerolog.Event {
	return current().Trace()
}
