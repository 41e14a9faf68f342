// Package nlog provides the process-wide structured logger for nitros.
package nlog

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Environment variable name for log level configuration.
const envLogLevel = "NITROS_LOG_LEVEL"

var (
	// atomicLevel implements slog.Leveler and can be changed at runtime.
	atomicLevel = &dynamicLevel{v: int64(slog.LevelInfo)}
	// global logger instance
	global   *slog.Logger
	initOnce sync.Once

	// enabled is the process-wide log-enable latch (spec §5): any caller
	// setting it true keeps logging on for the rest of the process lifetime.
	enabled atomic.Bool

	// Optional flag (users may pass -log.level=debug). If flags.Parse() hasn't
	// yet been called when Init is invoked, we still read the raw os.Args.
	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

// dynamicLevel is an atomic Leveler.
type dynamicLevel struct{ v int64 }

func (d *dynamicLevel) Level() slog.Level { return slog.Level(atomic.LoadInt64(&d.v)) }
func (d *dynamicLevel) set(l slog.Level)  { atomic.StoreInt64(&d.v, int64(l)) }

// Init initializes the global logger. It is safe to call multiple times; the
// first call wins except SetLevel / UseWriter which mutate state intentionally.
func Init() {
	initOnce.Do(func() {
		lvl := detectLevel()
		atomicLevel.set(lvl)
		global = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: atomicLevel}))
	})
}

// detectLevel resolves the initial log level from (precedence high→low):
//  1. command-line flag -log.level
//  2. environment variable NITROS_LOG_LEVEL
//  3. default (info)
func detectLevel() slog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if lvl, ok := parseLevel(strings.TrimSpace(*flagLevel)); ok {
		return lvl
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return slog.LevelInfo
}

// parseLevel converts string to slog.Level.
func parseLevel(s string) (slog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "err":
		return slog.LevelError, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return errors.New("invalid log level: " + level)
	}
	atomicLevel.set(lvl)
	return nil
}

// Level returns the current runtime level as string.
func Level() string {
	Init()
	return atomicLevel.Level().String()
}

// UseWriter swaps the output writer (intended for tests). Retains current level.
func UseWriter(w io.Writer) {
	Init()
	global = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: atomicLevel}))
}

// Logger returns the global logger (ensures Init was called).
func Logger() *slog.Logger { Init(); return global }

// Enable latches process-wide logging on. Matches the Publisher/Subscriber
// `log bool` constructor argument: once any caller passes log=true, logging
// stays on for the process (spec §5's monotonic latch).
func Enable() { enabled.Store(true) }

// Enabled reports whether the process-wide latch has been set.
func Enabled() bool { return enabled.Load() }

// Convenience top-level logging functions. These are no-ops on the message
// path unless Enable() was called by some Publisher/Subscriber, mirroring
// the source's print-gated `_log` helper while still routing through slog
// once enabled.
func Debug(msg string, args ...any) {
	if Enabled() {
		Logger().Debug(msg, args...)
	}
}
func Info(msg string, args ...any) {
	if Enabled() {
		Logger().Info(msg, args...)
	}
}
func Warn(msg string, args ...any) {
	if Enabled() {
		Logger().Warn(msg, args...)
	}
}
func Error(msg string, args ...any) {
	if Enabled() {
		Logger().Error(msg, args...)
	}
}

// WithTopic attaches the topic name.
func WithTopic(l *slog.Logger, topic string) *slog.Logger {
	return l.With("topic", topic)
}

// WithEndpoint attaches a publisher endpoint (host, port).
func WithEndpoint(l *slog.Logger, host string, port int) *slog.Logger {
	return l.With("host", host, "port", port)
}
