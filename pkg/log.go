package pkg

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Component identifies a subsystem for log filtering.
type Component string

// Firmware component identifiers.
const (
	ComponentDevice   Component = "device"
	ComponentEndpoint Component = "endpoint"
	ComponentHAL      Component = "hal"
	ComponentMSC      Component = "msc"
	ComponentSCSI     Component = "scsi"
	ComponentMem      Component = "mem"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

// level is the shared minimum level, honored by every handler
// installed through this package.
var level = func() *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(slog.LevelWarn)
	return v
}()

// root holds the shared logger. Swaps are atomic so log sites never
// observe a half-installed logger.
var root atomic.Pointer[slog.Logger]

func init() {
	root.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// SetLogLevel sets the minimum log level for all firmware logging.
func SetLogLevel(l slog.Level) {
	level.Set(l)
}

// SetLogger replaces the shared logger.
func SetLogger(l *slog.Logger) {
	root.Store(l)
}

// SetLogFormat installs a stderr handler with the selected format,
// keeping the current level.
func SetLogFormat(format LogFormat) {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == LogFormatJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	root.Store(slog.New(h))
}

// Log returns the shared logger tagged with a component attribute.
func Log(c Component) *slog.Logger {
	return root.Load().With("component", string(c))
}

// LogDebug logs a debug message with the given component.
func LogDebug(c Component, msg string, args ...any) {
	Log(c).Debug(msg, args...)
}

// LogInfo logs an info message with the given component.
func LogInfo(c Component, msg string, args ...any) {
	Log(c).Info(msg, args...)
}

// LogWarn logs a warning message with the given component.
func LogWarn(c Component, msg string, args ...any) {
	Log(c).Warn(msg, args...)
}

// LogError logs an error message with the given component.
func LogError(c Component, msg string, args ...any) {
	Log(c).Error(msg, args...)
}
