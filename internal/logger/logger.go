package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	*slog.Logger
}

// New builds a text logger on stderr; stdout is reserved for the progress lines the caller parses.
func New(logLevel string, silent bool) *Logger {
	var w io.Writer = os.Stderr
	if silent {
		w = io.Discard
	}
	return NewWithWriter(w, logLevel)
}

func NewWithWriter(w io.Writer, logLevel string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(logLevel),
		AddSource: logLevel == "debug",
	}

	handler := slog.NewTextHandler(w, opts)

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Nop returns a logger that drops everything
func Nop() *Logger {
	return NewWithWriter(io.Discard, "error")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
	}
}

func (l *Logger) RouteOperation(action, route string, duration int64, success bool) {
	l.Info("Route operation completed",
		slog.String("action", action),
		slog.String("route", route),
		slog.Int64("duration_ms", duration),
		slog.Bool("success", success))
}

func (l *Logger) Transition(name, tunnelGateway, proxyServer string, steps int) {
	l.Info("Transition planned",
		slog.String("transition", name),
		slog.String("tunnel_gateway", tunnelGateway),
		slog.String("proxy_server", proxyServer),
		slog.Int("steps", steps))
}

func (l *Logger) Snapshot(rows int, fingerprint uint64) {
	l.Debug("Routing table fetched",
		slog.Int("rows", rows),
		slog.Uint64("fingerprint", fingerprint))
}

func (l *Logger) BatchOperation(action string, total, success, failed int, duration int64) {
	l.Info("Batch operation completed",
		slog.String("action", action),
		slog.Int("total", total),
		slog.Int("success", success),
		slog.Int("failed", failed),
		slog.Int64("duration_ms", duration))
}
