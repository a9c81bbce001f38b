// Package logging sets up unified structured logging for the host
// application: console, an optional rotating file and optional Loki push.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gravito-framework/hismon-go/pkg/types"
)

// DefaultMaxBytes is the rotation size when none is configured
const DefaultMaxBytes = 1 * 1024 * 1024

// Options configures Setup
type Options struct {
	Level string

	// Console defaults to os.Stdout
	Console io.Writer

	// File enables file output when non-empty. It rotates at MaxBytes when
	// BackupCount > 0; BackupCount 0 disables rotation.
	File        string
	MaxBytes    int64
	BackupCount int

	// LokiURL enables Loki push when non-empty, e.g. http://loki:3100/loki/api/v1/push
	LokiURL    string
	Tags       map[string]string
	HTTPClient *http.Client
}

// Logging owns the configured sinks
type Logging struct {
	Logger *slog.Logger
	Level  *slog.LevelVar

	closers []io.Closer
}

// Setup builds the logger and installs it as slog.Default. File and Loki
// failures are reported on the console and do not fail setup.
func Setup(opts Options) *Logging {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	level := new(slog.LevelVar)
	level.Set(ToSlogLevel(opts.Level))
	hopts := &slog.HandlerOptions{Level: level}

	consoleHandler := slog.NewTextHandler(console, hopts)
	consoleLogger := slog.New(consoleHandler).With("logger", "HisMon")

	l := &Logging{Level: level}
	handlers := []slog.Handler{consoleHandler}

	if opts.File != "" {
		w, err := openLogFile(opts.File, opts.MaxBytes, opts.BackupCount)
		if err != nil {
			consoleLogger.Warn("File log error", "error", err)
		} else {
			handlers = append(handlers, slog.NewTextHandler(w, hopts))
			l.closers = append(l.closers, w)
			consoleLogger.Info("File log attached", "path", opts.File)
		}
	}

	if opts.LokiURL != "" {
		p, err := newLokiPusher(opts.LokiURL, opts.Tags, opts.HTTPClient, consoleLogger)
		if err != nil {
			consoleLogger.Warn("Loki error", "error", err)
		} else {
			handlers = append(handlers, slog.NewTextHandler(p, hopts))
			l.closers = append(l.closers, p)
			consoleLogger.Info("Loki attached", "url", opts.LokiURL)
		}
	}

	if len(handlers) == 1 {
		l.Logger = slog.New(consoleHandler)
	} else {
		l.Logger = slog.New(&multiHandler{handlers: handlers})
	}
	slog.SetDefault(l.Logger)
	return l
}

// SetLevel changes the level of every sink
func (l *Logging) SetLevel(level string) {
	l.Level.Set(ToSlogLevel(level))
}

// Close flushes and closes file and Loki sinks
func (l *Logging) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

// ToSlogLevel maps a configured level name to a slog.Level
func ToSlogLevel(s string) slog.Level {
	switch types.ParseLevel(s) {
	case types.LevelDebug:
		return slog.LevelDebug
	case types.LevelWarn:
		return slog.LevelWarn
	case types.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openLogFile opens path for appending. With backups > 0 the file rotates
// at maxBytes keeping that many old files; with 0 it grows without rotation.
func openLogFile(path string, maxBytes int64, backups int) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	// Surface permission problems now rather than on first write.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if backups <= 0 {
		return f, nil
	}
	f.Close()

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	// lumberjack rotates at whole megabytes
	maxMB := int((maxBytes + types.BytesPerMB - 1) / types.BytesPerMB)

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: backups,
	}, nil
}

// multiHandler fans each record out to several handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
