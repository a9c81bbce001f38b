package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/natefinch/lumberjack.v2"
)

// syncBuffer is a goroutine-safe bytes.Buffer
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func keepDefault(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestToSlogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ToSlogLevel(tt.input); got != tt.expected {
			t.Errorf("ToSlogLevel(%q): expected %v, got %v", tt.input, tt.expected, got)
		}
	}
}

func TestConsoleLevel(t *testing.T) {
	keepDefault(t)
	var out syncBuffer

	l := Setup(Options{Level: "warn", Console: &out})
	defer l.Close()

	slog.Info("hidden info")
	slog.Warn("visible warning")

	if strings.Contains(out.String(), "hidden info") {
		t.Error("Expected INFO to be filtered at WARN level")
	}
	if !strings.Contains(out.String(), "visible warning") {
		t.Errorf("Expected warning in output, got %q", out.String())
	}

	l.SetLevel("debug")
	slog.Debug("now visible")
	if !strings.Contains(out.String(), "now visible") {
		t.Error("Expected DEBUG after SetLevel(debug)")
	}
}

func TestFileSink(t *testing.T) {
	keepDefault(t)
	var out syncBuffer
	path := filepath.Join(t.TempDir(), "nested", "app.log")

	l := Setup(Options{Level: "info", Console: &out, File: path, MaxBytes: 10, BackupCount: 2})
	l.Logger.Info("written to file", "k", "v")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") || !strings.Contains(string(data), "k=v") {
		t.Errorf("Expected record in file, got %q", data)
	}
	if !strings.Contains(out.String(), "written to file") {
		t.Error("Expected record on console too")
	}
}

func TestFileSinkError(t *testing.T) {
	keepDefault(t)
	var out syncBuffer

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	l := Setup(Options{Console: &out, File: filepath.Join(blocker, "app.log")})
	defer l.Close()

	if !strings.Contains(out.String(), "File log error") {
		t.Errorf("Expected file error on console, got %q", out.String())
	}
	l.Logger.Info("still logging")
	if !strings.Contains(out.String(), "still logging") {
		t.Error("Expected console logging to keep working")
	}
}

func TestLokiSink(t *testing.T) {
	keepDefault(t)

	var mu sync.Mutex
	var pushes []lokiPush
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("Expected gzip body, got %q", r.Header.Get("Content-Encoding"))
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("gzip reader: %v", err)
			return
		}
		var p lokiPush
		if err := json.NewDecoder(zr).Decode(&p); err != nil {
			t.Errorf("decode push: %v", err)
			return
		}
		mu.Lock()
		pushes = append(pushes, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out syncBuffer
	l := Setup(Options{
		Console: &out,
		LokiURL: srv.URL + "/loki/api/v1/push",
		Tags:    map[string]string{"app": "billing"},
	})
	l.Logger.Info("Resource Monitor Started")
	l.Logger.Error("Monitor error", "error", "boom")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	lines := map[string]string{}
	for _, p := range pushes {
		for _, s := range p.Streams {
			if s.Stream["app"] != "billing" {
				t.Errorf("Expected app label billing, got %v", s.Stream)
			}
			for _, v := range s.Values {
				if v[0] == "" {
					t.Error("Expected a nanosecond timestamp")
				}
				lines[v[1]] = s.Stream["level"]
			}
		}
	}

	var sawInfo, sawError bool
	for line, level := range lines {
		if strings.Contains(line, "Resource Monitor Started") && level == "info" {
			sawInfo = true
		}
		if strings.Contains(line, "Monitor error") && level == "error" {
			sawError = true
		}
	}
	if !sawInfo || !sawError {
		t.Errorf("Expected info and error lines in Loki push, got %v", lines)
	}
}

func TestLokiInvalidURL(t *testing.T) {
	keepDefault(t)
	var out syncBuffer

	l := Setup(Options{Console: &out, LokiURL: "ftp://loki"})
	defer l.Close()

	if !strings.Contains(out.String(), "Loki error") {
		t.Errorf("Expected Loki error on console, got %q", out.String())
	}
}

func TestLokiPusherDropsWhenFull(t *testing.T) {
	var out syncBuffer
	done := make(chan struct{})
	close(done)
	p := &lokiPusher{
		entries: make(chan lokiEntry, 1),
		errLog:  slog.New(slog.NewTextHandler(&out, nil)),
		stopCh:  make(chan struct{}),
		done:    done,
	}

	p.Write([]byte("level=INFO msg=one\n"))
	n, err := p.Write([]byte("level=INFO msg=two\n"))
	if err != nil || n == 0 {
		t.Errorf("Expected Write to succeed even when full, got n=%d err=%v", n, err)
	}
	if got := p.Dropped(); got != 1 {
		t.Errorf("Expected 1 dropped line, got %d", got)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	logged := out.String()
	if !strings.Contains(logged, "level=WARN") || !strings.Contains(logged, "log lines dropped") || !strings.Contains(logged, "dropped=1") {
		t.Errorf("Expected drop count warning on Close, got %q", logged)
	}
}

func TestOpenLogFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("backups rotate", func(t *testing.T) {
		w, err := openLogFile(filepath.Join(dir, "rotating.log"), 3*1024*1024+1, 2)
		if err != nil {
			t.Fatalf("openLogFile failed: %v", err)
		}
		defer w.Close()

		lj, ok := w.(*lumberjack.Logger)
		if !ok {
			t.Fatalf("Expected rotating writer, got %T", w)
		}
		if lj.MaxBackups != 2 {
			t.Errorf("Expected 2 backups, got %d", lj.MaxBackups)
		}
		if lj.MaxSize != 4 {
			t.Errorf("Expected size rounded up to 4MB, got %d", lj.MaxSize)
		}
	})

	t.Run("zero backups never rotate", func(t *testing.T) {
		w, err := openLogFile(filepath.Join(dir, "plain.log"), 10, 0)
		if err != nil {
			t.Fatalf("openLogFile failed: %v", err)
		}
		defer w.Close()

		if _, ok := w.(*lumberjack.Logger); ok {
			t.Error("Expected a plain file when backup count is 0")
		}
		if _, err := w.Write([]byte("line\n")); err != nil {
			t.Errorf("Write failed: %v", err)
		}
	})
}

func TestLevelFromLine(t *testing.T) {
	tests := []struct {
		line     string
		expected string
	}{
		{`time=2024-01-01T00:00:00Z level=WARN msg="x"`, "warn"},
		{`level=ERROR msg=boom`, "error"},
		{`msg=plain`, "unknown"},
		{`level=`, "unknown"},
	}

	for _, tt := range tests {
		if got := levelFromLine(tt.line); got != tt.expected {
			t.Errorf("levelFromLine(%q): expected %s, got %s", tt.line, tt.expected, got)
		}
	}
}
