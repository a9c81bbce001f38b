package webhook

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

//nolint:gochecknoglobals // process-wide dispatcher for Init/Send
var (
	global   atomic.Pointer[Dispatcher]
	globalMu sync.Mutex
)

// Init creates the process-wide Dispatcher on first call. Later calls keep
// the existing instance and ignore their arguments. The bool reports whether
// this call created it.
func Init(endpoint string, opts ...Option) (*Dispatcher, bool) {
	if d := global.Load(); d != nil {
		return d, false
	}

	globalMu.Lock()
	defer globalMu.Unlock()

	if d := global.Load(); d != nil {
		return d, false
	}

	d := New(endpoint, opts...)
	global.Store(d)
	d.logger.Info("Webhook initialized", "url", maskURL(endpoint))
	return d, true
}

// Default returns the process-wide Dispatcher, or nil before Init.
func Default() *Dispatcher {
	return global.Load()
}

// Send enqueues text on the process-wide Dispatcher. Before Init the
// message is dropped with a warning.
func Send(text string) {
	d := global.Load()
	if d == nil {
		slog.Warn("Webhook not initialized. Ignored", "message", text)
		return
	}
	d.Send(text)
}

// Shutdown stops the process-wide Dispatcher. The instance stays installed,
// so Init keeps returning it and Send drops with a warning.
func Shutdown(timeout time.Duration) bool {
	d := global.Load()
	if d == nil {
		return true
	}
	return d.Stop(timeout)
}

// maskURL hides credentials and path, which often embed webhook tokens.
// scheme://user:pw@host/path?q -> scheme://***@host/***
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	masked := raw
	if u.User != nil {
		masked = strings.Replace(masked, u.User.String(), "***", 1)
	}
	if len(u.RequestURI()) > 1 {
		masked = strings.Replace(masked, u.RequestURI(), "/***", 1)
	}
	if u.Fragment != "" {
		masked = strings.Replace(masked, "#"+u.EscapedFragment(), "", 1)
	}
	return masked
}
