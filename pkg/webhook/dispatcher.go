// Package webhook delivers alert messages to an HTTP endpoint from a single
// background worker. Delivery is best-effort and at-most-once: failures are
// logged and the message is discarded.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gravito-framework/hismon-go/pkg/types"
)

const (
	// DefaultPollInterval bounds how long an idle worker waits before re-checking for stop.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultRequestTimeout applies to each POST.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultStopTimeout bounds how long Stop waits when callers have no preference.
	DefaultStopTimeout = 2 * time.Second
)

// DeliveryError describes a failed POST. It is only ever logged.
type DeliveryError struct {
	URL string
	Err error
}

func (e *DeliveryError) Error() string {
	return "deliver to " + e.URL + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Dispatcher queues alert messages and posts them in FIFO order, one at a time.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	url      string
	client   *http.Client
	logger   *slog.Logger
	poll     time.Duration
	timeout  time.Duration
	maxQueue int

	mu      sync.Mutex
	queue   []string
	dropped uint64
	stopped bool

	notify chan struct{} // buffered(1): wakes an idle worker
	stopCh chan struct{}
	done   chan struct{}

	// ctx aborts an in-flight POST when Stop gives up waiting
	ctx    context.Context
	cancel context.CancelFunc
}

// Option is a functional option for configuring the Dispatcher
type Option func(*Dispatcher)

// WithHTTPClient sets the client used for delivery
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithPollInterval sets the idle poll interval
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.poll = interval
		}
	}
}

// WithRequestTimeout sets the per-POST timeout
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxQueue bounds the queue. When full, the oldest queued message is
// dropped. Zero (the default) means unbounded.
func WithMaxQueue(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxQueue = n
		}
	}
}

// New creates a Dispatcher for url and starts its worker.
func New(url string, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		url:     url,
		client:  &http.Client{Timeout: DefaultRequestTimeout},
		logger:  slog.Default().With("logger", "Webhook"),
		poll:    DefaultPollInterval,
		timeout: DefaultRequestTimeout,
		notify:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, opt := range opts {
		opt(d)
	}

	go d.worker()
	return d
}

// URL returns the delivery endpoint
func (d *Dispatcher) URL() string {
	return d.url
}

// Send enqueues text for delivery and returns immediately.
func (d *Dispatcher) Send(text string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.Warn("Webhook stopped. Ignored", "message", text)
		return
	}

	if d.maxQueue > 0 && len(d.queue) >= d.maxQueue {
		d.queue[0] = ""
		d.queue = d.queue[1:]
		d.dropped++
		d.logger.Warn("Webhook queue full, dropped oldest message", "max_queue", d.maxQueue)
	}
	d.queue = append(d.queue, text)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, not yet attempted messages
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Dropped returns how many messages were evicted by the queue bound
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Stop signals the worker to exit and waits up to timeout. Queued messages
// are discarded. If the worker is still posting when timeout elapses, the
// request is aborted and Stop returns false.
func (d *Dispatcher) Stop(timeout time.Duration) bool {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		if n := len(d.queue); n > 0 {
			d.logger.Warn("Webhook stopping, discarding queued messages", "count", n)
		}
		d.queue = nil
		close(d.stopCh)
	}
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.done:
		d.cancel()
		return true
	case <-timer.C:
		d.cancel()
		return false
	}
}

func (d *Dispatcher) dequeue() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.queue) == 0 {
		return "", false
	}
	msg := d.queue[0]
	d.queue[0] = ""
	d.queue = d.queue[1:]
	return msg, true
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		msg, ok := d.dequeue()
		if !ok {
			idle := time.NewTimer(d.poll)
			select {
			case <-d.stopCh:
				idle.Stop()
				return
			case <-d.notify:
				idle.Stop()
			case <-idle.C:
			}
			continue
		}

		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Webhook worker error", "error", fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := d.post(msg); err != nil {
		d.logger.Error("Webhook send failed", "error", err)
	}
}

// post sends one message. The response status is not inspected: any
// response counts as delivered.
func (d *Dispatcher) post(msg string) error {
	body, err := json.Marshal(types.AlertMessage{Text: msg})
	if err != nil {
		return &DeliveryError{URL: maskURL(d.url), Err: fmt.Errorf("encode payload: %w", err)}
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{URL: maskURL(d.url), Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{URL: maskURL(d.url), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		d.logger.Debug("Webhook endpoint returned error status", "status", resp.StatusCode)
	}
	return nil
}
