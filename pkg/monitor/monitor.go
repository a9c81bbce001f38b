// Package monitor provides the background resource sampler that feeds the
// host application's CPU and RAM gauges.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gravito-framework/hismon-go/pkg/metrics"
	"github.com/gravito-framework/hismon-go/pkg/probes"
	"github.com/gravito-framework/hismon-go/pkg/types"
)

const (
	// DefaultInterval is the time between the start of two samples.
	DefaultInterval = 5 * time.Second

	// DefaultStopTimeout bounds how long Stop waits when callers have no preference.
	DefaultStopTimeout = 2 * time.Second

	// minWait is the shortest pause between two samples.
	minWait = 1 * time.Second
)

// Sink receives every successful sample after the gauges are updated
type Sink interface {
	Publish(ctx context.Context, s types.Sample) error
}

// ResourceMonitor periodically samples the process and writes CPU and RAM
// into the registry's gauges. At most one sampling loop runs per monitor.
type ResourceMonitor struct {
	setters  metrics.Setters
	interval time.Duration
	probe    probes.ProcessProbe
	sinks    []Sink
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{} // closed when the current loop exits
}

// Option is a functional option for configuring the ResourceMonitor
type Option func(*ResourceMonitor)

// WithInterval sets the sampling interval
func WithInterval(d time.Duration) Option {
	return func(m *ResourceMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *ResourceMonitor) {
		m.logger = logger
	}
}

// WithProbe sets a custom process probe
func WithProbe(probe probes.ProcessProbe) Option {
	return func(m *ResourceMonitor) {
		m.probe = probe
	}
}

// WithSink adds a consumer for each sample
func WithSink(sink Sink) Option {
	return func(m *ResourceMonitor) {
		m.sinks = append(m.sinks, sink)
	}
}

// New creates a monitor writing into registry. registry may implement
// metrics.CPUSetter, metrics.RAMSetter, both or neither, or be a
// metrics.Setters value.
func New(registry any, opts ...Option) (*ResourceMonitor, error) {
	m := &ResourceMonitor{
		setters:  metrics.Resolve(registry),
		interval: DefaultInterval,
		logger:   slog.Default().With("logger", "ResourceMonitor"),
	}

	for _, opt := range opts {
		opt(m)
	}

	// Create default probe if not provided
	if m.probe == nil {
		probe, err := probes.NewGoProcessProbe()
		if err != nil {
			return nil, fmt.Errorf("failed to create process probe: %w", err)
		}
		m.probe = probe
	}

	return m, nil
}

// Start launches the sampling loop. It is a no-op if already running.
func (m *ResourceMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := m.done
	m.done = make(chan struct{})
	m.cancel = cancel
	m.running = true

	go m.run(ctx, prev, m.done)

	m.logger.Info("Resource Monitor Started", "interval", m.interval)
}

// Stop signals the loop to exit and waits up to timeout for it. It reports
// whether the loop finished in time; the monitor is stopped either way.
func (m *ResourceMonitor) Stop(timeout time.Duration) bool {
	m.mu.Lock()
	if m.running {
		m.cancel()
		m.running = false
		m.logger.Info("Resource Monitor Stopped")
	}
	done := m.done
	m.mu.Unlock()

	if done == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		m.logger.Warn("Resource Monitor did not stop in time", "timeout", timeout)
		return false
	}
}

// Running reports whether Start has been called without a matching Stop
func (m *ResourceMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// waitAfterSample accounts for the CPU window already spent measuring.
func (m *ResourceMonitor) waitAfterSample() time.Duration {
	w := m.interval - probes.DefaultCPUWindow
	if w < minWait {
		w = minWait
	}
	return w
}

func (m *ResourceMonitor) run(ctx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	// A loop abandoned by a timed-out Stop may still be finishing.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		m.tick(ctx)

		wait := time.NewTimer(m.waitAfterSample())
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

func (m *ResourceMonitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Monitor error", "error", fmt.Sprintf("panic: %v", r))
		}
	}()

	sample, err := m.probe.Sample(ctx)
	if ctx.Err() != nil {
		// Stopped mid-measurement
		return
	}
	if err != nil {
		m.logger.Error("Monitor error", "error", err)
		return
	}

	if m.setters.CPU != nil {
		m.setters.CPU(sample.CPUPercent)
	}
	if m.setters.RAM != nil {
		m.setters.RAM(sample.RAMMB)
	}

	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, sample); err != nil {
			m.logger.Warn("Sample sink failed", "error", err)
		}
	}

	m.logger.Debug("Resource sample", "cpu", sample.CPUPercent, "ram_mb", sample.RAMMB)
}
