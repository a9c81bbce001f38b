package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravito-framework/hismon-go/pkg/metrics"
	"github.com/gravito-framework/hismon-go/pkg/probes"
	"github.com/gravito-framework/hismon-go/pkg/types"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// logBuffer is a goroutine-safe log sink
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recorder is a registry that remembers every gauge write
type recorder struct {
	mu   sync.Mutex
	cpu  []float64
	ram  []float64
	when []time.Time
}

func (r *recorder) SetCPU(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cpu = append(r.cpu, v)
	r.when = append(r.when, time.Now())
}

func (r *recorder) SetRAMMB(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ram = append(r.ram, v)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cpu), len(r.ram)
}

// ramOnly lacks the CPU gauge
type ramOnly struct {
	mu  sync.Mutex
	ram []float64
}

func (r *ramOnly) SetRAMMB(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ram = append(r.ram, v)
}

func fixedProbe(cpu, ram float64) probes.ProcessProbe {
	return probes.ProbeFunc(func(context.Context) (types.Sample, error) {
		return types.Sample{CPUPercent: cpu, RAMMB: ram, TakenAt: time.Now()}, nil
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestWaitAfterSample(t *testing.T) {
	tests := []struct {
		interval time.Duration
		expected time.Duration
	}{
		{5 * time.Second, 4 * time.Second},
		{2 * time.Second, 1 * time.Second},
		{1 * time.Second, 1 * time.Second},
		{500 * time.Millisecond, 1 * time.Second},
	}

	for _, tt := range tests {
		m := &ResourceMonitor{interval: tt.interval}
		if got := m.waitAfterSample(); got != tt.expected {
			t.Errorf("interval %v: expected wait %v, got %v", tt.interval, tt.expected, got)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	m, err := New(nil, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if m.interval != DefaultInterval {
		t.Errorf("Expected default interval %v, got %v", DefaultInterval, m.interval)
	}
	if _, ok := m.probe.(*probes.GoProcessProbe); !ok {
		t.Errorf("Expected default gopsutil probe, got %T", m.probe)
	}
	if m.Running() {
		t.Error("Expected initial state Stopped")
	}
}

func TestStartStop(t *testing.T) {
	reg := &recorder{}
	m, err := New(reg, WithProbe(fixedProbe(1, 2)), WithInterval(2*time.Second), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	if !m.Running() {
		t.Fatal("Expected Running after Start")
	}

	start := time.Now()
	if !m.Stop(2 * time.Second) {
		t.Fatal("Expected Stop to finish within timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if m.Running() {
		t.Error("Expected Stopped after Stop")
	}

	cpuBefore, ramBefore := reg.counts()
	time.Sleep(1500 * time.Millisecond)
	cpuAfter, ramAfter := reg.counts()
	if cpuAfter != cpuBefore || ramAfter != ramBefore {
		t.Errorf("Expected no writes after Stop, got cpu %d->%d ram %d->%d", cpuBefore, cpuAfter, ramBefore, ramAfter)
	}
}

func TestStopWithoutStart(t *testing.T) {
	m, err := New(nil, WithProbe(fixedProbe(0, 0)), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !m.Stop(time.Millisecond) {
		t.Error("Expected Stop on a never-started monitor to return true")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	var active, maxActive, calls int32
	probe := probes.ProbeFunc(func(context.Context) (types.Sample, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			cur := atomic.LoadInt32(&maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
				break
			}
		}
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return types.Sample{CPUPercent: 1, RAMMB: 1}, nil
	})

	m, err := New(&recorder{}, WithProbe(probe), WithInterval(2*time.Second), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	m.Start()
	time.Sleep(1500 * time.Millisecond)
	m.Stop(2 * time.Second)

	// One loop: a sample at 0s and one after the 1s wait.
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 samples from a single loop, got %d", got)
	}
	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("Expected at most 1 concurrent sample, got %d", got)
	}
}

func TestSamplingScenario(t *testing.T) {
	reg := &recorder{}
	m, err := New(reg, WithProbe(fixedProbe(12.5, 42.0)), WithInterval(2*time.Second), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	waitFor(t, 4*time.Second, func() bool {
		c, r := reg.counts()
		return c >= 3 && r >= 3
	})
	m.Stop(2 * time.Second)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if len(reg.cpu) != 3 || len(reg.ram) != 3 {
		t.Fatalf("Expected exactly 3 writes per gauge, got cpu=%d ram=%d", len(reg.cpu), len(reg.ram))
	}
	for i := range reg.cpu {
		if reg.cpu[i] != 12.5 {
			t.Errorf("cpu[%d]: expected 12.5, got %v", i, reg.cpu[i])
		}
		if reg.ram[i] != 42.0 {
			t.Errorf("ram[%d]: expected 42.0, got %v", i, reg.ram[i])
		}
	}
	for i := 1; i < len(reg.when); i++ {
		if gap := reg.when[i].Sub(reg.when[i-1]); gap < time.Second {
			t.Errorf("ticks %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestMissingGaugeIsTolerated(t *testing.T) {
	reg := &ramOnly{}
	probe, err := probes.NewGoProcessProbe(probes.WithCPUWindow(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewGoProcessProbe failed: %v", err)
	}

	m, err := New(reg, WithProbe(probe), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	waitFor(t, 3*time.Second, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.ram) > 0
	})
	m.Stop(2 * time.Second)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.ram[0] <= 0 {
		t.Errorf("Expected positive RAM, got %v", reg.ram[0])
	}
}

func TestMetricsSettersRegistry(t *testing.T) {
	var cpu atomic.Value
	setters := metrics.Setters{CPU: func(v float64) { cpu.Store(v) }}

	m, err := New(setters, WithProbe(fixedProbe(33, 44)), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	waitFor(t, time.Second, func() bool { return cpu.Load() != nil })
	m.Stop(time.Second)

	if got := cpu.Load().(float64); got != 33 {
		t.Errorf("Expected cpu 33, got %v", got)
	}
}

func TestFailedSampleDoesNotStopLoop(t *testing.T) {
	var calls int32
	probe := probes.ProbeFunc(func(context.Context) (types.Sample, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			return types.Sample{}, errors.New("proc gone")
		case 2:
			panic("probe exploded")
		default:
			return types.Sample{CPUPercent: 5, RAMMB: 6}, nil
		}
	})

	reg := &recorder{}
	logs := &logBuffer{}
	m, err := New(reg, WithProbe(probe), WithInterval(time.Second), WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	waitFor(t, 4*time.Second, func() bool {
		c, _ := reg.counts()
		return c > 0
	})
	m.Stop(time.Second)

	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Errorf("Expected at least 3 probe calls, got %d", got)
	}

	out := logs.String()
	if got := strings.Count(out, `level=ERROR msg="Monitor error"`); got != 2 {
		t.Errorf("Expected 2 Monitor error lines, got %d in %q", got, out)
	}
	if !strings.Contains(out, "proc gone") || !strings.Contains(out, "probe exploded") {
		t.Errorf("Expected both failure causes logged, got %q", out)
	}
	if !strings.Contains(out, `msg="Resource Monitor Started"`) {
		t.Errorf("Expected start line, got %q", out)
	}
}

func TestStopInterruptsMeasurement(t *testing.T) {
	started := make(chan struct{})
	probe := probes.ProbeFunc(func(ctx context.Context) (types.Sample, error) {
		close(started)
		<-ctx.Done()
		return types.Sample{}, ctx.Err()
	})

	reg := &recorder{}
	m, err := New(reg, WithProbe(probe), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	<-started
	if !m.Stop(time.Second) {
		t.Fatal("Expected Stop to interrupt the measurement window")
	}
	if c, r := reg.counts(); c != 0 || r != 0 {
		t.Errorf("Expected no writes, got cpu=%d ram=%d", c, r)
	}
}

func TestStopTimeout(t *testing.T) {
	release := make(chan struct{})
	probe := probes.ProbeFunc(func(context.Context) (types.Sample, error) {
		<-release
		return types.Sample{CPUPercent: 1, RAMMB: 1}, nil
	})

	reg := &recorder{}
	m, err := New(reg, WithProbe(probe), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	time.Sleep(20 * time.Millisecond)
	if m.Stop(50 * time.Millisecond) {
		t.Fatal("Expected Stop to give up on a probe that ignores cancellation")
	}
	if m.Running() {
		t.Error("Expected Stopped even after a timed-out Stop")
	}

	close(release)
	if !m.Stop(time.Second) {
		t.Fatal("Expected the abandoned loop to finish once the probe returns")
	}
	if c, _ := reg.counts(); c != 0 {
		t.Errorf("Expected the late sample to be discarded, got %d writes", c)
	}
}

type chanSink struct {
	samples chan types.Sample
	err     error
}

func (s *chanSink) Publish(_ context.Context, sample types.Sample) error {
	select {
	case s.samples <- sample:
	default:
	}
	return s.err
}

func TestSinks(t *testing.T) {
	failing := &chanSink{samples: make(chan types.Sample, 4), err: errors.New("redis down")}
	ok := &chanSink{samples: make(chan types.Sample, 4)}

	m, err := New(nil, WithProbe(fixedProbe(9, 10)), WithSink(failing), WithSink(ok), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.Start()
	defer m.Stop(time.Second)

	for _, s := range []*chanSink{failing, ok} {
		select {
		case got := <-s.samples:
			if got.CPUPercent != 9 || got.RAMMB != 10 {
				t.Errorf("Expected sample 9/10, got %v/%v", got.CPUPercent, got.RAMMB)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected sink to receive a sample")
		}
	}
}
