package probes

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gravito-framework/hismon-go/pkg/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultCPUWindow is how long a CPU measurement observes the process.
const DefaultCPUWindow = 1 * time.Second

// GoProcessProbe implements ProcessProbe using gopsutil
type GoProcessProbe struct {
	proc   *process.Process
	window time.Duration
	cores  int

	// gopsutil keeps the previous CPU times on the Process
	mu sync.Mutex
}

// ProbeOption configures a GoProcessProbe
type ProbeOption func(*GoProcessProbe)

// WithCPUWindow sets how long each CPU measurement observes the process
func WithCPUWindow(d time.Duration) ProbeOption {
	return func(p *GoProcessProbe) {
		if d > 0 {
			p.window = d
		}
	}
}

// NewGoProcessProbe creates a probe for the current process
func NewGoProcessProbe(opts ...ProbeOption) (*GoProcessProbe, error) {
	return NewGoProcessProbeForPID(int32(os.Getpid()), opts...)
}

// NewGoProcessProbeForPID creates a probe for an arbitrary process
func NewGoProcessProbeForPID(pid int32, opts ...ProbeOption) (*GoProcessProbe, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}

	// Core count - fallback to runtime.NumCPU()
	cores := runtime.NumCPU()
	if c, err := cpu.Counts(true); err == nil && c > 0 {
		cores = c
	}

	probe := &GoProcessProbe{
		proc:   p,
		window: DefaultCPUWindow,
		cores:  cores,
	}
	for _, opt := range opts {
		opt(probe)
	}
	return probe, nil
}

// PID returns the probed process id
func (p *GoProcessProbe) PID() int32 {
	return p.proc.Pid
}

// Cores returns the logical core count. CPU percentages range up to 100 * Cores.
func (p *GoProcessProbe) Cores() int {
	return p.cores
}

// Sample blocks for the CPU window, then reads RSS.
func (p *GoProcessProbe) Sample(ctx context.Context) (types.Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Percent of ONE core, so up to 100 * cores
	cpuPercent, err := p.proc.PercentWithContext(ctx, p.window)
	if err != nil {
		return types.Sample{}, fmt.Errorf("read cpu percent: %w", err)
	}

	memInfo, err := p.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return types.Sample{}, fmt.Errorf("read memory info: %w", err)
	}

	return types.Sample{
		CPUPercent: cpuPercent,
		RAMMB:      types.RAMFromBytes(memInfo.RSS),
		TakenAt:    time.Now(),
	}, nil
}

// Ensure GoProcessProbe implements ProcessProbe
var _ ProcessProbe = (*GoProcessProbe)(nil)
