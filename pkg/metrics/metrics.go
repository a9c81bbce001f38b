// Package metrics provides the base Prometheus metrics shared by every host
// application: process CPU and RAM gauges plus a labelled error counter.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// CPUSetter is implemented by registries exposing a CPU usage gauge
type CPUSetter interface {
	SetCPU(percent float64)
}

// RAMSetter is implemented by registries exposing a RAM usage gauge
type RAMSetter interface {
	SetRAMMB(mb float64)
}

// ErrorCounter is implemented by registries exposing an error counter
type ErrorCounter interface {
	IncError(kind string)
}

// BaseMetrics holds the common resource metrics for one application
type BaseMetrics struct {
	AppName string

	cpuUsage   prometheus.Gauge
	ramUsage   prometheus.Gauge
	errorCount *prometheus.CounterVec
}

// NewBaseMetrics creates and registers the metrics for appName on reg.
// A nil reg registers on prometheus.DefaultRegisterer.
func NewBaseMetrics(appName string, reg prometheus.Registerer) (*BaseMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	prefix := SanitizeName(appName)

	m := &BaseMetrics{
		AppName: appName,
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_cpu_usage_percent",
			Help: "App CPU usage %",
		}),
		ramUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_ram_usage_mb",
			Help: "App RAM usage MB",
		}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_errors_total",
			Help: "Total errors",
		}, []string{"type"}),
	}

	for _, c := range []prometheus.Collector{m.cpuUsage, m.ramUsage, m.errorCount} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics for %q: %w", appName, err)
		}
	}
	return m, nil
}

// SetCPU sets the CPU usage gauge
func (m *BaseMetrics) SetCPU(percent float64) {
	m.cpuUsage.Set(percent)
}

// SetRAMMB sets the RAM usage gauge
func (m *BaseMetrics) SetRAMMB(mb float64) {
	m.ramUsage.Set(mb)
}

// IncError increments the error counter for kind ("unknown" when empty)
func (m *BaseMetrics) IncError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.errorCount.WithLabelValues(kind).Inc()
}

var (
	_ CPUSetter    = (*BaseMetrics)(nil)
	_ RAMSetter    = (*BaseMetrics)(nil)
	_ ErrorCounter = (*BaseMetrics)(nil)
)

// Setters holds the optional gauge setters of a registry. A nil slot means
// the registry has no such gauge.
type Setters struct {
	CPU func(float64)
	RAM func(float64)
}

// Resolve extracts whichever setters target supports. target may also be a
// Setters value, which is returned as is.
func Resolve(target any) Setters {
	switch t := target.(type) {
	case Setters:
		return t
	case *Setters:
		if t == nil {
			return Setters{}
		}
		return *t
	}

	var s Setters
	if c, ok := target.(CPUSetter); ok {
		s.CPU = c.SetCPU
	}
	if r, ok := target.(RAMSetter); ok {
		s.RAM = r.SetRAMMB
	}
	return s
}

// SanitizeName turns s into a valid metric name prefix
func SanitizeName(s string) string {
	if s == "" {
		return "app"
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
