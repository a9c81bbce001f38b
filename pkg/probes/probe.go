// Package probes provides interfaces and implementations for measuring the host process.
package probes

import (
	"context"

	"github.com/gravito-framework/hismon-go/pkg/types"
)

// ProcessProbe measures CPU and memory usage of a process.
// Sample may block for its measurement window and should return early
// when ctx is cancelled.
type ProcessProbe interface {
	Sample(ctx context.Context) (types.Sample, error)
}

// ProbeFunc adapts a function to ProcessProbe
type ProbeFunc func(ctx context.Context) (types.Sample, error)

// Sample calls f(ctx)
func (f ProbeFunc) Sample(ctx context.Context) (types.Sample, error) {
	return f(ctx)
}
