package probes

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// FindProcesses returns the PIDs whose command line contains substr.
// Processes that exit or deny access while scanning are skipped.
func FindProcesses(ctx context.Context, substr string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var pids []int32
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, substr) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}
