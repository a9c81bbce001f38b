package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/gravito-framework/hismon-go/pkg/metrics"
	"github.com/gravito-framework/hismon-go/pkg/probes"
)

type result struct {
	PID        int32   `json:"pid"`
	Cmdline    string  `json:"cmdline"`
	Cores      int     `json:"cores"`
	CPUPercent float64 `json:"cpu_percent"`
	RAMMB      float64 `json:"ram_mb"`
}

// Usage: debug_process [pid | cmdline-substring] [--metrics]
func main() {
	var target string
	withMetrics := false
	for _, arg := range os.Args[1:] {
		if arg == "--metrics" {
			withMetrics = true
			continue
		}
		target = arg
	}

	pids, err := resolve(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing processes: %v\n", err)
		os.Exit(1)
	}
	if len(pids) == 0 {
		fmt.Fprintf(os.Stderr, "No process matches %q\n", target)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, pid := range pids {
		probe, err := probes.NewGoProcessProbeForPID(pid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pid %d: %v\n", pid, err)
			continue
		}
		s, err := probe.Sample(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pid %d: %v\n", pid, err)
			continue
		}

		r := result{PID: pid, Cores: probe.Cores(), CPUPercent: s.CPUPercent, RAMMB: s.RAMMB}
		if p, err := process.NewProcess(pid); err == nil {
			r.Cmdline, _ = p.Cmdline()
		}
		_ = enc.Encode(r)

		if withMetrics {
			reg := prometheus.NewRegistry()
			m, err := metrics.NewBaseMetrics(fmt.Sprintf("pid_%d", pid), reg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
				continue
			}
			m.SetCPU(s.CPUPercent)
			m.SetRAMMB(s.RAMMB)
			if err := metrics.WriteText(os.Stdout, reg); err != nil {
				fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
			}
		}
	}
}

// resolve maps the argument to PIDs. Empty means this process.
func resolve(target string) ([]int32, error) {
	if target == "" {
		return []int32{int32(os.Getpid())}, nil
	}
	if pid, err := strconv.ParseInt(target, 10, 32); err == nil {
		return []int32{int32(pid)}, nil
	}

	matches, err := probes.FindProcesses(context.Background(), target)
	if err != nil {
		return nil, err
	}

	var pids []int32
	for _, pid := range matches {
		if pid != int32(os.Getpid()) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
