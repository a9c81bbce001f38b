// Package types defines shared types for HisMon.
// Heartbeat mirrors the node payload consumed by the dashboard.
package types

import (
	"strings"
	"time"
)

// Language represents the runtime/language type
type Language string

// LangGo identifies heartbeats published by this agent.
const LangGo Language = "go"

// BytesPerMB converts byte counts into megabytes (MiB).
const BytesPerMB = 1024 * 1024

// Sample is one measurement of the host process.
type Sample struct {
	CPUPercent float64   `json:"cpu_percent"` // percent of one core, up to 100 * cores
	RAMMB      float64   `json:"ram_mb"`      // resident set size in MB
	TakenAt    time.Time `json:"taken_at"`
}

// RAMFromBytes converts an RSS byte count into megabytes.
func RAMFromBytes(rss uint64) float64 {
	return float64(rss) / BytesPerMB
}

// AlertMessage is a single outbound webhook message
type AlertMessage struct {
	Text string `json:"text"`
}

// Heartbeat is the payload published to the transport Redis for each sample
type Heartbeat struct {
	ID         string   `json:"id"`
	App        string   `json:"app"`
	Language   Language `json:"language"`
	Version    string   `json:"version"`
	PID        int      `json:"pid"`
	Hostname   string   `json:"hostname"`
	Platform   string   `json:"platform"`
	Cores      int      `json:"cores"`
	CPUPercent float64  `json:"cpu_percent"`
	RAMMB      float64  `json:"ram_mb"`
	Timestamp  int64    `json:"timestamp"`
}

// Level is a textual log level as accepted in configuration
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel normalizes s. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelDebug, LevelInfo, LevelError:
		return l
	case LevelWarn, "WARNING":
		return LevelWarn
	default:
		return LevelInfo
	}
}
