package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gravito-framework/hismon-go/pkg/monitor"
	"github.com/gravito-framework/hismon-go/pkg/types"
)

const (
	keyPrefix = "hismon:node:"
	keyTTL    = 30 * time.Second
)

// Setter is the subset of the Redis client used by HeartbeatSink
type Setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// HeartbeatSink publishes each sample as a node heartbeat with a TTL, so
// a node disappears from the dashboard shortly after it stops sampling.
type HeartbeatSink struct {
	client Setter
	app    string
	nodeID string
	host   string
	cores  int
	ttl    time.Duration
}

// NewHeartbeatSink creates a sink for app. name overrides the hostname
// used in the node id.
func NewHeartbeatSink(client Setter, app, name string, cores int) *HeartbeatSink {
	hostname, _ := os.Hostname()
	if name == "" {
		name = hostname
	}
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	return &HeartbeatSink{
		client: client,
		app:    app,
		nodeID: fmt.Sprintf("%s-%d", name, os.Getpid()),
		host:   hostname,
		cores:  cores,
		ttl:    keyTTL,
	}
}

// Key returns the Redis key heartbeats are written to
func (s *HeartbeatSink) Key() string {
	return keyPrefix + s.app + ":" + s.nodeID
}

// Publish writes the heartbeat for sample
func (s *HeartbeatSink) Publish(ctx context.Context, sample types.Sample) error {
	ts := sample.TakenAt
	if ts.IsZero() {
		ts = time.Now()
	}

	payload := types.Heartbeat{
		ID:         s.nodeID,
		App:        s.app,
		Language:   types.LangGo,
		Version:    runtime.Version(),
		PID:        os.Getpid(),
		Hostname:   s.host,
		Platform:   runtime.GOOS,
		Cores:      s.cores,
		CPUPercent: sample.CPUPercent,
		RAMMB:      sample.RAMMB,
		Timestamp:  ts.UnixMilli(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	if err := s.client.Set(ctx, s.Key(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return nil
}

// Ensure HeartbeatSink implements monitor.Sink
var _ monitor.Sink = (*HeartbeatSink)(nil)
