package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/gravito-framework/hismon-go/pkg/types"
)

const scanCount = 100

// Reader is the subset of the Redis client used to list heartbeats
type Reader interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// NodePattern returns the key pattern matching heartbeats of app, or of
// every app when app is empty
func NodePattern(app string) string {
	if app == "" {
		return keyPrefix + "*"
	}
	return keyPrefix + app + ":*"
}

// ListHeartbeats returns the live heartbeats for app sorted by app and node id.
// Keys that expire between SCAN and GET, or hold invalid JSON, are skipped.
func ListHeartbeats(ctx context.Context, client Reader, app string) ([]types.Heartbeat, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := client.Scan(ctx, cursor, NodePattern(app), scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan heartbeats: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out := make([]types.Heartbeat, 0, len(keys))
	for _, key := range keys {
		val, err := client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}

		var hb types.Heartbeat
		if err := json.Unmarshal([]byte(val), &hb); err != nil {
			continue
		}
		out = append(out, hb)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].App != out[j].App {
			return out[i].App < out[j].App
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
