// list_nodes prints the live HisMon heartbeats stored in Redis.
//
// Usage:
//
//	list_nodes [app]
//
// The Redis URL comes from HISMON_REDIS_URL (default redis://localhost:6379).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	hisredis "github.com/gravito-framework/hismon-go/internal/redis"
)

func main() {
	redisURL := os.Getenv("HISMON_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	app := ""
	if len(os.Args) > 1 {
		app = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := hisredis.NewClient(ctx, redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	nodes, err := hisredis.ListHeartbeats(ctx, client, app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d HisMon nodes:\n\n", len(nodes))
	for _, n := range nodes {
		age := time.Since(time.UnixMilli(n.Timestamp)).Round(time.Second)
		fmt.Printf("App: %s\n", n.App)
		fmt.Printf("   Node ID: %s (pid %d on %s/%s)\n", n.ID, n.PID, n.Hostname, n.Platform)
		fmt.Printf("   Runtime: %s %s\n", n.Language, n.Version)
		fmt.Printf("   CPU: %.2f%% of %d cores\n", n.CPUPercent, n.Cores)
		fmt.Printf("   RAM: %.1f MB\n", n.RAMMB)
		fmt.Printf("   Last sample: %s ago\n\n", age)
	}
}
