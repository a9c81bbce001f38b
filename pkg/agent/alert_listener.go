package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/gravito-framework/hismon-go/pkg/types"
)

// AlertChannel returns the Pub/Sub channel alerts for app are published on
func AlertChannel(app string) string {
	return "hismon:alert:" + app
}

// AlertListener relays alerts published on Redis Pub/Sub to the webhook, so
// other processes on the node can raise alerts without their own dispatcher.
type AlertListener struct {
	subscriber *redis.Client
	channel    string
	send       func(string)
	logger     *slog.Logger

	pubsub    *redis.PubSub
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// NewAlertListener creates a listener for app's alert channel
func NewAlertListener(subscriber *redis.Client, app string, send func(string), logger *slog.Logger) *AlertListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertListener{
		subscriber: subscriber,
		channel:    AlertChannel(app),
		send:       send,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start subscribes and begins relaying messages
func (l *AlertListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isRunning {
		return fmt.Errorf("alert listener already running")
	}

	pubsub := l.subscriber.Subscribe(ctx, l.channel)

	// Wait for confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	l.pubsub = pubsub
	l.isRunning = true
	l.logger.Info("Listening for alerts", "channel", l.channel)

	l.wg.Add(1)
	go l.handleMessages(pubsub.Channel())
	return nil
}

// Stop unsubscribes and waits for the relay goroutine
func (l *AlertListener) Stop() {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return
	}
	l.isRunning = false
	pubsub := l.pubsub
	l.mu.Unlock()

	close(l.stopChan)
	l.wg.Wait()

	if err := pubsub.Close(); err != nil {
		l.logger.Warn("Failed to close alert subscription", "error", err)
	}
	l.logger.Info("Alert listener stopped")
}

func (l *AlertListener) handleMessages(ch <-chan *redis.Message) {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			l.processMessage(msg.Payload)
		}
	}
}

// processMessage accepts either {"text": "..."} or a plain text payload.
func (l *AlertListener) processMessage(payload string) {
	text := strings.TrimSpace(payload)

	var msg types.AlertMessage
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			l.logger.Warn("Failed to parse alert", "error", err)
			return
		}
		text = strings.TrimSpace(msg.Text)
	}

	if text == "" {
		l.logger.Warn("Empty alert ignored", "channel", l.channel)
		return
	}

	l.logger.Debug("Relaying alert", "channel", l.channel)
	l.send(text)
}
