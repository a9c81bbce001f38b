// Package agent wires the HisMon components into a runnable sidecar.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	hisredis "github.com/gravito-framework/hismon-go/internal/redis"
	"github.com/gravito-framework/hismon-go/pkg/config"
	"github.com/gravito-framework/hismon-go/pkg/metrics"
	"github.com/gravito-framework/hismon-go/pkg/monitor"
	"github.com/gravito-framework/hismon-go/pkg/probes"
	"github.com/gravito-framework/hismon-go/pkg/webhook"
)

const readHeaderTimeout = 5 * time.Second

// Agent runs the resource sampler, the alert dispatcher and the HTTP
// endpoints for one application
type Agent struct {
	config *config.Config
	logger *slog.Logger

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	metrics    *metrics.BaseMetrics

	probe   probes.ProcessProbe
	monitor *monitor.ResourceMonitor
	send    func(string)

	// Optional heartbeat transport
	redisClient *goredis.Client
	listener    *AlertListener

	server   *http.Server
	addr     net.Addr
	ownsHook bool

	running bool
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// Option is a functional option for configuring the Agent
type Option func(*Agent)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithRegistry registers and serves metrics from reg instead of the
// Prometheus defaults
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *Agent) {
		a.registerer = reg
		a.gatherer = reg
	}
}

// WithProbe sets a custom process probe for the sampler
func WithProbe(probe probes.ProcessProbe) Option {
	return func(a *Agent) {
		a.probe = probe
	}
}

// WithSender overrides where alert texts go (default: webhook.Send)
func WithSender(send func(string)) Option {
	return func(a *Agent) {
		a.send = send
	}
}

// New creates an Agent for cfg and registers its base metrics
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		config:     cfg,
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		send:       webhook.Send,
	}

	for _, opt := range opts {
		opt(a)
	}

	m, err := metrics.NewBaseMetrics(cfg.App, a.registerer)
	if err != nil {
		return nil, err
	}
	a.metrics = m

	monOpts := []monitor.Option{
		monitor.WithInterval(cfg.Interval),
		monitor.WithLogger(a.logger),
	}
	if a.probe != nil {
		monOpts = append(monOpts, monitor.WithProbe(a.probe))
	}

	if cfg.RedisURL != "" {
		client, err := hisredis.NewClientLazy(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		a.redisClient = client
		monOpts = append(monOpts, monitor.WithSink(hisredis.NewHeartbeatSink(client, cfg.App, cfg.Name, 0)))
	}

	mon, err := monitor.New(m, monOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}
	a.monitor = mon

	return a, nil
}

// Metrics returns the registered base metrics
func (a *Agent) Metrics() *metrics.BaseMetrics {
	return a.metrics
}

// Monitor returns the resource sampler
func (a *Agent) Monitor() *monitor.ResourceMonitor {
	return a.monitor
}

// Addr returns the bound HTTP address, or nil when the server is disabled
func (a *Agent) Addr() net.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.addr
}

// Start launches the sampler, the webhook dispatcher, the alert relay and
// the HTTP server
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	a.running = true
	a.mu.Unlock()

	if a.config.WebhookURL != "" {
		_, created := webhook.Init(a.config.WebhookURL, webhook.WithLogger(a.logger))
		a.ownsHook = created
	}

	if a.redisClient != nil {
		// Non-fatal, heartbeats fail per sample until Redis is back
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			a.logger.Warn("Failed to connect to Redis, heartbeats will retry", "error", err)
		}

		listener := NewAlertListener(a.redisClient, a.config.App, a.send, a.logger)
		if err := listener.Start(ctx); err != nil {
			a.logger.Warn("Alert relay disabled", "error", err)
		} else {
			a.listener = listener
		}
	}

	a.monitor.Start()

	if a.config.MetricsAddr != "" {
		if err := a.serve(); err != nil {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			if terr := a.teardown(context.Background()); terr != nil {
				a.logger.Warn("Cleanup after failed start", "error", terr)
			}
			return err
		}
	}

	a.logger.Info("HisMon Agent started",
		"app", a.config.App,
		"interval", a.config.Interval,
		"addr", a.config.MetricsAddr,
	)
	return nil
}

func (a *Agent) serve() error {
	ln, err := net.Listen("tcp", a.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.MetricsAddr, err)
	}

	srv := &http.Server{
		Handler:           a.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	a.mu.Lock()
	a.server = srv
	a.addr = ln.Addr()
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts everything down in reverse order of Start
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.teardown(ctx)
	a.logger.Info("HisMon Agent stopped")
	return err
}

// teardown releases everything Start acquired. The caller has already
// cleared running.
func (a *Agent) teardown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.addr = nil
	listener := a.listener
	a.listener = nil
	ownsHook := a.ownsHook
	a.ownsHook = false
	a.mu.Unlock()

	var errs []error

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	a.wg.Wait()

	if listener != nil {
		listener.Stop()
	}

	if !a.monitor.Stop(monitor.DefaultStopTimeout) {
		a.logger.Warn("Resource monitor did not stop in time")
	}

	if ownsHook && !webhook.Shutdown(webhook.DefaultStopTimeout) {
		a.logger.Warn("Webhook dispatcher did not stop in time")
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	return errors.Join(errs...)
}
