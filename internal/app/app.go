package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"chatrelay/pkg/api/middleware"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/provider"
	"chatrelay/pkg/relay"
	"chatrelay/pkg/shutdown"
)

// app state values reported by readyz
const (
	stateStarting     = "starting"
	stateServing      = "serving"
	stateShuttingDown = "shutting_down"
	stateStopped      = "stopped"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	registry *prometheus.Registry
	relay    *relay.Relay
	gateway  *middleware.Gateway

	srvFast *fasthttp.Server
	ready   chan struct{}

	mu    sync.Mutex
	state string
	addr  net.Addr

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option adjusts an App before it starts.
type Option func(*appOptions)

type appOptions struct {
	source provider.Source
}

// WithSource replaces the configured provider.
func WithSource(src provider.Source) Option {
	return func(o *appOptions) { o.source = src }
}

// New sets up everything that does not need a running context: the provider,
// metrics, relay and middleware. Call Run to serve.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string, opts ...Option) (*App, error) {
	if eff.Config == nil {
		return nil, errors.New("effective config is nil")
	}
	var o appOptions
	for _, fn := range opts {
		fn(&o)
	}
	cfg := eff.Config

	src := o.source
	if src == nil {
		var err error
		if src, err = setupProvider(cfg.Provider); err != nil {
			return nil, fmt.Errorf("provider setup: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	relayOpts := []relay.Option{
		relay.WithMetrics(relay.NewMetrics(reg)),
		relay.WithErrorMessage(cfg.Relay.ErrorMessage),
	}
	if cfg.Provider.SystemPrompt != nil {
		relayOpts = append(relayOpts, relay.WithSystemPrompt(*cfg.Provider.SystemPrompt))
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		registry:  reg,
		relay:     relay.New(src, relayOpts...),
		gateway: middleware.New(middleware.Config{
			AllowedOrigins: append([]string{}, cfg.Server.CORS.AllowedOrigins...),
			RPS:            cfg.Server.RateLimit.RPS,
			Burst:          cfg.Server.RateLimit.Burst,
		}),
		ready: make(chan struct{}),
		state: stateStarting,
	}

	logger.LogConfigSummary("config_summary", []string{
		fmt.Sprintf("provider: %s", cfg.Provider.Kind),
		fmt.Sprintf("chat_path: %s", cfg.Relay.ChatPath),
		fmt.Sprintf("max_body_size: %s", humanize.IBytes(uint64(cfg.Server.MaxBodySize.Int64()))),
		fmt.Sprintf("rate_limit: %.2f rps burst %d", cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
		fmt.Sprintf("cors_origins: %d", len(cfg.Server.CORS.AllowedOrigins)),
		fmt.Sprintf("debug_routes: %t", cfg.DebugRoutes()),
	})
	return a, nil
}

// Run serves until ctx is cancelled or the server fails. Cancelling ctx ends
// every open stream with its done frame before the server drains.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	ln, err := net.Listen("tcp", a.eff.Config.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.eff.Config.Addr(), err)
	}

	a.srvFast = a.buildServer(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.serveHTTP(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdown.DefaultTimeout)
		defer cancel()
		err := a.Shutdown(sctx)
		_ = ln.Close()
		return err
	})
	return g.Wait()
}

// Addr is the bound listen address; it is nil until the server is serving.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Ready is closed once the server accepts connections.
func (a *App) Ready() <-chan struct{} { return a.ready }

func (a *App) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) setState(s string) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Shutdown stops the HTTP server and background work. It is safe to call
// more than once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.setState(stateShuttingDown)
		a.shutdownErr = shutdown.ShutdownServer(ctx, a.srvFast, a.gateway)
		a.setState(stateStopped)
	})
	return a.shutdownErr
}
