package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/taskd/auth"
	"github.com/ggoodman/taskd/auth/gotrue"
	"github.com/ggoodman/taskd/auth/kratos"
	"github.com/ggoodman/taskd/config"
	"github.com/ggoodman/taskd/httpapi"
	"github.com/ggoodman/taskd/internal/logctx"
	"github.com/ggoodman/taskd/internal/metrics"
	"github.com/ggoodman/taskd/internal/ratelimit"
	"github.com/ggoodman/taskd/internal/wellknown"
	"github.com/ggoodman/taskd/sessionstore"
	sessionmemory "github.com/ggoodman/taskd/sessionstore/memory"
	sessionredis "github.com/ggoodman/taskd/sessionstore/redis"
	"github.com/ggoodman/taskd/tasks"
	taskmemory "github.com/ggoodman/taskd/taskstore/memory"
	"github.com/ggoodman/taskd/taskstore/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	sessionSweepEvery = time.Minute
)

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			return serve(ctx, cfg, log)
		},
	}
}

// loadConfig loads and validates configuration and installs the default
// logger.
func loadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	h, err := cfg.LogHandler(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(logctx.Handler{Handler: h})
	slog.SetDefault(log)
	return cfg, log, nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, closeStore, err := openTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	rc := cfg.ResolverConfig()
	rc.Logger = log
	if rc.Policy == auth.PolicyRemoteDelegated {
		sessions, err := openSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sessions.Close() }()

		rc.Remote, err = newIdentityService(cfg, sessions, log)
		if err != nil {
			return err
		}
	}
	resolver, err := auth.NewResolver(ctx, rc)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(ctx, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	var prm *wellknown.ProtectedResourceMetadata
	if cfg.PublicURL != "" {
		md := wellknown.NewProtectedResourceMetadata(cfg.PublicURL, "taskd", cfg.Auth.JWKSURL, cfg.Auth.OIDCIssuer, cfg.Auth.Issuer)
		prm = &md
	}

	api, err := httpapi.NewHandler(httpapi.Config{
		Resolver:         resolver,
		Tasks:            tasks.NewService(store, tasks.Options{Timeout: cfg.Store.Timeout, Logger: log}),
		Metrics:          m,
		RateLimiter:      limiter,
		ResourceMetadata: prm,
		LogHandler:       log.Handler(),
	})
	if err != nil {
		return err
	}

	servers := []*http.Server{newServer(cfg.ListenAddr, api)}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, newServer(cfg.MetricsAddr, mux))
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.InfoContext(ctx, "http.server.start", slog.String("addr", srv.Addr), slog.String("policy", rc.Policy.String()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.InfoContext(ctx, "http.server.stop")
	return err
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// openTaskStore returns the configured store and a function releasing it.
func openTaskStore(ctx context.Context, cfg *config.Config) (tasks.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return taskmemory.New(), func() {}, nil
	case config.StorePostgres:
		pool, err := postgres.Open(ctx, cfg.Store.DatabaseURL.Value(), cfg.Store.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func openSessionStore(ctx context.Context, cfg *config.Config) (sessionstore.Store, error) {
	switch cfg.Sessions.Backend {
	case config.SessionsMemory:
		return sessionmemory.New(cfg.Sessions.MaxItems, sessionSweepEvery)
	case config.SessionsRedis:
		return sessionredis.New(ctx, cfg.Sessions.Redis)
	}
	return nil, fmt.Errorf("unknown sessions backend %q", cfg.Sessions.Backend)
}

func newIdentityService(cfg *config.Config, sessions sessionstore.Store, log *slog.Logger) (auth.IdentityService, error) {
	hc := &http.Client{Timeout: cfg.Auth.RemoteTimeout}
	switch cfg.Auth.RemoteProvider {
	case config.ProviderGoTrue:
		return gotrue.New(gotrue.Config{
			BaseURL:    cfg.Auth.RemoteURL,
			APIKey:     cfg.Auth.RemoteAPIKey,
			HTTPClient: hc,
			Sessions:   sessions,
			Logger:     log,
		})
	case config.ProviderKratos:
		return kratos.New(kratos.Config{
			PublicURL:  cfg.Auth.RemoteURL,
			AdminURL:   cfg.Auth.RemoteAdminURL,
			HTTPClient: hc,
			Sessions:   sessions,
			Logger:     log,
		})
	}
	return nil, fmt.Errorf("unknown remote provider %q", cfg.Auth.RemoteProvider)
}
