// Package app wires the fintrack realtime server: config, logging, storage
// backends, HTTP routes, and the chat and balance WebSocket endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"fintrack/cmd/internal/auth/session"
	"fintrack/cmd/internal/balance"
	"fintrack/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App is the fintrack server runtime: it owns the storage clients and the HTTP surface.
type App struct {
	cfg Config
	log Logger

	metrics *prometheus.Registry

	dbPool *pgxpool.Pool
	redis  *redis.Client

	registry  *realtime.Registry
	directory realtime.Directory
	mailbox   realtime.Mailbox
	ws        *realtime.WSGateway

	// nil when no database is configured.
	balance *balance.Feed
}

// New constructs a fully wired App instance from config and logger.
// Storage clients are connected (and pinged) here; a failure releases whatever was opened.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	verifier, err := session.NewVerifier(sessCfg)
	if err != nil {
		return nil, err
	}

	backend, err := cfg.mailboxBackend()
	if err != nil {
		return nil, err
	}

	a = &App{
		cfg:     cfg,
		log:     log,
		metrics: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.DatabaseURL != "" {
		if a.dbPool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		log.Info("db.enabled", "schema", cfg.DBSchema)
	} else {
		log.Info("db.disabled")
	}

	if a.mailbox, err = a.newMailbox(ctx, backend); err != nil {
		return nil, err
	}
	log.Info("mailbox.backend", "backend", backend, "max", cfg.MailboxMax)

	if a.dbPool != nil {
		dir, err := realtime.NewPostgresDirectory(a.dbPool, realtime.WithDirectorySchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		a.directory = dir
	} else {
		a.directory = realtime.NewMemoryDirectory()
	}

	wsCfg := realtime.LoadGatewayConfigFromEnv()
	rtMetrics := realtime.NewMetrics(a.metrics)

	a.registry = realtime.NewRegistry(log, rtMetrics)
	router := realtime.NewRouter(log, a.registry, a.mailbox, a.directory, rtMetrics)
	a.ws = realtime.NewWSGateway(log, wsCfg, realtime.AuthenticatorFunc(
		func(ctx context.Context, token string) (realtime.UserID, error) {
			id, err := verifier.Authenticate(ctx, token)
			return realtime.UserID(id), err
		},
	), router)

	if a.dbPool != nil {
		src, err := balance.NewPostgresSource(a.dbPool, balance.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		var rates balance.RateProvider
		if cfg.RatesURL != "" {
			rates = balance.NewHTTPRates(nil, cfg.RatesURL, cfg.RatesTTL)
		}
		a.balance = balance.NewFeed(log, balance.FeedConfig{
			Interval:       cfg.BalanceInterval,
			WriteTimeout:   wsCfg.WriteTimeout,
			OriginPatterns: wsCfg.OriginPatterns(),
			DevInsecure:    wsCfg.DevInsecure,
		}, verifier, src, rates)
	}

	return a, nil
}

func (a *App) newMailbox(ctx context.Context, backend string) (realtime.Mailbox, error) {
	switch backend {
	case MailboxRedis:
		client, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = client
		mb, err := realtime.NewRedisMailbox(client, a.cfg.MailboxMax)
		if err != nil {
			return nil, err
		}
		return mb, nil
	case MailboxPostgres:
		if a.cfg.DBMigrate {
			if err := migrateMailbox(ctx, a.dbPool, a.cfg.DBSchema); err != nil {
				return nil, err
			}
		}
		mb, err := realtime.NewPostgresMailbox(a.dbPool, a.cfg.MailboxMax, realtime.WithMailboxSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		return mb, nil
	default:
		a.log.Warn("mailbox.inmemory", "note", "queued messages are lost on restart")
		return realtime.NewInMemoryMailbox(a.cfg.MailboxMax), nil
	}
}

// Handler returns the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRequestLogging(mux, a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
// Open WebSocket sessions are cancelled when shutdown begins.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.redis != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// close releases storage clients. The app owns the pool and the redis client;
// mailbox and directory Close are no-ops over them.
func (a *App) close() {
	if a.mailbox != nil {
		_ = a.mailbox.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
