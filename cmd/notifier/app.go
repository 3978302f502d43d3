package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/flight-sms/internal/api"
	"github.com/LeventeLantos/flight-sms/internal/auth"
	"github.com/LeventeLantos/flight-sms/internal/cache"
	"github.com/LeventeLantos/flight-sms/internal/config"
	"github.com/LeventeLantos/flight-sms/internal/metrics"
	"github.com/LeventeLantos/flight-sms/internal/provider"
	"github.com/LeventeLantos/flight-sms/internal/repo"
	"github.com/LeventeLantos/flight-sms/internal/scheduler"
	"github.com/LeventeLantos/flight-sms/internal/service"
	"github.com/LeventeLantos/flight-sms/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	cfg *config.Config

	db         *sqlx.DB
	rdb        *redis.Client
	handler    http.Handler
	sched      *scheduler.Scheduler
	dispatcher *trigger.Dispatcher
	listener   *trigger.PGListener
}

// newApp opens the store and wires every component. The store and Redis
// clients live for the whole process.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := repo.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db}

	if err := repo.Migrate(ctx, db); err != nil {
		a.close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deliveries := repo.NewSQLDeliveryRepo(db)

	exec := service.NewExecutor(
		provider.NewClient(cfg.Provider.URL, cfg.Provider.Authorization, cfg.Provider.Timeout),
		deliveries,
		provider.NewPolicy(cfg.Provider.Sender, cfg.Provider.Campaign),
	).WithMetrics(m)

	var sent api.SentLookup
	if cfg.Redis.Enabled {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rc := cache.NewRedisCache(a.rdb, cfg.Redis.TTL)
		if err := rc.Ping(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		exec.WithCache(rc)
		sent = rc
	}

	handler := service.NewTriggerHandler(deliveries, exec).WithMetrics(m)
	a.dispatcher = trigger.NewDispatcher(handler, cfg.Trigger.Workers, cfg.Trigger.QueueSize).WithMetrics(m)

	switch cfg.Trigger.Source {
	case config.TriggerPGNotify:
		a.listener = trigger.NewPGListener(cfg.Database.URL, repo.NotifyChannel, a.dispatcher.Enqueue)
	default:
		deliveries.WithCreateHook(a.dispatcher.OnCreate)
	}

	recovery := service.NewRecovery(deliveries, exec).
		WithConcurrency(cfg.Recovery.Concurrency).
		WithMetrics(m)

	a.sched, err = scheduler.New("recovery", cfg.Scheduler.Interval,
		func(ctx context.Context) error {
			_, err := recovery.Run(ctx)
			return err
		},
		scheduler.WithContext(func(ctx context.Context) context.Context {
			return auth.WithCaller(ctx, auth.System)
		}),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	h := api.NewHandler(a.sched, deliveries, recovery, deliveries).WithMetrics(m.Handler())
	if sent != nil {
		h.WithSentLookup(sent)
	}
	a.handler = api.Router(h, auth.NewAPIKey(cfg.Auth.APIKey))

	return a, nil
}

// run serves HTTP and processes triggers until ctx is done.
func (a *app) run(ctx context.Context) error {
	if a.cfg.Scheduler.AutoStart {
		a.sched.Start()
	}
	defer a.sched.Stop()

	srv := &http.Server{
		Addr:              a.cfg.Server.Address,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.dispatcher.Run(gctx) })
	if a.listener != nil {
		g.Go(func() error { return a.listener.Run(gctx) })
	}

	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("close database", "error", err)
		}
	}
}
