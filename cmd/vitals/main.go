package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	adapthttp "vitals/internal/adapter/http"
	"vitals/internal/adapter/memory"
	"vitals/internal/adapter/postgres"
	redisadapter "vitals/internal/adapter/redis"
	"vitals/internal/adapter/sqlite"
	"vitals/internal/app"
	"vitals/internal/config"
	"vitals/internal/domain"
	"vitals/internal/logging"
	"vitals/internal/metrics"
	"vitals/internal/pubsub"
)

const janitorInterval = time.Hour

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

// stores bundles the repositories one backend provides.
type stores struct {
	records  domain.RecordRepository
	users    domain.UserRepository
	sessions domain.SessionRepository
	pg       *postgres.DB
	close    func() error
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return stores{}, fmt.Errorf("postgres: %w", err)
		}
		return stores{records: db, users: db, sessions: postgres.NewSessionRepo(db), pg: db, close: db.Close}, nil
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return stores{}, fmt.Errorf("sqlite: %w", err)
		}
		return stores{records: db, users: db, sessions: db.NewSessionRepo(), close: db.Close}, nil
	default:
		db := memory.New()
		return stores{records: db, users: db, sessions: db.NewSessionRepo(), close: func() error { return nil }}, nil
	}
}

func openNotifier(ctx context.Context, cfg config.Config, st stores, log *zap.Logger) (domain.ChangeNotifier, func() error, error) {
	kind := cfg.Notifier
	if kind == config.NotifierAuto {
		kind = config.NotifierMemory
		if st.pg != nil {
			kind = config.NotifierPostgres
		}
	}
	switch kind {
	case config.NotifierPostgres:
		n, err := postgres.NewNotifier(cfg.DatabaseURL, st.pg, log.Named("pg-notify"))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres notifier: %w", err)
		}
		return n, n.Close, nil
	case config.NotifierRedis:
		client := redisadapter.NewClient(redisadapter.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		n, err := redisadapter.NewNotifier(ctx, client, log.Named("redis-notify"))
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis notifier: %w", err)
		}
		return n, func() error {
			err := n.Close()
			return errors.Join(err, client.Close())
		}, nil
	default:
		return pubsub.NewBroker(), func() error { return nil }, nil
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	notifier, closeNotifier, err := openNotifier(ctx, cfg, st, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			log.Warn("close notifier", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	records := app.NewRecordService(st.records, notifier, metrics.New(reg), log.Named("records"))
	authSvc := app.NewAuthService(st.users, st.sessions)
	dashboards := app.NewDashboards(records, cfg.DashboardMax, cfg.DashboardTTL, log.Named("dashboards"))
	defer dashboards.Close()

	srv := adapthttp.New(dashboards, authSvc, app.NewProjector(time.Local, cfg.ChartUnit), cfg.WebDir, log.Named("http")).
		WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	if cfg.DisableAuth {
		log.Warn("authentication disabled; all requests act as the local user")
		srv = srv.WithoutAuth()
	}
	if cfg.OIDC.Enabled() {
		oc, err := adapthttp.DiscoverOIDC(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret, cfg.OIDC.RedirectURL)
		if err != nil {
			return err
		}
		srv = srv.WithOIDC(oc)
	}

	go janitor(ctx, authSvc, log)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.Store),
			zap.String("notifier", cfg.Notifier))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	// Open dashboard streams end when their views close, so do that first.
	dashboards.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func janitor(ctx context.Context, authSvc *app.AuthService, log *zap.Logger) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := authSvc.PurgeExpired(ctx); err != nil {
				log.Warn("purge expired sessions", zap.Error(err))
			}
		}
	}
}
