package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/webqx-health/authcore/pkg/audit"
	"github.com/webqx-health/authcore/pkg/config"
	"github.com/webqx-health/authcore/pkg/httpapi"
	"github.com/webqx-health/authcore/pkg/lockout"
	"github.com/webqx-health/authcore/pkg/observability"
	"github.com/webqx-health/authcore/pkg/orchestrator"
	"github.com/webqx-health/authcore/pkg/provider"
	"github.com/webqx-health/authcore/pkg/rbac"
	"github.com/webqx-health/authcore/pkg/session"
	"github.com/webqx-health/authcore/pkg/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authcore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	hierarchy, mapper, err := rbac.Load(cfg.RolesFile)
	if err != nil {
		return err
	}

	providerConfigs, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return err
	}
	adapters := make(map[string]provider.Adapter, len(providerConfigs))
	for _, pc := range providerConfigs {
		adapter, err := provider.NewAdapter(pc, cfg.Server.BaseURL)
		if err != nil {
			return err
		}
		if err := adapter.ValidateConfig(); err != nil {
			return err
		}
		if oa, ok := adapter.(*provider.OAuth2Adapter); ok {
			oa.SetExchangeTimeout(cfg.Flow.ExchangeTimeout)
		}
		adapters[pc.Name] = adapter
		logger.WithFields(map[string]interface{}{
			"provider": pc.Name,
			"protocol": string(pc.Type),
		}).Info("identity provider registered")
	}

	store, err := newSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	sessions := session.NewManager(store, session.Config{
		TTL:         cfg.Session.TTL,
		IdleTimeout: cfg.Session.IdleTimeout,
	})

	sink, db, err := newAuditSink(cfg)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(sink, cfg.Audit.Sink, logger, metrics)
	defer recorder.Close()

	issuer, err := token.NewIssuer(token.Config{
		Secret:   []byte(cfg.Token.Secret),
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
	}, hierarchy)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Adapters:  adapters,
		Flows:     provider.NewFlowStore(cfg.Flow.TTL),
		Mapper:    mapper,
		Hierarchy: hierarchy,
		Lockout:   lockout.NewGuard(cfg.Lockout),
		Sessions:  sessions,
		Issuer:    issuer,
		Recorder:  recorder,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Flow.SweepInterval, func() {
		swept := orch.SweepExpired(context.Background())
		if swept > 0 {
			logger.WithField("swept", swept).Debug("expired state swept")
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	health := observability.NewHealthChecker()
	health.Register("sessions", func(ctx context.Context) error {
		_, err := sessions.Count(ctx)
		return err
	})
	if db != nil {
		health.Register("audit_db", func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      httpapi.NewServer(orch, logger).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.Handle("/healthz", health.Handler())
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("authentication server listening")
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("api server shutdown")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown")
		}
		return nil
	})

	return g.Wait()
}

func newSessionStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Store {
	case "redis":
		return session.NewRedisStore(cfg.Session.Redis)
	default:
		return session.NewMemoryStore(), nil
	}
}

// newAuditSink builds the configured sink. The returned *sql.DB is non-nil
// only for postgres-backed sinks so the caller can register a health check.
func newAuditSink(cfg *config.Config) (audit.Sink, *sql.DB, error) {
	fileSink := func() (audit.Sink, error) {
		return audit.NewFileSink(audit.FileSinkConfig{
			BasePath: cfg.Audit.FilePath,
			MaxSize:  cfg.Audit.FileMaxSize,
		})
	}
	dbSink := func() (audit.Sink, *sql.DB, error) {
		db, err := sql.Open("postgres", cfg.Audit.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, nil, fmt.Errorf("ping audit database: %w", err)
		}
		sink, err := audit.NewDBSink(db)
		if err != nil {
			return nil, nil, err
		}
		return sink, db, nil
	}

	switch cfg.Audit.Sink {
	case "memory":
		return audit.NewMemorySink(), nil, nil
	case "file":
		sink, err := fileSink()
		return sink, nil, err
	case "postgres":
		return dbSink()
	case "multi":
		fs, err := fileSink()
		if err != nil {
			return nil, nil, err
		}
		ds, db, err := dbSink()
		if err != nil {
			return nil, nil, err
		}
		return audit.NewMultiSink(fs, ds), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit sink: %s", cfg.Audit.Sink)
	}
}
