package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spi-exam-service/internal/app"
	"spi-exam-service/internal/config"
	"spi-exam-service/internal/infra/filesystem"
	"spi-exam-service/internal/infra/memory"
	"spi-exam-service/internal/infra/postgres"
	redissession "spi-exam-service/internal/infra/redis"
	"spi-exam-service/internal/logging"
	transport "spi-exam-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const sweepInterval = time.Minute

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Debug: cfg.Server.Debug, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Session.Secret == "" {
		logger.Warn("no session secret configured, using the development secret")
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, cleanupSource, err := newSetSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupSource()

	metrics := transport.NewMetrics()
	catalog := app.NewCatalog(source, logger.Named("catalog"), app.WithRebuildHook(metrics.ObserveIndex))
	if _, err := catalog.BuildIndex(ctx); err != nil {
		return err
	}

	if cfg.Catalog.Watch {
		if cfg.Catalog.Source != config.SourceFilesystem {
			logger.Warn("catalog.watch only applies to the filesystem source", zap.String("source", cfg.Catalog.Source))
		} else {
			watcher := filesystem.NewWatcher(cfg.Catalog.Root, catalog, logger.Named("watcher"), 500*time.Millisecond)
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.Warn("catalog watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	idleTTL := config.TTLDuration(cfg.Session.IdleTTL, time.Hour)
	sessions, cleanupSessions, err := newSessionStore(ctx, cfg, idleTTL, logger)
	if err != nil {
		return err
	}
	defer cleanupSessions()

	limiter := transport.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	go sweep(ctx, sweepInterval, func() { limiter.Sweep(10 * time.Minute) })

	renderer, err := transport.NewRenderer()
	if err != nil {
		return err
	}
	handler := transport.NewHandler(transport.Deps{
		Catalog:          catalog,
		Exams:            app.NewExamService(catalog),
		Sessions:         sessions,
		Cookies:          transport.NewCookies(cfg.SessionSecret(), cfg.Session.CookieName, idleTTL, cfg.Session.Secure),
		Renderer:         renderer,
		Metrics:          metrics,
		Limiter:          limiter,
		Logger:           logger.Named("http"),
		ReloadPerRequest: cfg.Catalog.ReloadPerRequest || cfg.Server.Debug,
		StaticDir:        cfg.Server.StaticDir,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting exam service", zap.String("addr", server.Addr), zap.String("source", cfg.Catalog.Source), zap.String("sessions", cfg.Session.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newSetSource(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.SetSource, func(), error) {
	if cfg.Catalog.Source != config.SourcePostgres {
		logger.Info("reading question sets from disk", zap.String("root", cfg.Catalog.Root))
		return filesystem.NewSetSource(cfg.Catalog.Root), func() {}, nil
	}
	if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("reading question sets from postgres")
	return postgres.NewSetSource(pool), pool.Close, nil
}

func newSessionStore(ctx context.Context, cfg config.Config, ttl time.Duration, logger *zap.Logger) (app.SessionRepository, func(), error) {
	if cfg.Session.Store == config.StoreRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return redissession.NewSessionStore(client, ttl), func() { _ = client.Close() }, nil
	}

	store := memory.NewSessionStore(ttl)
	go sweep(ctx, sweepInterval, func() {
		if n := store.Sweep(); n > 0 {
			logger.Debug("expired sessions swept", zap.Int("count", n))
		}
	})
	return store, func() {}, nil
}

func sweep(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
