// Package server initializes and runs the dirkeeper server: it opens
// PostgreSQL and the blob store, runs migrations, starts the HTTP API with
// the migration relay and its janitors, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/logging"
	"github.com/dmitrijs2005/dirkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/dirkeeper/internal/server/config"
	"github.com/dmitrijs2005/dirkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/dirkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/dirkeeper/internal/server/relay"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/dirkeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	janitorInterval = 30 * time.Second
	purgeInterval   = 10 * time.Minute
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	keys     *services.KeyService
	sessions *services.SessionService
	relay    *relay.Handler
	metrics  *metrics.Metrics
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)

	ks := services.NewKeyService(db, rm, blobs, m, logger)
	ss := services.NewSessionService(db, rm, services.DevAuthenticator{Secret: []byte(c.AuthSecret)}, c, logger)

	registry := relay.NewRegistry(c.RelayCodeTTL)
	m.RegisterRelaySessions(reg, registry.Len)
	rh := relay.NewHandler(registry, ss, m, logger)

	return &App{config: c, logger: logger, db: db, keys: ks, sessions: ss, relay: rh, metrics: m}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewHTTPServer(httpapi.Config{
		Address:     app.config.HTTPAddr,
		UnwrapRate:  app.config.UnwrapRateLimit,
		UnwrapBurst: app.config.UnwrapBurst,
		TrustProxy:  app.config.TrustProxy,
	}, app.logger, app.keys, app.sessions, app.relay, app.metrics)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) purgeSessions(ctx context.Context) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := app.sessions.PurgeExpired(ctx)
			if err != nil {
				app.logger.Warn(ctx, "session purge failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.relay.RunJanitor(ctx, janitorInterval)
	}()
	go func() {
		defer wg.Done()
		app.purgeSessions(ctx)
	}()

	<-ctx.Done()
	app.relay.Shutdown()
	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close", "error", err)
	}
	app.logger.Info(context.Background(), "Stopped")
}
