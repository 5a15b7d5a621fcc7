package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/feelings/internal/config"
	"github.com/vovakirdan/feelings/internal/realtime"
	"github.com/vovakirdan/feelings/internal/realtime/memory"
	"github.com/vovakirdan/feelings/internal/realtime/redis"
	transporthttp "github.com/vovakirdan/feelings/internal/transport/http"
)

// App wires the realtime backend to the HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	backend         realtime.Backend
	admin           realtime.Store
	sweeper         *redis.Backend
	rdb             *goredis.Client
	log             *zerolog.Logger
}

// New constructs the store server with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		log:             logger,
	}

	switch cfg.Server.Backend {
	case "redis":
		rc := cfg.Store.Redis
		rdb, err := redis.Dial(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, err
		}
		backend, err := redis.New(ctx, rdb, redis.Options{Prefix: rc.Prefix, LeaseTTL: rc.LeaseTTL, SweepInterval: rc.SweepInterval}, logger)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		a.rdb = rdb
		a.backend = backend
		a.sweeper = backend
		logger.Info().Str("addr", rc.Addr).Str("prefix", rc.Prefix).Msg("redis backend initialized")
	case "memory":
		a.backend = memory.New(logger)
		logger.Info().Msg("memory backend initialized")
	default:
		return nil, fmt.Errorf("unknown server backend %q", cfg.Server.Backend)
	}

	admin, err := a.backend.Connect(ctx)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("open admin connection: %w", err)
	}
	a.admin = admin

	a.server = transporthttp.NewServer(a.backend, admin, cfg, logger)
	return a, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.sweeper != nil {
		g.Go(func() error {
			return a.sweeper.RunSweeper(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes the admin connection and the backend.
func (a *App) cleanup() {
	if a.admin != nil {
		if err := a.admin.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close admin connection")
		}
		a.admin = nil
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close backend")
		} else {
			a.log.Info().Msg("backend closed")
		}
		a.backend = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
		a.rdb = nil
	}
}
