package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vovakirdan/feelings/internal/app"
	"github.com/vovakirdan/feelings/internal/config"
	applog "github.com/vovakirdan/feelings/internal/log"
)

func main() {
	configPath := flag.String("config", "", "path to config file (created with defaults when missing)")
	addr := flag.String("addr", "", "HTTP listen address")
	backend := flag.String("backend", "", "realtime backend: memory or redis")
	redisAddr := flag.String("redis-addr", "", "redis address for the redis backend")
	flag.Parse()

	bootLog := applog.New("info")
	cfg, path, err := config.Load(bootLog, *configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}
	cfg.UpdateFrom(config.Config{
		Server: config.ServerConfig{Addr: *addr, Backend: *backend},
		Store:  config.StoreConfig{Redis: config.RedisConfig{Addr: *redisAddr}},
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	logger := applog.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init app")
	}

	logger.Info().Str("addr", cfg.Server.Addr).Str("backend", cfg.Server.Backend).Str("config", path).Msg("starting feelings store server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
