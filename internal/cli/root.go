// Package cli implements the feelings command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/feelings/internal/config"
	"github.com/vovakirdan/feelings/internal/core"
	applog "github.com/vovakirdan/feelings/internal/log"
	"github.com/vovakirdan/feelings/internal/notify"
	"github.com/vovakirdan/feelings/internal/realtime"
	"github.com/vovakirdan/feelings/internal/realtime/memory"
	"github.com/vovakirdan/feelings/internal/realtime/redis"
	"github.com/vovakirdan/feelings/internal/realtime/remote"
	"github.com/vovakirdan/feelings/internal/store"
	"github.com/vovakirdan/feelings/internal/store/sqlite"
)

// DialFunc opens the realtime connection a session runs on. The returned
// func releases everything the connection needed.
type DialFunc func(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (realtime.Store, func(), error)

// App holds the IO and factories the commands use.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	Dial             DialFunc
	OpenSessionStore func(path string) (store.SessionStore, error)

	configPath string
	logLevel   string
	cfg        config.Config
	log        *zerolog.Logger
}

// New returns an App wired to the process streams and the configured backends.
func New() *App {
	return &App{
		In:   os.Stdin,
		Out:  os.Stdout,
		Err:  os.Stderr,
		Dial: DialBackend,
		OpenSessionStore: func(path string) (store.SessionStore, error) {
			return sqlite.New(path)
		},
	}
}

// Command builds the root command.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "feelings",
		Short:         "Send emoji feelings to the people in your lobby",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (created with defaults when missing)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error, off")

	root.AddCommand(
		a.createCommand(),
		a.joinCommand(),
		a.resumeCommand(),
		a.leaveCommand(),
		a.statusCommand(),
		a.emojisCommand(),
	)
	return root
}

func (a *App) setup() error {
	bootLog := applog.NewWithWriter(a.Err, "warn")
	cfg, _, err := config.Load(bootLog, a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.UpdateFrom(config.Config{LogLevel: a.logLevel})
	}
	a.cfg = cfg
	a.log = applog.NewWithWriter(a.Err, cfg.LogLevel)
	return nil
}

// DialBackend connects to the store selected by cfg.Store.Backend.
func DialBackend(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (realtime.Store, func(), error) {
	switch cfg.Store.Backend {
	case "remote":
		client, err := remote.Dial(ctx, cfg.Store.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil

	case "redis":
		rc := cfg.Store.Redis
		rdb, err := redis.Dial(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, nil, err
		}
		backend, err := redis.New(ctx, rdb, redis.Options{Prefix: rc.Prefix, LeaseTTL: rc.LeaseTTL, SweepInterval: rc.SweepInterval}, logger)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		conn, err := backend.Open(ctx)
		if err != nil {
			_ = backend.Close()
			_ = rdb.Close()
			return nil, nil, err
		}
		return conn, func() {
			_ = backend.Close()
			_ = rdb.Close()
		}, nil

	case "memory":
		tree := memory.New(logger)
		conn, err := tree.Open()
		if err != nil {
			return nil, nil, err
		}
		return conn, func() { _ = tree.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// sessionEnv is everything a running session owns.
type sessionEnv struct {
	session *core.Session
	rt      realtime.Store
	persist store.SessionStore
	release func()
}

func (e *sessionEnv) Close() {
	if e.rt != nil {
		_ = e.rt.Close()
	}
	if e.release != nil {
		e.release()
	}
	if e.persist != nil {
		_ = e.persist.Close()
	}
}

func (a *App) openSession(ctx context.Context) (*sessionEnv, error) {
	persist, err := a.OpenSessionStore(a.cfg.Session.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	rt, release, err := a.Dial(ctx, a.cfg, a.log)
	if err != nil {
		_ = persist.Close()
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	notifier, err := notify.FromConfig(a.cfg.Notify, a.log)
	if err != nil {
		_ = rt.Close()
		release()
		_ = persist.Close()
		return nil, err
	}

	session := core.NewSession(rt, persist, notifier, a.log, core.WithMessageLimit(a.cfg.Session.MessageLimit))
	return &sessionEnv{session: session, rt: rt, persist: persist, release: release}, nil
}
