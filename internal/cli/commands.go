package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/feelings/internal/core"
)

func (a *App) createCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new lobby and start sending feelings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, env *sessionEnv) error {
				code, err := env.session.CreateLobby(ctx, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.Out, "Lobby code: %s (share it with your people)\n", code)
				return a.run(ctx, env.session)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "your display name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *App) joinCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "join CODE",
		Short: "Join an existing lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, env *sessionEnv) error {
				if err := env.session.JoinLobby(ctx, name, args[0]); err != nil {
					return err
				}
				return a.run(ctx, env.session)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "your display name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

var errNoSession = errors.New("no saved session, use create or join")

func (a *App) resumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Return to the lobby saved from the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, env *sessionEnv) error {
				ok, err := env.session.Resume(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return errNoSession
				}
				return a.run(ctx, env.session)
			})
		},
	}
}

func (a *App) leaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Forget the saved lobby",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			persist, err := a.OpenSessionStore(a.cfg.Session.DBPath)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			defer persist.Close()

			code, ok, err := core.ForgetSession(cmd.Context(), persist)
			if err != nil {
				return err
			}
			if !ok {
				return errNoSession
			}
			fmt.Fprintf(a.Out, "Left lobby %s\n", code)
			return nil
		},
	}
}

func (a *App) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			persist, err := a.OpenSessionStore(a.cfg.Session.DBPath)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			defer persist.Close()

			entries, err := persist.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.Out, "No saved session")
				return nil
			}
			tw := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Key, e.Value, e.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}

func (a *App) emojisCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "emojis",
		Short: "List the feelings you can send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printPalette(a.Out)
			return nil
		},
	}
}

// withSession opens the stores, runs fn and releases everything.
func (a *App) withSession(ctx context.Context, fn func(context.Context, *sessionEnv) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

// run starts the joined lobby and hands control to the prompt.
func (a *App) run(ctx context.Context, session *core.Session) error {
	if err := session.RequestNotifications(ctx); err != nil {
		if !errors.Is(err, core.ErrPermissionDenied) {
			return err
		}
		fmt.Fprintln(a.Out, "Notifications are off: please enable notifications to receive feelings while away")
	}
	if err := session.Start(ctx); err != nil {
		return err
	}
	return a.interact(ctx, session)
}
