package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/proxylens/chat/internal/model"
)

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				current, err := a.client.ResolveCurrentSession(ctx)
				if err != nil {
					return err
				}
				if _, err := a.client.RefreshSessionList(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "could not refresh sessions: %v\n", err)
				}
				printSessions(cmd.OutOrStdout(), a.client.Sessions(), current)
				return nil
			})
		},
	}
}

func newNewCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new session and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				id, err := a.client.StartNewSession(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history [session-id]",
		Short: "Print a session's conversation (default: the current session)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				var id model.SessionID
				if len(args) == 1 {
					id = model.SessionID(args[0])
				} else {
					var err error
					if id, err = a.client.ResolveCurrentSession(ctx); err != nil {
						return err
					}
				}
				if err := a.client.LoadConversation(ctx, id); err != nil {
					return err
				}
				printConversation(cmd.OutOrStdout(), a.client.Snapshot())
				return nil
			})
		},
	}
}

func newAskCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question in the current session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if _, err := a.client.Start(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "could not load history: %v\n", err)
				}
				ex, err := a.client.Send(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				msg, err := ex.Wait(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg.Text)
				if ex.Err() != nil {
					return ex.Err()
				}
				return nil
			})
		},
	}
}
