package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/tzevaot/internal/app"
	"github.com/ent0n29/tzevaot/internal/chat"
	"github.com/ent0n29/tzevaot/internal/config"
	"github.com/ent0n29/tzevaot/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tzevaot",
		Short:         "Persona chat service with bounded per-address history",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		newServeCmd(),
		newProfileCmd(),
		newChatCmd(),
		newBenchCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile <address>",
		Short: "Print the stored record for an address as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), func(res *app.BuildResult) error {
				rec, err := res.Chat.Profile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func newChatCmd() *cobra.Command {
	var (
		holder bool
		items  []string
	)
	cmd := &cobra.Command{
		Use:   "chat <address> <message>",
		Short: "Run one chat exchange and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd.Context(), func(res *app.BuildResult) error {
				out, err := res.Chat.Send(cmd.Context(), chat.Request{
					Identity:   args[0],
					IsHolder:   holder,
					Message:    args[1],
					OwnedItems: items,
				})
				if out.Reply != "" {
					fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&holder, "holder", false, "mark the address as a collection holder")
	cmd.Flags().StringSliceVar(&items, "owned", nil, "owned token ids, comma separated")
	return cmd
}

// withComponents builds the service graph for one-shot commands.
func withComponents(ctx context.Context, fn func(*app.BuildResult) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if ctx == nil {
		ctx = context.Background()
	}
	res, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()
	return fn(res)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
