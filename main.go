package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chattabot/agent/internal/agent/knowledge"
	"github.com/chattabot/agent/internal/agent/model"
	logx "github.com/chattabot/agent/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logx.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "chattabot",
		Short:         "Conversational RAG agent for small businesses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	// withApp loads config, wires every client and closes them after fn.
	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
		cfg, err := loadConfig(envFile)
		if err != nil {
			return err
		}
		logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: cfg.LogLevel})

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a)
	}

	root.AddCommand(
		newAskCmd(withApp),
		newServeCmd(withApp),
		newHistoryCmd(withApp),
		newCheckpointsCmd(withApp),
		newResumeCmd(withApp),
		newIngestCmd(withApp),
	)
	return root
}

type appRunner func(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error

func newAskCmd(withApp appRunner) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question for a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ans, err := a.driver.Ask(ctx, model.QueryInput{Question: strings.Join(args, " "), SessionID: session})
				fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "session id")
	return cmd
}

func newServeCmd(withApp appRunner) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /answer and the /sms webhook over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return serve(ctx, a, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func newHistoryCmd(withApp appRunner) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a session's chat history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				msgs, err := a.driver.History(ctx, session)
				if err != nil {
					return err
				}
				return printJSON(cmd, msgs)
			})
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "session id")
	return cmd
}

func newCheckpointsCmd(withApp appRunner) *cobra.Command {
	var (
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List a session's checkpoints, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				entries, err := a.driver.Checkpoints(ctx, session, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			})
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "session id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of checkpoints")
	return cmd
}

func newResumeCmd(withApp appRunner) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Finish an interrupted run from its last checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ans, err := a.driver.Resume(ctx, session)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "session id")
	return cmd
}

func newIngestCmd(withApp appRunner) *cobra.Command {
	var maxChars int
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Load plain-text documents into the knowledge store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					docs := knowledge.Documents(path, knowledge.SplitParagraphs(string(data), maxChars))
					ids, err := a.knowledge.Store(ctx, docs)
					if err != nil {
						return fmt.Errorf("store %s: %w", path, err)
					}
					logx.Info().Str("file", path).Int("chunks", len(ids)).Msg("Document ingested")
				}
				n, err := a.knowledge.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d documents in store\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 1500, "maximum characters per chunk")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
