package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/agent-playground/internal/config"
	"github.com/zhouzirui/agent-playground/internal/logging"
)

// options holds the resolved flags shared by every subcommand.
type options struct {
	endpoint  string
	agentID   string
	transport string
	logFile   string

	cfg     *config.Config
	logSink io.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "chat",
		Short: "Chat with playground agents from the terminal",
		Long: `chat talks to the agents served by an agent playground.

Without a subcommand it opens the interactive chat screen. Responses stream in
over SSE by default; --transport ws uses the websocket endpoint and
--transport local runs the model in-process without a server.`,
		SilenceUsage:      true,
		PersistentPreRunE: opts.setup,
		PersistentPostRun: func(*cobra.Command, []string) { opts.teardown() },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.endpoint, "endpoint", "", "playground server URL (default $PLAYGROUND_ENDPOINT or http://localhost:7777)")
	flags.StringVar(&opts.agentID, "agent", "", "agent id to talk to (default $PLAYGROUND_AGENT or the first agent)")
	flags.StringVar(&opts.transport, "transport", "", "response transport: sse, ws or local (default $PLAYGROUND_TRANSPORT or sse)")
	flags.StringVar(&opts.logFile, "log-file", "", "append logs to this file instead of discarding them")

	root.AddCommand(
		&cobra.Command{
			Use:   "tui",
			Short: "Open the interactive chat screen",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTUI(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "send <message>",
			Short: "Send one message and print the streamed reply",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSend(cmd.Context(), opts, cmd.OutOrStdout(), args)
			},
		},
		&cobra.Command{
			Use:   "agents",
			Short: "List the available agents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAgents(cmd.Context(), opts, cmd.OutOrStdout())
			},
		},
	)
	return root
}

// setup merges flags over the environment and configures logging.
func (o *options) setup(cmd *cobra.Command, _ []string) error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	o.cfg = cfg

	if o.endpoint == "" {
		o.endpoint = cfg.Client.Endpoint
	}
	if o.agentID == "" {
		o.agentID = cfg.Client.AgentID
	}
	if o.transport == "" {
		o.transport = cfg.Client.Transport
	}
	switch o.transport {
	case transportSSE, transportWS, transportLocal:
	default:
		return errors.Errorf("unknown transport %q, want sse, ws or local", o.transport)
	}

	if o.logFile == "" {
		logging.Discard()
		return nil
	}
	f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open log file %s", o.logFile)
	}
	if err := logging.Setup(cfg.Log.Level, logging.Format(cfg.Log.Format), f); err != nil {
		f.Close()
		return err
	}
	o.logSink = f
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}
	log.Info().Str("command", cmd.Name()).Str("transport", o.transport).Str("endpoint", o.endpoint).Msg("chat client starting")
	return nil
}

func (o *options) teardown() {
	if o.logSink != nil {
		if err := o.logSink.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
		o.logSink = nil
	}
}
