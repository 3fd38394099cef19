package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gtalk/internal/browser"
	"gtalk/internal/config"
	"gtalk/internal/logging"
	mcpserver "gtalk/internal/mcp"
	"gtalk/internal/render"

	"github.com/spf13/cobra"
)

const exitInterrupted = 130

type rootFlags struct {
	configPath  string
	noWorkspace bool
	noColor     bool
	maxRetries  int
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

// exitCode maps a command error to a process status, printing it unless it was
// already shown to the user.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	var initErr *browser.SessionInitError
	if !errors.As(err, &initErr) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "gtalk [question...]",
		Short: "Ask Google AI Mode from the terminal",
		Long: `gtalk drives a headless Chrome to ask Google AI Mode a question and prints the answer
as paragraphs and fenced code. The first paragraph of each answer is carried into
the next question so follow-ups keep their context.

With arguments, gtalk asks once and exits. Without, it starts an interactive prompt.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}

			color := !flags.noColor && render.ColorEnabled(os.Stdout)
			a, err := newApp(cfg, browser.NewRodLauncher(cfg.Browser, logger), cmd.OutOrStdout(), color, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) > 0 {
				text := strings.Join(args, " ")
				a.term.Querying(text)
				return a.runQuery(cmd.Context(), text)
			}
			return a.runShell(cmd.Context(), cmd.InOrStdin())
		},
	}
	// Everything after the first word belongs to the question.
	root.Flags().SetInterspersed(false)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to a config file (overrides the workspace config)")
	pf.BoolVar(&flags.noWorkspace, "no-workspace", false, "Skip .gtalk/ workspace discovery")
	pf.BoolVar(&flags.noColor, "no-color", false, "Disable colors and syntax highlighting")
	pf.IntVar(&flags.maxRetries, "max-retries", 0, "Retries after a challenge page or browser crash (default from config)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")

	root.AddCommand(newServeCmd(flags), newInitCmd())
	return root
}

func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	cfg, _, err := config.LoadWithWorkspace(flags.configPath, config.WorkspaceOptions{Disable: flags.noWorkspace})
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.Query.MaxRetries = flags.maxRetries
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var ssePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve ai-mode-query over MCP (stdio, or SSE with --sse-port)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("sse-port") {
				cfg.MCP.SSEPort = ssePort
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}

			// Stdout carries the protocol; nothing else may write there.
			a, err := newApp(cfg, browser.NewRodLauncher(cfg.Browser, logger), io.Discard, false, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := mcpserver.NewServer(cfg, a.orch, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if cfg.MCP.SSEPort > 0 {
				err = server.StartSSE(ctx, cfg.MCP.SSEPort)
			} else {
				err = server.Start(ctx)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("server exited: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&ssePort, "sse-port", 0, "Serve over HTTP SSE on this port instead of stdio")
	return cmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a .gtalk/ workspace with a config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if err := config.InitWorkspace(abs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized workspace in %s\n", filepath.Join(abs, config.WorkspaceDirName))
			return nil
		},
	}
}
