// Scholar is a research assistant that answers questions by reasoning
// over tool results: web search, arXiv, Wikipedia, page fetches and a
// calculator. Every step of every conversation thread is checkpointed,
// so a thread can be resumed after a crash or revisited later.
//
// Usage:
//
//	scholar serve                      Start the HTTP API
//	scholar ask [-t id] <question>     Ask one question
//	scholar chat [-t id]               Interactive session on stdin
//	scholar threads list               List stored threads
//	scholar threads show <id>          Print a thread's messages
//	scholar threads history <id>       Print a thread's checkpoints
//	scholar threads delete <id>        Delete a thread
//	scholar threads resume <id>        Finish an interrupted run
//	scholar transcript <id> [--html]   Render a thread as a document
//	scholar version                    Print build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nugget/scholar/internal/agent"
	"github.com/nugget/scholar/internal/buildinfo"
	"github.com/nugget/scholar/internal/config"
	"github.com/nugget/scholar/internal/llm"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole command lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Cancelling ctx shuts down servers and
// aborts in-flight runs; their last committed checkpoint survives.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	c := &cli{stdin: os.Stdin, stdout: stdout, stderr: stderr}
	return c.execute(ctx, args)
}

// ReasonerFactory builds the reasoning provider for a configuration.
type ReasonerFactory func(cfg *config.Config, logger *slog.Logger) (agent.Reasoner, error)

// cli holds the injected environment and global flags. Nothing here is
// package-level so commands can run concurrently in tests.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	newReasoner ReasonerFactory

	configPath string
	output     string
}

func (c *cli) execute(ctx context.Context, args []string) error {
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scholar",
		Short:         "Tool-augmented research assistant with checkpointed threads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.output != "text" && c.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", c.output)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		c.serveCmd(),
		c.askCmd(),
		c.chatCmd(),
		c.threadsCmd(),
		c.transcriptCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := buildinfo.Info()
			if c.output == "json" {
				return c.printJSON(info)
			}
			fmt.Fprintln(c.stdout, buildinfo.String())
			for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
				if v, ok := info[k]; ok {
					fmt.Fprintf(c.stdout, "  %-12s %s\n", k+":", v)
				}
			}
			return nil
		},
	}
}

// loadConfig locates and parses the configuration. With no explicit
// path and no file on the search path, defaults are used.
func (c *cli) loadConfig() (*config.Config, string, error) {
	path, err := config.FindConfig(c.configPath)
	if errors.Is(err, config.ErrNoConfig) {
		return config.Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

// logger builds the configured logger writing to w.
func (c *cli) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	// Validate has already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// defaultReasoner connects to the configured model provider.
func defaultReasoner(cfg *config.Config, logger *slog.Logger) (agent.Reasoner, error) {
	client, err := llm.NewFromConfig(cfg.Model, logger)
	if err != nil {
		return nil, err
	}
	return llm.NewReasoner(client, cfg.Model.Name, cfg.Model.SystemPrompt, logger), nil
}
