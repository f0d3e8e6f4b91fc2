package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nugget/scholar/internal/agent"
	"github.com/nugget/scholar/internal/threads"
)

func (c *cli) askCmd() *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "ask [-t thread] <question...>",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app) error {
				reply, err := a.threads.Submit(cmd.Context(), threadID, strings.Join(args, " "))
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				if err := c.printReply(reply); err != nil {
					return err
				}
				if reply.Status == agent.StatusFailed {
					return errors.New(reply.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "continue an existing thread")
	return cmd
}

func (c *cli) chatCmd() *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "chat [-t thread]",
		Short: "Interactive session on stdin (/new starts a thread, /quit exits)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(func(a *app) error {
				return c.chat(cmd.Context(), a, threadID)
			})
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "continue an existing thread")
	return cmd
}

// chat reads one message per line until EOF or /quit. Failed runs are
// reported and the session continues on the same thread.
func (c *cli) chat(ctx context.Context, a *app, threadID string) error {
	if threadID == "" {
		threadID = a.threads.NewThread()
	}
	if c.output == "text" {
		fmt.Fprintf(c.stdout, "thread %s\n", threadID)
	}

	scanner := bufio.NewScanner(c.stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if c.output == "text" {
			fmt.Fprint(c.stdout, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			threadID = a.threads.NewThread()
			if c.output == "text" {
				fmt.Fprintf(c.stdout, "thread %s\n", threadID)
			}
			continue
		}

		reply, err := a.threads.Submit(ctx, threadID, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(c.stderr, "error: %v\n", err)
			continue
		}
		if err := c.printReply(reply); err != nil {
			return err
		}
	}
	if c.output == "text" {
		fmt.Fprintln(c.stdout)
	}
	return scanner.Err()
}

// printReply writes the final answer, or the whole reply as JSON.
func (c *cli) printReply(reply *threads.Reply) error {
	if c.output == "json" {
		return c.printJSON(reply)
	}
	switch {
	case reply.Status == agent.StatusFailed:
		fmt.Fprintf(c.stderr, "run failed: %s\n", reply.Error)
	case reply.Final != "":
		fmt.Fprintln(c.stdout, reply.Final)
	}
	fmt.Fprintf(c.stderr, "[thread %s, checkpoint %s, %d steps]\n", reply.ThreadID, reply.CheckpointID, reply.Steps)
	return nil
}

// withApp loads configuration, logs to stderr, and runs fn with an
// assembled app.
func (c *cli) withApp(fn func(a *app) error) error {
	cfg, _, err := c.loadConfig()
	if err != nil {
		return err
	}
	a, err := c.open(cfg, c.logger(cfg, c.stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
