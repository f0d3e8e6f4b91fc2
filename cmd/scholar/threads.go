package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/scholar/internal/checkpoint"
	"github.com/nugget/scholar/internal/transcript"
)

func (c *cli) threadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and delete stored threads",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List threads, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(func(a *app) error {
				list, err := a.threads.List(cmd.Context())
				if err != nil {
					return err
				}
				if c.output == "json" {
					if list == nil {
						list = []checkpoint.ThreadSummary{}
					}
					return c.printJSON(list)
				}
				tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "THREAD\tCHECKPOINTS\tUPDATED")
				for _, t := range list {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", t.ThreadID, t.CheckpointCount, t.LastUpdated.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print the current messages of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app) error {
				head, err := a.threads.State(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if c.output == "json" {
					return c.printJSON(head)
				}
				fmt.Fprintf(c.stdout, "thread %s at checkpoint %s (step %d)\n\n", head.ThreadID, head.ID, head.Metadata.Step)
				fmt.Fprint(c.stdout, transcript.Markdown(head.State.Messages))
				if pending := head.State.Pending(); len(pending) > 0 {
					fmt.Fprintf(c.stdout, "\n%d tool call(s) pending; resume the thread to run them.\n", len(pending))
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history <id>",
		Short: "Print every checkpoint of a thread, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app) error {
				history, err := a.threads.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if c.output == "json" {
					return c.printJSON(history)
				}
				tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STEP\tSOURCE\tCHECKPOINT\tPARENT\tMESSAGES\tCREATED")
				for _, cp := range history {
					parent := cp.ParentID
					if parent == "" {
						parent = "-"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
						cp.Metadata.Step, cp.Metadata.Source, cp.ID, parent, cp.State.Len(),
						cp.CreatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a thread and all of its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app) error {
				existed, err := a.threads.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !existed {
					return fmt.Errorf("thread %s: %w", args[0], checkpoint.ErrNotFound)
				}
				if c.output == "json" {
					return c.printJSON(map[string]any{"thread_id": args[0], "deleted": true})
				}
				fmt.Fprintf(c.stdout, "deleted thread %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume <id>",
		Short: "Continue an interrupted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app) error {
				reply, err := a.threads.Resume(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printReply(reply)
			})
		},
	})

	return cmd
}

func (c *cli) transcriptCmd() *cobra.Command {
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "transcript <id>",
		Short: "Render a thread as Markdown, or HTML with --html",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app) error {
				head, err := a.threads.State(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !asHTML {
					_, err := fmt.Fprint(c.stdout, transcript.Markdown(head.State.Messages))
					return err
				}
				page, err := transcript.HTML("Thread "+head.ThreadID, head.State.Messages)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(c.stdout, page)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "render a standalone HTML page")
	return cmd
}
