package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show run history, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}
			runs, err := c.History(jobID, limit)
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(runs)
			}

			t := cli.NewTable("RUN", "JOB", "STATUS", "TRIGGER", "STARTED", "DURATION", "RETRY", "ERROR")
			for _, r := range runs {
				duration := "-"
				if r.EndedAt != nil {
					duration = cli.Seconds(int64(r.Duration() / time.Second))
				}
				t.Row(shortID(r.RunID), r.JobID, cli.Status(string(r.Status)),
					string(r.Trigger), cli.Timestamp(r.StartedAt), duration,
					fmt.Sprint(r.RetryCount), r.Error)
			}
			t.Flush()
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
