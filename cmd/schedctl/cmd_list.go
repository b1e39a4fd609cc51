package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show registered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			jobs, err := c.Jobs()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(jobs)
			}

			t := cli.NewTable("ID", "SCHEDULE", "TARGET", "PRIORITY", "RETRIES", "DEPS", "ENABLED")
			for _, j := range jobs {
				enabled := cli.Green("yes")
				if !j.Enabled {
					enabled = cli.Dim("no")
				}
				t.Row(j.ID, j.Schedule, j.Target, j.PriorityName,
					fmt.Sprint(j.MaxRetries), fmt.Sprint(len(j.Dependencies)), enabled)
			}
			t.Flush()
			if len(jobs) == 0 {
				fmt.Println("no jobs registered")
			}
			return nil
		},
	}
}
