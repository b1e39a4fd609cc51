package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Trigger a job immediately",
		Long: `Trigger a job outside its schedule.

The run is rejected when the job is disabled, already running, or its
dependencies have not completed in the current window.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			run, err := c.RunJob(args[0])
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(run)
			}
			fmt.Printf("run %s dispatched (%s)\n", run.RunID, cli.Status(string(run.Status)))
			return nil
		},
	}
}
