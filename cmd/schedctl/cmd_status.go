package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			st, err := c.SchedStatus()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(st)
			}

			running := cli.Red("stopped")
			if st.Running {
				running = cli.Green("running")
			}
			fmt.Printf("scheduler:  %s\n", running)
			fmt.Printf("workers:    %d (%d in flight)\n", st.Workers, st.InFlight)
			fmt.Printf("jobs:       %d (%d waiting on dependencies)\n", st.Jobs, st.Waiting)
			fmt.Printf("last tick:  %s\n", cli.Timestamp(st.LastTick))
			fmt.Printf("next tick:  %s\n", cli.Timestamp(st.NextTick))
			for prio, n := range st.LastSkips {
				fmt.Printf("skipped:    %d %s jobs at last tick (pool saturated)\n", n, prio)
			}
			return nil
		},
	}
}
