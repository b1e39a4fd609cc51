package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracker poll-loop status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			st, err := c.TrackerStatus()
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

			fmt.Printf("polls:          %d\n", st.Polls)
			fmt.Printf("last poll:      %s\n", cli.Timestamp(st.LastPoll))
			fmt.Printf("last summary:   %s\n", st.LastSummary.String())
			fmt.Printf("devices online: %d\n", st.DevicesOnline)
			fmt.Printf("open sessions:  %d\n", st.OpenSessions)
			return nil
		},
	}
}

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Force one poll cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			sum, err := c.Poll()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(sum)
			}
			fmt.Println(sum.String())
			return nil
		},
	}
}
