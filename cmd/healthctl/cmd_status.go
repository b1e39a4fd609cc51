package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show aggregate health, worst probe wins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			rep, err := c.Health()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(rep)
			}

			fmt.Printf("overall: %s\n\n", cli.Status(string(rep.Overall)))
			t := cli.NewTable("PROBE", "KIND", "STATUS", "FAILS", "DETAIL")
			for _, p := range rep.Probes {
				status := cli.Status(string(p.Status))
				if p.Notified {
					status = cli.Status("NOTIFIED")
				}
				t.Row(p.ID, string(p.Kind), status, fmt.Sprint(p.ConsecutiveFails), p.Detail)
			}
			t.Flush()
			return nil
		},
	}
}
