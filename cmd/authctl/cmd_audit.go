package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newAuditCmd() *cobra.Command {
	var actor, action string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the auth audit trail (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			events, err := c.Audit(actor, action, limit)
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(events)
			}

			t := cli.NewTable("AT", "ACTOR", "ACTION", "TARGET", "OK", "DETAILS")
			for _, e := range events {
				ok := cli.Green("yes")
				if !e.Success {
					ok = cli.Red("no")
				}
				t.Row(cli.Timestamp(e.At), e.Actor, e.Action, e.Target, ok, e.Details)
			}
			t.Flush()
			if len(events) == 0 {
				fmt.Println("no matching audit events")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor username")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
