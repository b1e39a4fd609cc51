package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newHealLogCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "heal-log",
		Short: "Show self-heal attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			entries, err := c.HealLog(limit)
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(entries)
			}

			t := cli.NewTable("AT", "PROBE", "ACTION", "STATUS", "ATTEMPT", "ERROR")
			for _, e := range entries {
				t.Row(cli.Timestamp(e.At), e.Module, e.Action,
					cli.Status(e.Status), fmt.Sprint(e.Attempts), e.Error)
			}
			t.Flush()
			if len(entries) == 0 {
				fmt.Println("no self-heal attempts recorded")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
