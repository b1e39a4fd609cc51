package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newAlertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "Show threshold breaches and recently seen devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			a, err := c.Alerts()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(a)
			}

			now := time.Now()
			if len(a.Breaches) > 0 {
				fmt.Println(cli.Bold("threshold breaches"))
				t := cli.NewTable("AT", "VLAN", "DIRECTION", "DETAIL")
				for _, b := range a.Breaches {
					t.Row(cli.Ago(b.At, now), fmt.Sprint(b.VlanID), b.Direction, b.Detail)
				}
				t.Flush()
				fmt.Println()
			}
			if len(a.NewDevices) > 0 {
				fmt.Println(cli.Bold("new devices (24h)"))
				t := cli.NewTable("MAC", "IP", "HOSTNAME", "FIRST SEEN")
				for _, d := range a.NewDevices {
					t.Row(d.MAC, d.IP, d.Hostname, cli.Ago(d.FirstSeen, now))
				}
				t.Flush()
			}
			if len(a.Breaches) == 0 && len(a.NewDevices) == 0 {
				fmt.Println("no alerts")
			}
			return nil
		},
	}
}
