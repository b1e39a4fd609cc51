package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <mac>",
		Short: "Show lease and session history for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			h, err := c.DeviceHistory(args[0], limit)
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(h)
			}

			d := h.Device
			fmt.Printf("%s  %s  %s\n", cli.Bold(d.MAC), d.IP, d.Hostname)
			if d.Reservation != nil {
				fmt.Printf("reservation: %s (hostname %s, vlan %d)\n",
					d.Reservation.HostID, d.Reservation.DesiredHostname, d.Reservation.VlanID)
			}
			fmt.Println()

			leases := cli.NewTable("OBSERVED", "IP", "HOSTNAME", "EXPIRES")
			for _, l := range h.Leases {
				leases.Row(cli.Timestamp(l.ObservedAt), l.IP, l.Hostname, cli.Timestamp(l.LeaseExpiry))
			}
			leases.Flush()
			fmt.Println()

			sessions := cli.NewTable("STARTED", "ENDED", "USED", "VLAN", "CATEGORY")
			for _, s := range h.Sessions {
				ended := cli.Yellow("open")
				if s.EndedAt != nil {
					ended = cli.Timestamp(*s.EndedAt)
				}
				sessions.Row(cli.Timestamp(s.StartedAt), ended,
					cli.Seconds(s.SecondsUsed), fmt.Sprint(s.VlanID), s.AppCategory)
			}
			sessions.Flush()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows per table")
	return cmd
}
