package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
	"github.com/lnmt-project/lnmt/pkg/client"
)

func newListCmd() *cobra.Command {
	var (
		onlineOnly bool
		vlan       int
		hostname   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show known devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			f := client.DeviceFilter{OnlineOnly: onlineOnly, Hostname: hostname}
			if cmd.Flags().Changed("vlan") {
				f.VlanID = &vlan
			}
			devices, err := c.Devices(f)
			if err != nil {
				return err
			}
			of, err := outputFormat()
			if err != nil {
				return err
			}
			if of == "json" {
				return cli.PrintJSON(devices)
			}

			now := time.Now()
			t := cli.NewTable("MAC", "IP", "HOSTNAME", "VLAN", "STATE", "LAST SEEN", "RESERVED")
			for _, d := range devices {
				state := cli.Status("offline")
				if d.Online {
					state = cli.Status("online")
				}
				vlanCol := "-"
				if d.VlanID != nil {
					vlanCol = fmt.Sprint(*d.VlanID)
				}
				reserved := ""
				if d.Reservation != nil {
					reserved = d.Reservation.HostID
				}
				t.Row(d.MAC, d.IP, d.Hostname, vlanCol, state, cli.Ago(d.LastSeen, now), reserved)
			}
			t.Flush()
			if len(devices) == 0 {
				fmt.Println("no devices tracked")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&onlineOnly, "online", false, "online devices only")
	cmd.Flags().IntVar(&vlan, "vlan", 0, "filter by VLAN id")
	cmd.Flags().StringVar(&hostname, "hostname", "", "filter by hostname substring")
	return cmd
}
