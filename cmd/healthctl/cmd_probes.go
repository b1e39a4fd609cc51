package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
	"github.com/lnmt-project/lnmt/pkg/model"
)

func newProbesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probes",
		Short: "Show configured probes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			probes, err := c.Probes()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(probes)
			}

			t := cli.NewTable("ID", "KIND", "TARGET", "INTERVAL", "THRESHOLD", "RECOVERY")
			for _, p := range probes {
				t.Row(p.ID, string(p.Kind), p.Target,
					cli.Seconds(int64(p.IntervalS)), fmt.Sprint(p.FailureThreshold), p.RecoveryAction)
			}
			t.Flush()
			if len(probes) == 0 {
				fmt.Println("no probes configured")
			}
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	var probe model.HealthProbe
	var kind string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a probe",
		Long: `Add a health probe.

  healthctl add dnsmasq --kind process --target dnsmasq --recovery restart-dnsmasq
  healthctl add api --kind http --target http://127.0.0.1:8487/api/v1/health
  healthctl add rootfs --kind disk --target /:90`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			probe.ID = args[0]
			probe.Kind = model.ProbeKind(kind)
			if err := c.AddProbe(&probe); err != nil {
				return err
			}
			fmt.Printf("added probe %s\n", probe.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "process, port, http, disk, or custom")
	cmd.Flags().StringVar(&probe.Target, "target", "", "probe target (kind-specific)")
	cmd.Flags().IntVar(&probe.IntervalS, "interval", 60, "check interval seconds")
	cmd.Flags().IntVar(&probe.FailureThreshold, "threshold", 3, "consecutive failures before recovery")
	cmd.Flags().StringVar(&probe.RecoveryAction, "recovery", "", "scheduler job id to run on failure")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a probe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.RemoveProbe(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed probe %s\n", args[0])
			return nil
		},
	}
}
