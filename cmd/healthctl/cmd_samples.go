package main

import (
	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newSamplesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "samples <id>",
		Short: "Show recent samples for a probe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			samples, err := c.ProbeSamples(args[0], limit)
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(samples)
			}

			t := cli.NewTable("AT", "STATUS", "DETAIL")
			for _, s := range samples {
				t.Row(cli.Timestamp(s.At), cli.Status(string(s.Status)), s.Detail)
			}
			t.Flush()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
