package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Clear a probe's failure counter and escalation latch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.ResetProbe(args[0]); err != nil {
				return err
			}
			fmt.Printf("reset probe %s\n", args[0])
			return nil
		},
	}
}
