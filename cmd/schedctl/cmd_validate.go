package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/scheduler"
)

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a job-definitions file offline",
		Long: `Validate a definitions file without a daemon.

Checks field constraints, schedule syntax, duplicate ids, dependency
references, and cycles. Target names are only resolvable by a running
daemon and are not checked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return usageErrorf("definitions file required: -f <file>")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			jobs, err := scheduler.ValidateDefinitions(data)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d jobs ok\n", file, len(jobs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "job definitions YAML file")
	return cmd
}
