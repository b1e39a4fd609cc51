package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lnmt-project/lnmt/pkg/model"
)

func newAddCmd() *cobra.Command {
	var (
		file     string
		job      model.Job
		priority string
	)
	cmd := &cobra.Command{
		Use:   "add [id]",
		Short: "Register a job from a file or flags",
		Long: `Register jobs.

With -f, every job in the YAML file is registered. Without it, a single
job is built from the id argument and flags:

  schedctl add nightly-backup --target backup.run --schedule "0 2 * * *"
  schedctl add -f jobs.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				var defs struct {
					Jobs []*model.Job `yaml:"jobs"`
				}
				if err := yaml.Unmarshal(data, &defs); err != nil {
					return fmt.Errorf("parsing %s: %w", file, err)
				}
				for _, j := range defs.Jobs {
					if err := c.RegisterJob(j); err != nil {
						return fmt.Errorf("registering %s: %w", j.ID, err)
					}
					fmt.Printf("registered %s\n", j.ID)
				}
				return nil
			}

			if len(args) != 1 {
				return usageErrorf("job id required (or use -f <file>)")
			}
			job.ID = args[0]
			job.PriorityName = priority
			if err := c.RegisterJob(&job); err != nil {
				return err
			}
			fmt.Printf("registered %s\n", job.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "job definitions YAML file")
	cmd.Flags().StringVar(&job.Name, "name", "", "display name")
	cmd.Flags().StringVar(&job.Target, "target", "", "registered function target")
	cmd.Flags().StringVar(&job.Schedule, "schedule", "", "cron schedule (5 fields)")
	cmd.Flags().StringVar(&priority, "priority", "NORMAL", "LOW, NORMAL, HIGH, or CRITICAL")
	cmd.Flags().IntVar(&job.MaxRetries, "max-retries", 0, "retry attempts after failure")
	cmd.Flags().IntVar(&job.RetryDelayS, "retry-delay", 30, "base retry delay seconds")
	cmd.Flags().IntVar(&job.TimeoutS, "timeout", 300, "run timeout seconds")
	cmd.Flags().StringSliceVar(&job.Dependencies, "depends-on", nil, "job ids this job depends on")
	cmd.Flags().StringSliceVar(&job.Args, "arg", nil, "positional argument (repeatable)")
	cmd.Flags().BoolVar(&job.Enabled, "enabled", true, "register enabled")
	return cmd
}
