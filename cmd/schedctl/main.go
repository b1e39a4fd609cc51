// schedctl: operator CLI for the LNMT job scheduler.
//
// Usage:
//
//	schedctl list                     Show registered jobs
//	schedctl add -f jobs.yaml         Register jobs from a file
//	schedctl remove <id>              Unregister a job
//	schedctl run <id>                 Trigger a job now
//	schedctl history [id]             Show run history
//	schedctl status                   Show scheduler status
//	schedctl enable|disable <id>      Toggle a job
//	schedctl export                   Dump job definitions as YAML
//	schedctl import -f jobs.yaml      Load job definitions
//	schedctl validate -f jobs.yaml    Parse a definitions file offline
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/util"
	"github.com/lnmt-project/lnmt/pkg/version"
)

var (
	serverURL string
	format    string
	verbose   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:               "schedctl",
	Short:             "Manage LNMT scheduled jobs",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "daemon base URL (default from settings)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "", "output format: table or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(
		newListCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newRunCmd(),
		newHistoryCmd(),
		newStatusCmd(),
		newEnableCmd(),
		newDisableCmd(),
		newExportCmd(),
		newImportCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("schedctl " + version.Info())
		},
	}
}
