// device_tracker_ctl: operator CLI for the LNMT device tracker.
//
// Usage:
//
//	device_tracker_ctl list             Show known devices
//	device_tracker_ctl history <mac>    Show lease and session history
//	device_tracker_ctl alerts           Show breaches and new devices
//	device_tracker_ctl status           Show poll-loop status
//	device_tracker_ctl poll             Force one poll cycle
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
	Use:               "device_tracker_ctl",
	Short:             "Inspect LNMT tracked devices and sessions",
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
		newHistoryCmd(),
		newAlertsCmd(),
		newStatusCmd(),
		newPollCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("device_tracker_ctl " + version.Info())
		},
	}
}
