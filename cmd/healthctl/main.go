// healthctl: operator CLI for the LNMT health monitor.
//
// Usage:
//
//	healthctl status               Show aggregate health
//	healthctl probes               Show configured probes
//	healthctl add <id>             Add a probe
//	healthctl remove <id>          Remove a probe
//	healthctl samples <id>         Show recent samples for a probe
//	healthctl heal-log             Show self-heal attempts
//	healthctl reset <id>           Clear a probe's failure state
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
	Use:               "healthctl",
	Short:             "Inspect LNMT service health and self-heal activity",
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
		newStatusCmd(),
		newProbesCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newSamplesCmd(),
		newHealLogCmd(),
		newResetCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("healthctl " + version.Info())
		},
	}
}
