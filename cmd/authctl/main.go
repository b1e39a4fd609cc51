// authctl: operator CLI for LNMT authentication and user management.
//
// Usage:
//
//	authctl login <username>       Authenticate and save the session token
//	authctl logout                 Revoke the saved session
//	authctl whoami                 Show the authenticated user
//	authctl sessions               Show live sessions for the current user
//	authctl users ...              Manage user accounts (admin)
//	authctl audit                  Query the auth audit trail (admin)
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
	Use:               "authctl",
	Short:             "Manage LNMT sessions, users, and the audit trail",
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
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newSessionsCmd(),
		newUsersCmd(),
		newAuditCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("authctl " + version.Info())
		},
	}
}
