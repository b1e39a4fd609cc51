package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			u, err := c.Whoami()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(u)
			}
			fmt.Printf("username:   %s\n", u.Username)
			fmt.Printf("role:       %s\n", u.Role)
			if u.Email != "" {
				fmt.Printf("email:      %s\n", u.Email)
			}
			if u.LastLogin != nil {
				fmt.Printf("last login: %s\n", cli.Timestamp(*u.LastLogin))
			}
			return nil
		},
	}
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "Show live sessions for the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			sessions, err := c.Sessions()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(sessions)
			}

			now := time.Now()
			t := cli.NewTable("ISSUED", "EXPIRES", "REFRESHABLE UNTIL")
			for _, s := range sessions {
				t.Row(cli.Ago(s.IssuedAt, now), cli.Timestamp(s.ExpiresAt),
					cli.Timestamp(s.RefreshAllowedUntil))
			}
			t.Flush()
			if len(sessions) == 0 {
				fmt.Println("no live sessions")
			}
			return nil
		},
	}
}
