package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
	"github.com/lnmt-project/lnmt/pkg/settings"
)

func newLoginCmd() *cobra.Command {
	var remember bool
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate and save the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.Login(args[0], password, remember)
			if err != nil {
				return err
			}

			s, err := settings.Load()
			if err != nil {
				return err
			}
			if serverURL != "" {
				s.Server = serverURL
			}
			s.SetSession(res.User.Username, res.Token)
			if err := s.Save(); err != nil {
				return err
			}
			fmt.Printf("logged in as %s (%s), session expires in %s\n",
				res.User.Username, res.User.Role, cli.Seconds(res.ExpiresIn))
			return nil
		},
	}
	cmd.Flags().BoolVar(&remember, "remember", false, "extend the session to the remember-me lifetime")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			// Best effort server side; the local token is cleared either way.
			if err := c.Logout(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: server logout failed: %v\n", err)
			}
			s, err := settings.Load()
			if err != nil {
				return err
			}
			s.ClearSession()
			if err := s.Save(); err != nil {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}
