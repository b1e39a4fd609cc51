package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/cli"
	"github.com/lnmt-project/lnmt/pkg/model"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts (admin)",
	}
	cmd.AddCommand(
		newUserListCmd(),
		newUserAddCmd(),
		newUserPasswdCmd(),
		newUserEnableCmd(true),
		newUserEnableCmd(false),
	)
	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show all user accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			users, err := c.Users()
			if err != nil {
				return err
			}
			f, err := outputFormat()
			if err != nil {
				return err
			}
			if f == "json" {
				return cli.PrintJSON(users)
			}

			t := cli.NewTable("USERNAME", "ROLE", "STATE", "LAST LOGIN", "FAILED")
			for _, u := range users {
				state := "enabled"
				switch {
				case !u.Enabled:
					state = cli.Red("disabled")
				case u.LockoutUntil != nil:
					state = cli.Status("LockedOut")
				}
				lastLogin := "-"
				if u.LastLogin != nil {
					lastLogin = cli.Timestamp(*u.LastLogin)
				}
				t.Row(u.Username, string(u.Role), state, lastLogin, fmt.Sprint(u.FailedAttempts))
			}
			t.Flush()
			return nil
		},
	}
}

func newUserAddCmd() *cobra.Command {
	var role, email string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			u, err := c.CreateUser(args[0], password, email, model.Role(role))
			if err != nil {
				return err
			}
			fmt.Printf("created user %s with role %s\n", u.Username, u.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "viewer", "viewer, operator, or admin")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	return cmd
}

func newUserPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("New password: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.SetUserPassword(args[0], password); err != nil {
				return err
			}
			fmt.Printf("password updated for %s\n", args[0])
			return nil
		},
	}
}

func newUserEnableCmd(enable bool) *cobra.Command {
	verb := "disable"
	short := "Disable a user account and revoke its sessions"
	if enable {
		verb = "enable"
		short = "Re-enable a user account"
	}
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.SetUserEnabled(args[0], enable); err != nil {
				return err
			}
			fmt.Printf("%sd user %s\n", verb, args[0])
			return nil
		},
	}
}
