package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collection metadata and the pause flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newClient(false)
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
}

func newInitCmd() *cobra.Command {
	var admin, name, symbol string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the tracker with its first admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newClient(false)
			if err := c.Initialize(cmd.Context(), model.Identity(admin), name, symbol); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized with admin %s\n", admin)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "Identity granted the admin role")
	cmd.Flags().StringVar(&name, "name", "", "Collection name (server default if empty)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Collection symbol (server default if empty)")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Grant, revoke and check roles",
	}
	set := func(use, short string, granted bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ACCOUNT ROLE",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				role, err := model.ParseRole(args[1])
				if err != nil {
					return err
				}
				c, err := newClient(true)
				if err != nil {
					return err
				}
				return c.SetRole(cmd.Context(), model.Identity(args[0]), role, granted)
			},
		}
	}
	check := &cobra.Command{
		Use:   "check ACCOUNT ROLE",
		Short: "Print whether ACCOUNT holds ROLE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := model.ParseRole(args[1])
			if err != nil {
				return err
			}
			c, _ := newClient(false)
			ok, err := c.HasRole(cmd.Context(), model.Identity(args[0]), role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
	cmd.AddCommand(
		set("grant", "Grant ROLE to ACCOUNT (admin only)", true),
		set("revoke", "Revoke ROLE from ACCOUNT (admin only)", false),
		check,
	)
	return cmd
}

func newWhitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage accounts allowed to receive transfers",
	}
	set := func(use, short string, listed bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ACCOUNT",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient(true)
				if err != nil {
					return err
				}
				return c.SetWhitelisted(cmd.Context(), model.Identity(args[0]), listed)
			},
		}
	}
	check := &cobra.Command{
		Use:   "check ACCOUNT",
		Short: "Print whether ACCOUNT is whitelisted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newClient(false)
			ok, err := c.IsWhitelisted(cmd.Context(), model.Identity(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
	cmd.AddCommand(
		set("add", "Whitelist ACCOUNT (admin only)", true),
		set("remove", "Remove ACCOUNT from the whitelist (admin only)", false),
		check,
	)
	return cmd
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance ACCOUNT",
		Short: "Count the assets ACCOUNT owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newClient(false)
			n, err := c.Balance(cmd.Context(), model.Identity(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newPauseCmd(pause bool) *cobra.Command {
	use, short := "unpause", "Resume asset mutations (admin only)"
	if pause {
		use, short = "pause", "Reject asset mutations until unpaused (admin only)"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(true)
			if err != nil {
				return err
			}
			return c.SetPaused(cmd.Context(), pause)
		},
	}
}
