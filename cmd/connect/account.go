// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package main

import (
	"context"
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/serpconnect/connect/internal/account"
)

// NewAccountCmd creates the account subcommand.
func NewAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Register, inspect and modify accounts",
	}

	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "authenticate EMAIL",
		Short: "Check a password; exits non-zero when it is rejected",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			password, err := promptPassword(cmd, "Password: ")
			if err != nil {
				return err
			}
			ok, err := m.Authenticate(ctx, args[0], password)
			if err != nil {
				return err
			}
			if !ok {
				return oops.Code("AUTH_DENIED").With("email", args[0]).Errorf("invalid email or password")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "authenticated")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show EMAIL",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			acct, err := m.FindAccount(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:         %s\n", acct.ID)
			fmt.Fprintf(out, "email:      %s\n", acct.Email)
			fmt.Fprintf(out, "trust:      %s\n", acct.Trust)
			fmt.Fprintf(out, "collection: %s\n", acct.DefaultCollection)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete EMAIL",
		Short: "Delete an account with its tokens",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			if err := m.DeleteAccount(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-trust EMAIL LEVEL",
		Short: "Set an account's trust level (unverified, verified, admin or a number)",
		Args:  cobra.ExactArgs(2),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			level, err := account.ParseTrustLevel(args[1])
			if err != nil {
				return err
			}
			if err := m.ChangeTrust(ctx, args[0], level); err != nil {
				return err
			}
			cmd.Printf("Set trust of %s to %s\n", args[0], level)
			return nil
		}),
	})
	cmd.AddCommand(newPromoteCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "set-email EMAIL NEW_EMAIL",
		Short: "Change an account's email",
		Args:  cobra.ExactArgs(2),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			if err := m.ChangeEmail(ctx, args[0], args[1]); err != nil {
				return err
			}
			cmd.Printf("Changed email of %s to %s\n", args[0], args[1])
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-password EMAIL",
		Short: "Replace an account's password",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			password, err := promptPassword(cmd, "New password: ")
			if err != nil {
				return err
			}
			if err := m.ChangePassword(ctx, args[0], password); err != nil {
				return err
			}
			cmd.Printf("Changed password of %s\n", args[0])
			return nil
		}),
	})

	return cmd
}

func newRegisterCmd() *cobra.Command {
	var trust string
	cmd := &cobra.Command{
		Use:   "register EMAIL",
		Short: "Register an account; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			level, err := account.ParseTrustLevel(trust)
			if err != nil {
				return err
			}
			password, err := promptPassword(cmd, "Password: ")
			if err != nil {
				return err
			}
			acct, err := m.Register(ctx, args[0], password, level)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), acct.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&trust, "trust", account.TrustUnverified.String(), "initial trust level")
	return cmd
}

func newPromoteCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "promote EMAIL",
		Short: "Promote a verified account to admin on behalf of an admin",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			if err := m.Promote(ctx, actor, args[0]); err != nil {
				return err
			}
			cmd.Printf("Promoted %s to admin\n", args[0])
			return nil
		}),
	}
	cmd.Flags().StringVar(&actor, "actor", "", "email of the admin performing the promotion")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
