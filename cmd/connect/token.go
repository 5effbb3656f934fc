// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/serpconnect/connect/internal/account"
)

// NewTokenCmd creates the token subcommand.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and redeem single-use tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "request-verification EMAIL",
		Short: "Issue an email verification token",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			token, err := m.RequestEmailVerification(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "verify TOKEN",
		Short: "Redeem an email verification token",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			email, err := m.ConsumeEmailVerification(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %s\n", email)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "request-reset EMAIL",
		Short: "Issue a password reset token",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			token, err := m.RequestPasswordReset(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset TOKEN",
		Short: "Redeem a password reset token and print the new password",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error {
			result, err := m.ConsumePasswordReset(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "email:        %s\n", result.Email)
			fmt.Fprintf(out, "new password: %s\n", result.NewPassword)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired tokens",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, cmd *cobra.Command, _ []string, m *account.Manager) error {
			n, err := m.PurgeExpiredTokens(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Purged %d expired token(s)\n", n)
			return nil
		}),
	})

	return cmd
}
