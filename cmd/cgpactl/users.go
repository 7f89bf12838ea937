package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var errPasswordRequired = errors.New("password is required (use --password or pipe it on stdin)")

func newCreateUserCmd(d deps) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "createuser",
		Short: "Create an active account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := resolvePassword(cmd, password)
			if err != nil {
				return err
			}
			return withAccounts(cmd.Context(), d, func(ctx context.Context, a accounts) error {
				user, err := a.CreateUser(ctx, username, pw)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created user %q (%s).\n", user.Username, user.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name (case-sensitive)")
	cmd.Flags().StringVar(&password, "password", "", "password; read from stdin when omitted")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newChangePasswordCmd(d deps) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "changepassword",
		Short: "Set a new password for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := resolvePassword(cmd, password)
			if err != nil {
				return err
			}
			return withAccounts(cmd.Context(), d, func(ctx context.Context, a accounts) error {
				if err := a.SetPassword(ctx, username, pw); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Password changed for %q.\n", username)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "new password; read from stdin when omitted")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newActivationCmd(d deps, use string, active bool) *cobra.Command {
	var username string

	short := "Block an account from signing in"
	if active {
		short = "Allow a deactivated account to sign in again"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd.Context(), d, func(ctx context.Context, a accounts) error {
				if err := a.SetActive(ctx, username, active); err != nil {
					return err
				}
				state := "deactivated"
				if active {
					state = "activated"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %q %s.\n", username, state)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newUsersCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd.Context(), d, func(ctx context.Context, a accounts) error {
				users, err := a.ListUsers(ctx)
				if err != nil {
					return err
				}

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"ID", "Username", "Active", "Last login", "Created"})
				for _, u := range users {
					lastLogin := "never"
					if u.LastLoginAt != nil {
						lastLogin = u.LastLoginAt.UTC().Format(time.RFC3339)
					}
					t.AppendRow(table.Row{u.ID, u.Username, u.IsActive, lastLogin, u.CreatedAt.UTC().Format(time.RFC3339)})
				}
				t.AppendFooter(table.Row{"", fmt.Sprintf("%d users", len(users))})
				t.Render()
				return nil
			})
		},
	}
}

func withAccounts(ctx context.Context, d deps, fn func(ctx context.Context, a accounts) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, closeFn, err := d.openAccounts(ctx)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(ctx, a)
}

// resolvePassword prefers the flag and otherwise reads one line from stdin.
func resolvePassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errPasswordRequired
	}
	return pw, nil
}
