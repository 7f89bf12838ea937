package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(d deps) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply all pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(d, func(m migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(d, func(m migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All migrations rolled back.")
				return nil
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(d, func(m migrator) error {
				return printVersion(cmd, m)
			})
		},
	}

	migrateCmd.AddCommand(downCmd, versionCmd)
	return migrateCmd
}

func withMigrator(d deps, fn func(m migrator) error) error {
	m, err := d.openMigrator()
	if err != nil {
		return err
	}
	runErr := fn(m)
	if err := m.Close(); err != nil && runErr == nil {
		return fmt.Errorf("close migrator: %w", err)
	}
	return runErr
}

func printVersion(cmd *cobra.Command, m migrator) error {
	version, dirty, ok, err := m.Version()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case !ok:
		fmt.Fprintln(out, "No migrations applied.")
	case dirty:
		fmt.Fprintf(out, "Schema version %d (dirty).\n", version)
	default:
		fmt.Fprintf(out, "Schema version %d.\n", version)
	}
	return nil
}
