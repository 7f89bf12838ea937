package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(d deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "cgpactl",
		Short:         "CGPA calculator admin CLI",
		Long:          "Run database migrations and manage the accounts allowed to sign in.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCmd(d),
		newCreateUserCmd(d),
		newChangePasswordCmd(d),
		newActivationCmd(d, "deactivate", false),
		newActivationCmd(d, "activate", true),
		newUsersCmd(d),
	)
	return root
}
