package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/users"
	"github.com/spf13/cobra"
)

func newBootstrapAdminCommand() *cobra.Command {
	var input users.BootstrapInput
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create or reset the administrator identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.users.BootstrapAdmin(cmd.Context(), input)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Created {
				fmt.Fprintf(out, "created admin %s\n", result.UserID)
			} else {
				fmt.Fprintf(out, "reset admin %s\n", result.UserID)
			}
			if len(result.RemovedPlaceholders) > 0 {
				fmt.Fprintf(out, "removed placeholder identities: %s\n", strings.Join(result.RemovedPlaceholders, ", "))
			}
			if result.RenamedProfileUserID != "" {
				fmt.Fprintf(out, "renamed profile %s to %s\n", result.RenamedProfileUserID, result.RenamedTo)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input.Email, "email", "", "Administrator email")
	cmd.Flags().StringVar(&input.Username, "username", "", "Administrator username")
	cmd.Flags().StringVar(&input.Password, "password", "", "Administrator password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRepairAdminRoleCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "repair-admin-role",
		Short: "Grant the admin role to the owner of a username",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.users.RepairAdminRole(cmd.Context(), username)
			if err != nil {
				return err
			}
			switch result.Action {
			case users.RepairUnchanged:
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already an admin\n", result.UserID)
			case users.RepairUpdated:
				fmt.Fprintf(cmd.OutOrStdout(), "%s promoted from %s to admin\n", result.UserID, result.PreviousRole)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s granted admin\n", result.UserID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Username whose owner becomes admin")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newListUsersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "Print every user with their role",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			summaries, err := app.users.List(cmd.Context())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "USERNAME\tUSER ID\tROLE")
			for _, summary := range summaries {
				fmt.Fprintf(writer, "%s\t%s\t%s\n", summary.Username, summary.UserID, summary.Role)
			}
			return writer.Flush()
		},
	}
}
