package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lalith-99/courier/internal/app"
	"github.com/lalith-99/courier/internal/registry"
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Creates a user in an existing realm",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		domain, _ := flags.GetString("realm")
		email, _ := flags.GetString("email")
		password, _ := flags.GetString("password")
		fullName, _ := flags.GetString("full-name")
		shortName, _ := flags.GetString("short-name")
		defaults, _ := flags.GetBool("default-subscriptions")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			realm, err := a.Registry.GetRealmByDomain(ctx, domain)
			if err != nil {
				return err
			}
			u, err := a.Registry.CreateUser(ctx, registry.NewUser{
				RealmID:   realm.ID,
				Email:     email,
				Password:  password,
				FullName:  fullName,
				ShortName: shortName,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", u.Email, u.ID)

			if !defaults {
				return nil
			}
			n, err := a.Ledger.AddDefaultSubscriptions(ctx, u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscribed to %d default streams\n", n)
			return nil
		})
	},
}

func init() {
	createUserCmd.Flags().String("realm", "", "Domain of the user's realm")
	createUserCmd.Flags().String("email", "", "Email address, unique across realms")
	createUserCmd.Flags().String("password", "",
		"Login password; empty creates an account that cannot log in")
	createUserCmd.Flags().String("full-name", "", "Display name")
	createUserCmd.Flags().String("short-name", "", "Short display name")
	createUserCmd.Flags().Bool("default-subscriptions", true,
		"Subscribe the user to the realm's default streams")
	createUserCmd.MarkFlagRequired("realm")
	createUserCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(createUserCmd)
}
