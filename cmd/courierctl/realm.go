package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lalith-99/courier/internal/app"
	"github.com/lalith-99/courier/internal/registry"
)

var createRealmCmd = &cobra.Command{
	Use:   "create-realm <domain>",
	Short: "Creates a realm, or reports that it already exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plainText, _ := cmd.Flags().GetBool("plain-text")
		announce, _ := cmd.Flags().GetBool("announce")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var opts []registry.Option
			if plainText {
				opts = append(opts, registry.PlainTextOnly())
			}
			realm, created, err := a.Registry.CreateRealm(ctx, args[0], opts...)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "realm %s already exists (id %d)\n", realm.Domain, realm.ID)
				return nil
			}
			if announce {
				if err := a.Engine.AnnounceRealm(ctx, realm); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created realm %s (id %d)\n", realm.Domain, realm.ID)
			return nil
		})
	},
}

var defaultStreamsCmd = &cobra.Command{
	Use:   "default-streams <domain> [stream...]",
	Short: "Replaces a realm's default streams; with no streams, lists them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			realm, err := a.Registry.GetRealmByDomain(ctx, args[0])
			if err != nil {
				return err
			}
			if len(args) > 1 {
				if _, err := a.Ledger.SetDefaultStreams(ctx, realm, args[1:]); err != nil {
					return err
				}
			}
			streams, err := a.Ledger.DefaultStreams(ctx, realm.ID)
			if err != nil {
				return err
			}
			for _, st := range streams {
				fmt.Fprintln(cmd.OutOrStdout(), st.Name)
			}
			return nil
		})
	},
}

func init() {
	createRealmCmd.Flags().Bool("plain-text", false,
		"Render this realm's messages without markdown")
	createRealmCmd.Flags().Bool("announce", false,
		"Post the new realm to the signups stream of the internal bot")
	rootCmd.AddCommand(createRealmCmd)
	rootCmd.AddCommand(defaultStreamsCmd)
}
