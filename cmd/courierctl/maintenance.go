package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lalith-99/courier/internal/app"
)

// Building the app applies the embedded schema, so migrate only has to
// insist on postgres.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.Config.Storage != "postgres" {
				return errors.New("migrate needs STORAGE=postgres")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		})
	},
}

var removeUnreachableCmd = &cobra.Command{
	Use:   "remove-unreachable",
	Short: "Deletes messages that no user received",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Engine.RemoveUnreachable(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d unreachable messages\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(removeUnreachableCmd)
}
