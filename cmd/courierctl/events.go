package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lalith-99/courier/internal/app"
	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/replay"
)

var dumpEventsCmd = &cobra.Command{
	Use:   "dump-events",
	Short: "Prints the event log, one JSON object per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, _ := cmd.Flags().GetStringSlice("kind")
		want := make(map[string]bool, len(kinds))
		for _, k := range kinds {
			want[k] = true
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		return eventlog.ReplayFile(cfg.EventLogPath, func(ev eventlog.Event) error {
			if len(want) > 0 && !want[ev.Kind()] {
				return nil
			}
			line, err := eventlog.Encode(ev)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s\n", line)
			return err
		})
	},
}

// The replayed operations are not audited, so the source file may be the
// configured event log itself.
var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Rebuilds realms, users, subscriptions and messages from an event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			r := replay.New(a.Registry, a.Resolver, a.Ledger, a.Engine, a.Logger)
			stats, err := r.File(ctx, args[0])
			printStats(cmd, stats)
			return err
		})
	},
}

func printStats(cmd *cobra.Command, stats replay.Stats) {
	kinds := make([]string, 0, len(stats))
	for k := range stats {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(cmd.OutOrStdout(), "%-36s %d\n", k, stats[k])
	}
}

func init() {
	dumpEventsCmd.Flags().StringSlice("kind", nil,
		"Only print events of these types, e.g. message_sent")
	rootCmd.AddCommand(dumpEventsCmd)
	rootCmd.AddCommand(replayCmd)
}
