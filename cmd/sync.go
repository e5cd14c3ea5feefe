package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"drainvoice/internal/common"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the pending queue once",
	Long: `sync replays every queued change against the remote database and
reports the outcome. Entries still backing off after a failure are skipped
unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.local == nil {
			return fmt.Errorf("sync: %w", common.ErrStorageUnavailable)
		}
		if !a.schemaReady {
			return fmt.Errorf("sync: %w", common.ErrRemoteUnavailable)
		}
		// The command runs after an explicit request, so reachability alone
		// decides connectivity.
		a.tracker.SetOnline(true)

		result, err := a.manager.SyncNow(cmd.Context(), syncForce)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "total: %d  synced: %d  failed: %d  skipped: %d  discarded: %d  remaining: %d\n",
			result.Total, result.Synced, result.Failed, result.Skipped, result.Discarded, result.Remaining)
		for _, msg := range result.Errors {
			fmt.Fprintf(out, "  error: %s\n", msg)
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d entries failed to sync", result.Failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVarP(&syncForce, "force", "f", false, "also replay entries that are still backing off")
}
