package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"drainvoice/internal/repositories"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued changes that have not reached the remote database",
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := repositories.OpenLocalStore(cmd.Context(), cfg.Local.Path)
		if err != nil {
			return err
		}
		defer local.Close()

		entries, err := local.ListPending(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No pending changes.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENTRY\tACTION\tINVOICE\tQUEUED\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
		for _, entry := range entries {
			next := "-"
			if entry.NextAttemptAt != nil {
				next = entry.NextAttemptAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				entry.ID,
				entry.Action,
				entry.EntityID,
				entry.Timestamp.Local().Format(time.DateTime),
				entry.Attempts,
				next,
				lo.Ellipsis(entry.LastError, 60),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d pending\n", len(entries))
		return nil
	},
}
