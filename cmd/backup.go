package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"drainvoice/internal/common"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a snapshot of the local store now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Backup.Enabled {
			return fmt.Errorf("backups are disabled; set backup.enabled or BACKUP_ENABLED")
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.backup == nil {
			return fmt.Errorf("backup: %w", common.ErrStorageUnavailable)
		}

		info, err := a.backup.Run(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Uploaded %s/%s (%d bytes, %d invoices, %d pending)\n",
			info.Bucket, info.Object, info.Size, info.Invoices, info.Pending)
		if info.URL != "" {
			fmt.Fprintf(out, "Download (valid 24h): %s\n", info.URL)
		}
		return nil
	},
}
