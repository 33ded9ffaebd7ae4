package cmd

import (
	"fmt"

	"github.com/iksnae/session-repair/internal"
	"github.com/spf13/cobra"
)

var (
	restoreYes bool
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Put a session back the way a backup recorded it",
	Long: `Write every document of a backup back to its original location. The backup
is verified against its manifest before anything is written; an unknown or
damaged backup changes nothing. Use 'session-repair backups <session-id>' to
find backup ids.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backupID := args[0]
		r, closeHistory := openRepairer()
		defer closeHistory()
		out := cmd.OutOrStdout()

		m, err := r.Backups().LoadManifest(backupID)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Backup %s", m.BackupID)))
		_, _ = fmt.Fprintf(out, "  Session: %s\n  Created: %s\n  Strategy: %s\n", m.SessionID, m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.Strategy)
		for _, doc := range m.Documents {
			_, _ = fmt.Fprintf(out, "    - %s\n", doc.OriginalPath)
		}
		_, _ = fmt.Fprintln(out)

		if !restoreYes {
			ok, err := internal.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Restore %d document(s) of %s?", len(m.Documents), m.SessionID))
			if err != nil {
				return err
			}
			if !ok {
				return errDeclined
			}
		}

		if _, err := r.Restore(cmd.Context(), backupID); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Restored %s from %s", m.SessionID, backupID)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "Restore without asking for confirmation")
}
