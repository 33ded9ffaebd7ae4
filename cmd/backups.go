package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	pruneKeep int
)

// backupsCmd represents the backups command
var backupsCmd = &cobra.Command{
	Use:   "backups <session-id>",
	Short: "List the backups of a session",
	Long:  `List the complete backups taken before repairs of a session, newest first.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, closeHistory := openRepairer()
		defer closeHistory()
		out := cmd.OutOrStdout()

		backups, err := r.ListBackups(args[0])
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			_, _ = fmt.Fprintln(out, headerStyle.Render("No backups for "+args[0]))
			return nil
		}

		_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d backup(s) of %s", len(backups), args[0])))
		_, _ = fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprintln(w, titleStyle.Render("Backup ID")+"\t"+titleStyle.Render("Created")+"\t"+titleStyle.Render("Strategy")+"\t"+titleStyle.Render("Documents")+"\t")
		_, _ = fmt.Fprintln(w, strings.Repeat("─", 100))
		now := time.Now()
		for _, b := range backups {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
				idStyle.Render(b.BackupID),
				dateStyle.Render(formatWhen(b.CreatedAt.Local(), now)),
				string(b.Strategy),
				countStyle.Render(strconv.Itoa(b.Documents)))
		}
		return w.Flush()
	},
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune <session-id>",
	Short: "Delete all but the newest backups of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, closeHistory := openRepairer()
		defer closeHistory()

		removed, err := r.PruneBackups(args[0], pruneKeep)
		if err != nil {
			return err
		}
		for _, id := range removed {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("✓ Pruned %d backup(s), kept %d", len(removed), pruneKeep)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsPruneCmd)
	backupsPruneCmd.Flags().IntVarP(&pruneKeep, "keep", "k", 5, "Number of newest backups to keep")
}
