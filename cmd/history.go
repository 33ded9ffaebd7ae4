package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/iksnae/session-repair/internal"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show past repairs and restores",
	Long:  `Show the repair journal, newest first, for one session or for all of them.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := ""
		if len(args) == 1 {
			sessionID = args[0]
		}

		out := cmd.OutOrStdout()
		if _, err := os.Stat(cfg.HistoryPath()); errors.Is(err, os.ErrNotExist) {
			_, _ = fmt.Fprintln(out, headerStyle.Render("No repairs recorded"))
			return nil
		}

		h, err := internal.OpenHistory(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer h.Close()

		entries, err := h.List(cmd.Context(), sessionID, historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			_, _ = fmt.Fprintln(out, headerStyle.Render("No repairs recorded"))
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, titleStyle.Render("When")+"\t"+titleStyle.Render("Session")+"\t"+titleStyle.Render("Action")+"\t"+titleStyle.Render("Status")+"\t"+titleStyle.Render("Fixed")+"\t"+titleStyle.Render("Backup")+"\t")
		_, _ = fmt.Fprintln(w, strings.Repeat("─", 110))
		now := time.Now()
		for _, e := range entries {
			status := string(e.Status)
			switch e.Status {
			case internal.StatusRepaired, internal.StatusRestored:
				status = successStyle.Render(status)
			case internal.StatusNoCorruptionFound:
			default:
				status = errorStyle.Render(status)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t\n",
				dateStyle.Render(formatWhen(e.CreatedAt.Local(), now)),
				idStyle.Render(e.SessionID),
				e.Action,
				status,
				e.RecordsFixed,
				e.BackupID)
			if e.Error != "" {
				_, _ = fmt.Fprintf(w, "\t\t\t%s\t\t\t\n", dateStyle.Render(truncate(e.Error, 80)))
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Show at most N entries (0 = all)")
}
