package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/iksnae/session-repair/internal"
	"github.com/spf13/cobra"
)

var (
	inspectFormat string
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <backup-id>",
	Short: "Check a backup against its manifest",
	Long: `Inspect a backup without restoring it. Every document copy is checked against
the size and SHA-256 recorded in the manifest, and the manifest itself against
its digest.

Examples:
  session-repair inspect 20260114T101500.000000000Z_session_ses_a   # Human-readable report
  session-repair inspect 20260114T101500.000000000Z_session_ses_a -f json

Exits with an error when any document is damaged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bm := internal.NewBackupManager(cfg.BackupDir, internal.NewStore(cfg.DataDir))
		m, problems, err := bm.Verify(args[0])
		if err != nil {
			return err
		}

		switch inspectFormat {
		case "json":
			err = writeInspectJSON(cmd.OutOrStdout(), m, problems)
		case "text":
			displayInspect(cmd.OutOrStdout(), m, problems)
		default:
			return fmt.Errorf("unsupported format: %s (supported: text, json)", inspectFormat)
		}
		if err != nil {
			return err
		}
		if len(problems) > 0 {
			return fmt.Errorf("%w: %d of %d document(s) damaged", internal.ErrBackupCorrupted, len(problems), len(m.Documents))
		}
		return nil
	},
}

type inspectReport struct {
	*internal.Manifest
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

func writeInspectJSON(w io.Writer, m *internal.Manifest, problems []error) error {
	report := inspectReport{Manifest: m, OK: len(problems) == 0}
	for _, p := range problems {
		report.Problems = append(report.Problems, p.Error())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func displayInspect(w io.Writer, m *internal.Manifest, problems []error) {
	_, _ = fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Backup %s", m.BackupID)))
	_, _ = fmt.Fprintf(w, "  Session:  %s\n", idStyle.Render(m.SessionID))
	_, _ = fmt.Fprintf(w, "  Created:  %s\n", dateStyle.Render(m.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	if m.Strategy != "" {
		_, _ = fmt.Fprintf(w, "  Strategy: %s\n", m.Strategy)
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("%d document(s)", len(m.Documents))))
	for _, doc := range m.Documents {
		_, _ = fmt.Fprintf(w, "  %-8s %-28s %8d bytes  %s\n", doc.Kind, doc.ID, doc.Size, shortDigest(doc.SHA256))
	}
	_, _ = fmt.Fprintln(w)

	if len(problems) == 0 {
		_, _ = fmt.Fprintln(w, successStyle.Render("✓ All documents match the manifest"))
		return
	}
	for _, p := range problems {
		_, _ = fmt.Fprintln(w, errorStyle.Render("✗ "+p.Error()))
	}
}

func shortDigest(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "text", "Output format (text, json)")
}
