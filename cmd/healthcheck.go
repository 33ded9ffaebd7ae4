package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/session-repair/internal"
	"github.com/spf13/cobra"
)

var (
	healthcheckVerbose bool
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that session data and the backup directory are usable",
	Long: `Check the health of session-repair by verifying:
  • Data directory detection
  • Session, message and part collections
  • Session data accessibility
  • Backup directory and repair history

This command is useful for debugging storage issues before a repair.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		say := func(a ...interface{}) { _, _ = fmt.Fprintln(out, a...) }

		say(sectionStyle.Render("Session Repair Health Check"))
		say()

		// Step 1: data directory
		say(infoStyle.Render("Step 1: Locating data directory..."))
		paths := internal.NewDataPaths(cfg.DataDir)
		if !paths.Exists() {
			say(errorStyle.Render("✗ No storage directory at"), paths.StorageDir)
			return fmt.Errorf("health check failed: no storage at %s", paths.StorageDir)
		}
		say(successStyle.Render("✓ Storage found"))
		if healthcheckVerbose {
			_, _ = fmt.Fprintf(out, "   Data directory: %s\n", paths.BasePath)
			_, _ = fmt.Fprintf(out, "   Storage: %s\n", paths.StorageDir)
		}
		say()

		// Step 2: collections
		say(infoStyle.Render("Step 2: Counting documents..."))
		counts, err := paths.CountDocuments()
		if err != nil {
			say(errorStyle.Render("✗ Failed to read collections:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		for _, dir := range paths.CollectionDirs() {
			kind := internal.DocumentKind(filepath.Base(dir))
			if _, err := os.Stat(dir); err != nil {
				say(warningStyle.Render(fmt.Sprintf("⚠ %s collection missing", kind)))
				continue
			}
			say(successStyle.Render(fmt.Sprintf("✓ %d %s document(s)", counts[kind], kind)))
		}
		say()

		// Step 3: sessions decode
		say(infoStyle.Render("Step 3: Loading sessions..."))
		sessions, err := internal.NewStore(cfg.DataDir).ListSessions()
		if err != nil {
			say(errorStyle.Render("✗ Failed to load sessions:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		if skipped := counts[internal.KindSession] - len(sessions); skipped > 0 {
			say(warningStyle.Render(fmt.Sprintf("⚠ %d session document(s) could not be decoded", skipped)))
		}
		say(successStyle.Render(fmt.Sprintf("✓ %d session(s) readable", len(sessions))))
		if healthcheckVerbose {
			for i, s := range sessions {
				if i == 5 {
					_, _ = fmt.Fprintf(out, "   ... and %d more\n", len(sessions)-5)
					break
				}
				_, _ = fmt.Fprintf(out, "   [%d] %s %s\n", i+1, s.ID, truncate(s.Title, 50))
			}
		}
		say()

		// Step 4: backups
		say(infoStyle.Render("Step 4: Checking backup directory..."))
		backupOK := true
		if err := checkWritable(cfg.BackupDir); err != nil {
			backupOK = false
			say(errorStyle.Render("✗ Backup directory not writable:"), err)
		} else {
			say(successStyle.Render("✓ Backup directory writable"))
		}
		if healthcheckVerbose {
			_, _ = fmt.Fprintf(out, "   Backups: %s\n", cfg.BackupDir)
		}
		if h, err := internal.OpenHistory(cfg.HistoryPath()); err != nil {
			say(warningStyle.Render("⚠ Repair history unavailable:"), err)
		} else {
			_ = h.Close()
			say(successStyle.Render("✓ Repair history available"))
		}
		say()

		say(sectionStyle.Render("Summary"))
		say()
		if !backupOK {
			say(errorStyle.Render("✗ Health check failed: repairs need a writable backup directory"))
			return fmt.Errorf("health check failed: backup directory %s is not writable", cfg.BackupDir)
		}
		say(successStyle.Render("✓ Health check passed!"))
		say(successStyle.Render(fmt.Sprintf("   • Sessions: %d found", len(sessions))))
		return nil
	},
}

// checkWritable creates dir if needed and writes a probe file into it
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVarP(&healthcheckVerbose, "details", "d", false, "Show detailed diagnostic information")
}
