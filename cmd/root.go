package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iksnae/session-repair/internal"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	dataDir    string
	backupDir  string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"

	// cfg is resolved once per invocation before any subcommand runs
	cfg internal.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "session-repair",
	Short: "Detect and repair conversation sessions broken by invalid reasoning signatures",
	Long: `A CLI tool that finds and repairs stored conversation sessions that can no
longer be continued because a signed reasoning block became invalid.

When a session switches models, reasoning blocks signed by the previous
provider can be rejected on every later request. This tool locates those
blocks from the stored provider errors, removes them (or truncates the
history when they cannot be pinpointed) and verifies the result. Every
repair is backed up first and rolled back if anything fails.

Quick Start:
  session-repair scan --all                 # Find broken sessions
  session-repair repair <session-id>        # Repair one session
  session-repair backups <session-id>       # List its backups
  session-repair restore <backup-id>        # Undo a repair

Exit codes:
  0  success
  1  error
  2  cancelled by the user
  3  no corruption found`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

// loadConfig resolves the configuration: file, then environment, then flags
func loadConfig() error {
	path, explicit := configPath, configPath != ""
	if !explicit {
		p, err := internal.DefaultConfigPath()
		if err != nil {
			internal.LogDebug("No default config path: %v", err)
		}
		path = p
	}

	loaded, err := internal.LoadConfig(path, explicit)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		loaded.DataDir = dataDir
	}
	if backupDir != "" {
		loaded.BackupDir = backupDir
	}
	if err := loaded.ResolveDirs(); err != nil {
		return fmt.Errorf("failed to locate data directory: %w", err)
	}

	level, _ := internal.ParseLogLevel(loaded.LogLevel)
	internal.SetLogLevel(level)
	if verbose {
		internal.SetVerbose(true)
	}

	cfg = loaded
	internal.LogDebug("Data directory: %s, backups: %s", cfg.DataDir, cfg.BackupDir)
	return nil
}

// Execute adds all child commands to the root command and exits with the
// code matching the outcome
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	code := exitCode(err)
	switch {
	case err == nil:
	case code == ExitNoCorruption:
		fmt.Fprintln(os.Stderr, err)
	case code == ExitCancelled:
		fmt.Fprintf(os.Stderr, "Cancelled: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

// Process exit codes
const (
	ExitOK           = 0
	ExitError        = 1
	ExitCancelled    = 2
	ExitNoCorruption = 3
)

// errDeclined is returned when the user answers no to a confirmation
var errDeclined = errors.New("declined by user")

// exitCode maps a command error to the process exit code
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, internal.ErrNoCorruptionFound):
		return ExitNoCorruption
	case errors.Is(err, errDeclined), errors.Is(err, context.Canceled):
		return ExitCancelled
	default:
		return ExitError
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/session-repair/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory holding storage/ (default: detected)")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "Backup directory (default <data-dir>/repair-backups)")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
