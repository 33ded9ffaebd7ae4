package cmd

import (
	"fmt"
	"io"

	"github.com/iksnae/session-repair/internal"
	"github.com/spf13/cobra"
)

var (
	repairStrategy        string
	repairYes             bool
	repairDryRun          bool
	repairIncludeInferred bool
)

// repairCmd represents the repair command
var repairCmd = &cobra.Command{
	Use:   "repair <session-id>",
	Short: "Repair a session so it can be continued",
	Long: `Remove the reasoning blocks that make a session unreplayable.

Strategies:
  remove-parts  delete only the offending reasoning parts (needs every
                record to name a part)
  truncate      delete everything from the earliest corrupted message on
  auto          remove-parts when possible, truncate otherwise (default)

The documents the plan touches are backed up first. If applying or
verifying the plan fails, the backup is restored and nothing changes.
Declining the confirmation exits with code 2.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		strategy := cfg.DefaultStrategy
		if cmd.Flags().Changed("strategy") {
			var err error
			if strategy, err = internal.ParseStrategy(repairStrategy); err != nil {
				return err
			}
		}
		if _, err := requireStore(); err != nil {
			return err
		}

		r, closeHistory := openRepairer()
		defer closeHistory()
		opts := internal.RepairOptions{Strategy: strategy, IncludeInferred: repairIncludeInferred}
		out := cmd.OutOrStdout()

		plan, err := r.Plan(cmd.Context(), sessionID, opts)
		if err != nil {
			return fmt.Errorf("session %s: %w", sessionID, err)
		}
		displayPlan(out, plan)

		if repairDryRun {
			_, _ = fmt.Fprintln(out, dateStyle.Render("Dry run: nothing was changed"))
			return nil
		}
		if !repairYes {
			ok, err := internal.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Apply this plan to %s?", sessionID))
			if err != nil {
				return err
			}
			if !ok {
				return errDeclined
			}
		}

		var result internal.RepairResult
		err = internal.ShowProgress(cmd.Context(), "Repairing "+sessionID, func() error {
			var repairErr error
			result, repairErr = r.RepairWithOptions(cmd.Context(), sessionID, opts)
			return repairErr
		})
		if err != nil {
			return err
		}

		switch result.Status {
		case internal.StatusNoCorruptionFound:
			// the store changed between planning and repairing
			return fmt.Errorf("session %s: %w", sessionID, internal.ErrNoCorruptionFound)
		case internal.StatusRepaired:
			_, _ = fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Repaired %s: %d record(s) fixed", sessionID, result.RecordsFixed)))
			_, _ = fmt.Fprintf(out, "  Backup: %s\n", result.BackupID)
			_, _ = fmt.Fprintf(out, "  Undo with: session-repair restore %s\n", result.BackupID)
			return nil
		default:
			return fmt.Errorf("session %s ended as %s", sessionID, result.Status)
		}
	},
}

func displayPlan(out io.Writer, plan *internal.RepairPlan) {
	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Repair plan for %s", plan.SessionID)))
	strategy := string(plan.Strategy)
	if plan.Requested != plan.Strategy {
		strategy = fmt.Sprintf("%s (requested %s)", plan.Strategy, plan.Requested)
	}
	_, _ = fmt.Fprintf(out, "  Strategy: %s\n", strategy)
	if plan.Strategy == internal.StrategyTruncate {
		_, _ = fmt.Fprintf(out, "  Truncate from message index %d\n", plan.TruncateIndex)
	}
	for _, rec := range plan.Records {
		target := rec.MessageID
		if rec.PartResolved() {
			target += "/" + rec.PartID
		}
		_, _ = fmt.Fprintf(out, "  %s %s: %s\n", corruptStyle.Render("✗"), target, rec.Reason)
	}
	_, _ = fmt.Fprintln(out, "  Operations:")
	for _, op := range plan.Operations {
		_, _ = fmt.Fprintf(out, "    - %s\n", op)
	}
	_, _ = fmt.Fprintln(out)
}

func init() {
	rootCmd.AddCommand(repairCmd)
	repairCmd.Flags().StringVarP(&repairStrategy, "strategy", "s", "auto", "Repair strategy (auto, remove-parts, truncate)")
	repairCmd.Flags().BoolVarP(&repairYes, "yes", "y", false, "Apply without asking for confirmation")
	repairCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "Show the plan without changing anything")
	repairCmd.Flags().BoolVar(&repairIncludeInferred, "include-inferred", false, "Repair sessions that only have inferred records")
}
