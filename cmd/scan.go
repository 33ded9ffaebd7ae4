package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/iksnae/session-repair/internal"
	"github.com/iksnae/session-repair/internal/export"
	"github.com/spf13/cobra"
)

var (
	scanAll          bool
	scanFormat       string
	scanOut          string
	scanIncludeClean bool
	scanPlan         bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [session-id]",
	Short: "Find sessions with invalid reasoning signatures",
	Long: `Scan one session, or every session with --all, for reasoning parts that make
the session unreplayable. Scanning never modifies the store.

Records are "definite" when a stored provider error names the block and
"inferred" when a reasoning part comes from a model other than the one the
session uses now.

Formats: table (default), json, jsonl, yaml, md. Exits with code 3 when no
corruption is found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(args) == 1) == scanAll {
			return fmt.Errorf("specify either a session id or --all")
		}
		var exporter export.Exporter
		if scanFormat != "table" {
			var err error
			if exporter, err = export.NewExporter(scanFormat); err != nil {
				return err
			}
		}
		store, err := requireStore()
		if err != nil {
			return err
		}
		r := internal.NewRepairer(store, cfg)
		ctx := cmd.Context()

		var report *export.Report
		steps := []internal.ProgressStep{{
			Message: "Scanning sessions",
			Fn: func() error {
				var scans []internal.SessionScan
				if scanAll {
					var err error
					if scans, err = r.ScanAll(ctx, cfg.ScanConcurrency); err != nil {
						return err
					}
				} else {
					session, err := store.ReadSession(args[0])
					if err != nil {
						return err
					}
					records, err := r.Scan(ctx, args[0])
					if err != nil {
						return err
					}
					scans = []internal.SessionScan{{Session: session, Records: records}}
				}
				report = export.NewReport(cfg.DataDir, scans, scanIncludeClean || !scanAll, time.Now())
				return nil
			},
		}}
		if scanPlan {
			steps = append(steps, internal.ProgressStep{
				Message: "Planning repairs",
				Fn: func() error {
					attachPlans(ctx, r, report)
					return nil
				},
			})
		}
		if err := internal.ShowProgressWithSteps(ctx, steps); err != nil {
			return err
		}

		out, closeOut, err := openOutput(scanOut, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if exporter != nil {
			err = exporter.Export(report, out)
		} else {
			displayReport(out, report)
		}
		if closeErr := closeOut(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		if scanOut != "" {
			internal.LogInfo("Report written to %s", scanOut)
		}

		failed := 0
		for _, sr := range report.Sessions {
			if sr.Error != "" {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d session(s) could not be scanned", internal.ErrStoreIO, failed)
		}
		if report.RecordCount() == 0 {
			return internal.ErrNoCorruptionFound
		}
		return nil
	},
}

// attachPlans adds the plan a repair would apply to each corrupted session
func attachPlans(ctx context.Context, r *internal.Repairer, report *export.Report) {
	for i := range report.Sessions {
		s := &report.Sessions[i]
		if len(s.Records) == 0 {
			continue
		}
		plan, err := r.Plan(ctx, s.SessionID, internal.RepairOptions{Strategy: cfg.DefaultStrategy})
		switch {
		case err == nil:
			s.Plan = plan
		case errors.Is(err, internal.ErrNoCorruptionFound):
		default:
			internal.LogWarn("No plan for %s: %v", s.SessionID, err)
		}
	}
}

func displayReport(out io.Writer, report *export.Report) {
	if len(report.Sessions) == 0 {
		_, _ = fmt.Fprintln(out, headerStyle.Render("No corruption found"))
		return
	}
	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d record(s) in %d session(s)", report.RecordCount(), report.Corrupted())))
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Session")+"\t"+titleStyle.Render("Index")+"\t"+titleStyle.Render("Message")+"\t"+titleStyle.Render("Part")+"\t"+titleStyle.Render("Confidence")+"\t"+titleStyle.Render("Reason")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 110))
	for _, s := range report.Sessions {
		if s.Error != "" {
			_, _ = fmt.Fprintf(w, "%s\t\t\t\t%s\t%s\t\n", idStyle.Render(s.SessionID), corruptStyle.Render("error"), truncate(s.Error, 60))
			continue
		}
		if len(s.Records) == 0 {
			_, _ = fmt.Fprintf(w, "%s\t\t\t\t%s\t\t\n", idStyle.Render(s.SessionID), countStyle.Render("clean"))
			continue
		}
		for _, rec := range s.Records {
			part := rec.PartID
			if part == "" {
				part = "(message)"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
				idStyle.Render(s.SessionID),
				strconv.Itoa(rec.MessageIndex),
				rec.MessageID,
				part,
				string(rec.Confidence),
				truncate(rec.Reason, 60))
		}
		if s.Plan != nil {
			_, _ = fmt.Fprintf(w, "\t\t%s\t\t\t\t\n", dateStyle.Render("plan: "+s.Plan.Summary()))
		}
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Scan every session")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json, jsonl, yaml, md)")
	scanCmd.Flags().StringVarP(&scanOut, "out", "o", "", "Write the report to a file instead of stdout")
	scanCmd.Flags().BoolVar(&scanIncludeClean, "include-clean", false, "List clean sessions too (with --all)")
	scanCmd.Flags().BoolVar(&scanPlan, "plan", false, "Include the repair plan for each corrupted session")
}
