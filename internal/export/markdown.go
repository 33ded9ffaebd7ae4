package export

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// MarkdownExporter exports reports in Markdown format
type MarkdownExporter struct{}

// Export exports a report to Markdown format
func (e *MarkdownExporter) Export(report *Report, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# Corruption Report\n\n")
	_, _ = fmt.Fprintf(w, "**Generated:** %s  \n", report.GeneratedAt.Format(time.RFC3339))
	if report.DataDir != "" {
		_, _ = fmt.Fprintf(w, "**Data directory:** %s  \n", report.DataDir)
	}
	_, _ = fmt.Fprintf(w, "**Sessions:** %d (%d corrupted, %d record(s))\n\n",
		len(report.Sessions), report.Corrupted(), report.RecordCount())

	for _, s := range report.Sessions {
		_, _ = fmt.Fprintf(w, "---\n\n## %s\n\n", s.SessionID)
		if s.Title != "" {
			_, _ = fmt.Fprintf(w, "**Title:** %s\n\n", escapeMarkdown(s.Title))
		}
		if s.Error != "" {
			_, _ = fmt.Fprintf(w, "**Scan failed:** %s\n\n", escapeMarkdown(s.Error))
			continue
		}
		if len(s.Records) == 0 {
			_, _ = fmt.Fprintf(w, "No corruption found.\n\n")
			continue
		}

		_, _ = fmt.Fprintf(w, "| # | Message | Part | Content | Confidence | Reason |\n")
		_, _ = fmt.Fprintf(w, "|---|---------|------|---------|------------|--------|\n")
		for _, rec := range s.Records {
			part := rec.PartID
			if part == "" {
				part = "(whole message)"
			}
			_, _ = fmt.Fprintf(w, "| %d | %s | %s | %d | %s | %s |\n",
				rec.MessageIndex, rec.MessageID, part, rec.ContentIndex, rec.Confidence, escapeCell(rec.Reason))
		}
		_, _ = fmt.Fprintf(w, "\n")

		if s.Plan != nil {
			_, _ = fmt.Fprintf(w, "**Plan:** %s\n\n", s.Plan.Summary())
			for _, op := range s.Plan.Operations {
				_, _ = fmt.Fprintf(w, "- %s\n", op)
			}
			_, _ = fmt.Fprintf(w, "\n")
		}
	}

	return nil
}

// escapeMarkdown escapes markdown emphasis outside code spans
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "\\*\\*")
	return strings.ReplaceAll(text, "__", "\\_\\_")
}

// escapeCell keeps a value on one table row
func escapeCell(text string) string {
	text = strings.ReplaceAll(text, "|", "\\|")
	return strings.ReplaceAll(escapeMarkdown(text), "\n", " ")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
