package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/session-repair/internal"
	"github.com/spf13/cobra"
)

var (
	showLimit int
)

var (
	// Styles for show command
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				Padding(0, 1)

	sessionMetaStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243"))

	userMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true)

	assistantMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("135")).
				Bold(true)

	corruptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the message and part graph of a session",
	Long: `Display a session's messages in stored order with their parts. Reasoning
parts are listed with a summary of their signature, and parts or messages the
scanner flags are marked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		g, err := internal.LoadGraph(store, args[0])
		if err != nil {
			return err
		}
		records := internal.NewScanner(store, cfg.History).ScanGraph(g)
		displayGraph(cmd.OutOrStdout(), g, records, showLimit)
		return nil
	},
}

func displayGraph(out io.Writer, g *internal.SessionGraph, records []internal.CorruptionRecord, limit int) {
	title := g.Session.Title
	if title == "" {
		title = "Untitled"
	}
	_, _ = fmt.Fprintln(out, sessionHeaderStyle.Render(fmt.Sprintf("Session %s: %s", g.Session.ID, title)))
	meta := fmt.Sprintf("Project: %s | Messages: %d | Parts: %d", g.Session.ProjectID, len(g.MessageOrder), len(g.Parts))
	if !g.Session.GetUpdatedAt().IsZero() {
		meta += " | Updated: " + g.Session.GetUpdatedAt().Format(time.RFC3339)
	}
	if rv := g.Session.Revert; rv != nil {
		meta += fmt.Sprintf(" | Revert: %s %s", rv.MessageID, rv.PartID)
	}
	_, _ = fmt.Fprintln(out, sessionMetaStyle.Render(meta))
	_, _ = fmt.Fprintln(out)

	flaggedParts := make(map[string]internal.CorruptionRecord)
	flaggedMessages := make(map[string]internal.CorruptionRecord)
	for _, rec := range records {
		if rec.PartResolved() {
			flaggedParts[rec.PartID] = rec
		} else {
			flaggedMessages[rec.MessageID] = rec
		}
	}

	order := g.MessageOrder
	if limit > 0 && len(order) > limit {
		_, _ = fmt.Fprintln(out, timestampStyle.Render(fmt.Sprintf("... %d earlier message(s) omitted", len(order)-limit)))
		order = order[len(order)-limit:]
	}

	for _, msgID := range order {
		msg := g.Messages[msgID]
		roleStyle := assistantMessageStyle
		if msg.Role == "user" {
			roleStyle = userMessageStyle
		}

		line := fmt.Sprintf("[%d] %s %s", g.IndexOf(msgID), roleStyle.Render(msg.Role), idStyle.Render(msgID))
		if provider, model := msg.Origin(); provider != "" || model != "" {
			line += " " + timestampStyle.Render(provider+"/"+model)
		}
		if rec, ok := flaggedMessages[msgID]; ok {
			line += " " + corruptStyle.Render(fmt.Sprintf("✗ %s: %s", rec.Confidence, rec.Reason))
		}
		_, _ = fmt.Fprintln(out, line)

		if msg.HasError() {
			_, _ = fmt.Fprintf(out, "    error: %s\n", truncate(strings.ReplaceAll(msg.ErrorText(), "\n", " "), 120))
		}

		for i, part := range g.PartsOf(msgID) {
			pline := fmt.Sprintf("    %d. %s %s", i, part.Type, idStyle.Render(part.ID))
			if part.Type == internal.PartTypeReasoning {
				pline += " " + timestampStyle.Render(internal.SummarizeSignature(part.Signature()).String())
			}
			if rec, ok := flaggedParts[part.ID]; ok {
				pline += " " + corruptStyle.Render(fmt.Sprintf("✗ %s: %s", rec.Confidence, rec.Reason))
			}
			_, _ = fmt.Fprintln(out, pline)
		}
	}

	_, _ = fmt.Fprintln(out)
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, countStyle.Render("No corruption found"))
		return
	}
	_, _ = fmt.Fprintln(out, corruptStyle.Render(fmt.Sprintf("%d corruption record(s); run `session-repair repair %s`", len(records), g.Session.ID)))
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().IntVarP(&showLimit, "limit", "n", 0, "Show only the last N messages (0 = all)")
}
