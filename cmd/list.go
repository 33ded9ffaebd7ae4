package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/session-repair/internal"
	"github.com/spf13/cobra"
)

var (
	listLimit int
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	projectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)
)

// sessionRow is one line of the session list
type sessionRow struct {
	session  *internal.Session
	messages int
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Long:  `List every session in the data directory, most recently updated first, with its message count.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}

		sessions, err := store.ListSessions()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		sort.SliceStable(sessions, func(i, j int) bool {
			return sessions[i].GetUpdatedAt().After(sessions[j].GetUpdatedAt())
		})
		if listLimit > 0 && len(sessions) > listLimit {
			sessions = sessions[:listLimit]
		}

		rows := make([]sessionRow, 0, len(sessions))
		for _, s := range sessions {
			msgs, err := store.ListMessages(s.ID)
			if err != nil {
				internal.LogWarn("Failed to list messages of %s: %v", s.ID, err)
			}
			rows = append(rows, sessionRow{session: s, messages: len(msgs)})
		}

		displaySessions(cmd.OutOrStdout(), rows, time.Now())
		return nil
	},
}

func displaySessions(out io.Writer, rows []sessionRow, now time.Time) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(out, headerStyle.Render("No sessions found"))
		return
	}

	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(rows))))
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("ID")+"\t"+titleStyle.Render("Title")+"\t"+titleStyle.Render("Messages")+"\t"+titleStyle.Render("Updated")+"\t"+titleStyle.Render("Project")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 100))

	for _, row := range rows {
		title := row.session.Title
		if title == "" {
			title = "Untitled"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(row.session.ID),
			truncate(title, 50),
			countStyle.Render(strconv.Itoa(row.messages)),
			dateStyle.Render(formatWhen(row.session.GetUpdatedAt(), now)),
			projectStyle.Render(truncate(row.session.ProjectID, 25)),
		)
	}

	_ = w.Flush()
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, idStyle.Render("Tip: run `session-repair scan "+rows[0].session.ID+"` to check a session"))
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Show at most N sessions (0 = all)")
}
