package internal

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var promptStyle = lipgloss.NewStyle().Bold(true)

type confirmModel struct {
	prompt   string
	answered bool
	yes      bool
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch strings.ToLower(key.String()) {
	case "y":
		m.answered, m.yes = true, true
		return m, tea.Quit
	case "n", "enter", "esc", "q", "ctrl+c":
		m.answered, m.yes = true, false
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.answered {
		answer := "no"
		if m.yes {
			answer = "yes"
		}
		return fmt.Sprintf("%s %s\n", promptStyle.Render(m.prompt), answer)
	}
	return fmt.Sprintf("%s [y/N] ", promptStyle.Render(m.prompt))
}

// Confirm asks a yes/no question. A terminal gets a single-key prompt; any
// other input is read a line at a time. Anything but yes declines.
func Confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	if isTerminal(in) && isTerminal(out) {
		final, err := tea.NewProgram(confirmModel{prompt: prompt}, tea.WithInput(in), tea.WithOutput(out)).Run()
		if err != nil {
			return false, fmt.Errorf("prompt failed: %w", err)
		}
		return final.(confirmModel).yes, nil
	}

	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
