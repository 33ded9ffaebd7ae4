package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/iksnae/session-repair/internal"
)

// openRepairer wires the pipeline for the resolved config. The history
// journal is optional; when it cannot be opened repairs still run.
func openRepairer() (*internal.Repairer, func()) {
	r := internal.NewRepairer(internal.NewStore(cfg.DataDir), cfg)
	h, err := internal.OpenHistory(cfg.HistoryPath())
	if err != nil {
		internal.LogWarn("Repair history unavailable: %v", err)
		return r, func() {}
	}
	r.WithHistory(h)
	return r, func() {
		if err := h.Close(); err != nil {
			internal.LogWarn("Failed to close history: %v", err)
		}
	}
}

// requireStore fails early with a readable message when the data directory
// holds no storage
func requireStore() (*internal.Store, error) {
	paths := internal.NewDataPaths(cfg.DataDir)
	if !paths.Exists() {
		return nil, fmt.Errorf("no session storage found at %s (use --data-dir)", paths.StorageDir)
	}
	return internal.NewStore(cfg.DataDir), nil
}

// formatWhen renders a timestamp relative to now the way list output does
func formatWhen(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "—"
	}
	diff := now.Sub(t)
	switch {
	case diff < 24*time.Hour:
		return t.Format("Today 15:04")
	case diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	default:
		return t.Format("2006-01-02")
	}
}

// truncate shortens s to max runes
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// openOutput returns the file named by path, or w when path is empty
func openOutput(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	// #nosec G304 -- output path is chosen by the user.
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
