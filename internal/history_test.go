package internal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/session-repair/testutil"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(testutil.CreateInMemoryDB(t))
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}
	return h
}

func TestHistory_RecordAndList(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	entries := []HistoryEntry{
		{SessionID: "ses_a", Action: "repair", Strategy: StrategyRemoveParts, Status: StatusRepaired, BackupID: "b1", RecordsFixed: 2, CreatedAt: base},
		{SessionID: "ses_b", Action: "repair", Strategy: StrategyAuto, Status: StatusSessionLocked, Error: "session locked", CreatedAt: base.Add(time.Minute)},
		{SessionID: "ses_a", Action: "restore", Status: StatusRestored, BackupID: "b1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := h.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		sessionID string
		limit     int
		wantLen   int
	}{
		{name: "all", wantLen: 3},
		{name: "one session", sessionID: "ses_a", wantLen: 2},
		{name: "limited", limit: 1, wantLen: 1},
		{name: "unknown session", sessionID: "ses_x", wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.List(ctx, tt.sessionID, tt.limit)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("List() = %d entries, want %d", len(got), tt.wantLen)
			}
			for i := 1; i < len(got); i++ {
				if got[i-1].CreatedAt.Before(got[i].CreatedAt) {
					t.Errorf("entries not newest first: %v before %v", got[i-1].CreatedAt, got[i].CreatedAt)
				}
			}
		})
	}

	latest, err := h.List(ctx, "ses_a", 1)
	if err != nil {
		t.Fatal(err)
	}
	e := latest[0]
	if e.Action != "restore" || e.Status != StatusRestored || !e.CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("latest = %+v", e)
	}

	oldest, _ := h.List(ctx, "ses_a", 0)
	if oldest[1].Strategy != StrategyRemoveParts || oldest[1].RecordsFixed != 2 {
		t.Errorf("oldest = %+v", oldest[1])
	}
}

func TestOpenHistory_File(t *testing.T) {
	path := filepath.Join(testutil.CreateTempDir(t), "nested", HistoryFileName)
	h, err := OpenHistory(path)
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	if err := h.Record(context.Background(), HistoryEntry{SessionID: "ses_a", Action: "repair", Status: StatusRepaired}); err != nil {
		t.Fatal(err)
	}
	h.Close()

	reopened, err := OpenHistory(path)
	if err != nil {
		t.Fatalf("OpenHistory() reopen error = %v", err)
	}
	defer reopened.Close()
	got, err := reopened.List(context.Background(), "", 0)
	if err != nil || len(got) != 1 {
		t.Errorf("List() after reopen = %v, %v", got, err)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}
}
