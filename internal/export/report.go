package export

import (
	"time"

	"github.com/iksnae/session-repair/internal"
)

// Report is the outcome of scanning a store, ready to be exported
type Report struct {
	GeneratedAt time.Time       `json:"generated_at" yaml:"generated_at"`
	DataDir     string          `json:"data_dir" yaml:"data_dir"`
	Sessions    []SessionReport `json:"sessions" yaml:"sessions"`
}

// SessionReport is one scanned session
type SessionReport struct {
	SessionID string                      `json:"session_id" yaml:"session_id"`
	ProjectID string                      `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Title     string                      `json:"title,omitempty" yaml:"title,omitempty"`
	Records   []internal.CorruptionRecord `json:"records" yaml:"records"`
	Plan      *internal.RepairPlan        `json:"plan,omitempty" yaml:"plan,omitempty"`
	Error     string                      `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewReport builds a report from scan results. Clean sessions are dropped
// unless includeClean is set.
func NewReport(dataDir string, scans []internal.SessionScan, includeClean bool, now time.Time) *Report {
	r := &Report{GeneratedAt: now.UTC(), DataDir: dataDir, Sessions: make([]SessionReport, 0, len(scans))}
	for _, scan := range scans {
		if scan.Session == nil {
			continue
		}
		if len(scan.Records) == 0 && scan.Err == nil && !includeClean {
			continue
		}
		sr := SessionReport{
			SessionID: scan.Session.ID,
			ProjectID: scan.Session.ProjectID,
			Title:     scan.Session.Title,
			Records:   scan.Records,
		}
		if sr.Records == nil {
			sr.Records = []internal.CorruptionRecord{}
		}
		if scan.Err != nil {
			sr.Error = scan.Err.Error()
		}
		r.Sessions = append(r.Sessions, sr)
	}
	return r
}

// Corrupted returns how many sessions carry at least one record
func (r *Report) Corrupted() int {
	n := 0
	for _, s := range r.Sessions {
		if len(s.Records) > 0 {
			n++
		}
	}
	return n
}

// RecordCount returns the number of records across all sessions
func (r *Report) RecordCount() int {
	n := 0
	for _, s := range r.Sessions {
		n += len(s.Records)
	}
	return n
}
