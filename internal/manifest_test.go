package internal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func sampleManifest() *Manifest {
	data := []byte(`{"id":"prt_1"}`)
	return &Manifest{
		BackupID:  "20250101T000000.000000000Z_session_ses_1",
		SessionID: "ses_1",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Strategy:  StrategyRemoveParts,
		Documents: []ManifestDocument{{
			Kind:         KindPart,
			ID:           "prt_1",
			Parent:       "msg_1",
			OriginalPath: "storage/part/msg_1/prt_1.json",
			BackupPath:   "parts/prt_1.json",
			SHA256:       checksum(data),
			Size:         int64(len(data)),
		}},
	}
}

func TestManifest_SealAndParse(t *testing.T) {
	m := sampleManifest()
	data, err := m.Seal()
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if len(m.Digest) != 64 {
		t.Errorf("Digest = %q, want 64 hex chars", m.Digest)
	}

	parsed, err := ParseManifest("manifest.json", data)
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if parsed.BackupID != m.BackupID || len(parsed.Documents) != 1 || parsed.Digest != m.Digest {
		t.Errorf("ParseManifest() = %+v", parsed)
	}
	if parsed.Documents[0].Ref() != (DocumentRef{Kind: KindPart, ID: "prt_1", Parent: "msg_1"}) {
		t.Errorf("Ref() = %+v", parsed.Documents[0].Ref())
	}
}

func TestManifest_DigestIgnoresFormatting(t *testing.T) {
	m := sampleManifest()
	if _, err := m.Seal(); err != nil {
		t.Fatal(err)
	}
	compact, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseManifest("manifest.json", compact); err != nil {
		t.Errorf("ParseManifest() of compact encoding error = %v", err)
	}
}

func TestParseManifest_Rejects(t *testing.T) {
	sealed := func(mutate func(m *Manifest)) []byte {
		m := sampleManifest()
		data, err := m.Seal()
		if err != nil {
			t.Fatal(err)
		}
		if mutate == nil {
			return data
		}
		mutate(m)
		out, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"tampered document", sealed(func(m *Manifest) { m.Documents[0].Size = 99 })},
		{"tampered session", sealed(func(m *Manifest) { m.SessionID = "ses_2" })},
		{"missing digest", sealed(func(m *Manifest) { m.Digest = "" })},
		{"bad checksum format", sealed(func(m *Manifest) { m.Documents[0].SHA256 = "xyz" })},
		{"no documents", sealed(func(m *Manifest) { m.Documents = nil })},
		{"not json", []byte("{")},
		{"truncated", []byte(strings.TrimSuffix(string(sealed(nil)), "}"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest("manifest.json", tt.data)
			if err == nil {
				t.Fatal("ParseManifest() error = nil")
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("ParseManifest() error = %T, want *ParseError", err)
			}
		})
	}
}
