package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iksnae/session-repair/testutil"
)

func TestWriteFileAtomic(t *testing.T) {
	tmpDir := testutil.CreateTempDir(t)
	dst := filepath.Join(tmpDir, "nested", "doc.json")

	if err := writeFileAtomic(dst, []byte(`{"v":1}`), 0644); err != nil {
		t.Fatalf("writeFileAtomic() error = %v", err)
	}
	if err := writeFileAtomic(dst, []byte(`{"v":2}`), 0644); err != nil {
		t.Fatalf("writeFileAtomic() overwrite error = %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("Failed to read destination: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("content = %s, want the second write", got)
	}

	// no temp files left next to the document
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want 1", len(entries))
	}
}

func TestWriteFileAtomic_ParentIsFile(t *testing.T) {
	tmpDir := testutil.CreateTempDir(t)
	blocker := filepath.Join(tmpDir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(filepath.Join(blocker, "doc.json"), []byte("{}"), 0644); err == nil {
		t.Error("writeFileAtomic() should fail when the parent is a file")
	}
}
