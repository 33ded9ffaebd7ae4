package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const backupTimeFormat = "20060102T150405.000000000Z"

// BackupInfo summarizes one snapshot for listing
type BackupInfo struct {
	BackupID  string    `json:"backup_id" yaml:"backup_id"`
	SessionID string    `json:"session_id" yaml:"session_id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Strategy  Strategy  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Documents int       `json:"documents" yaml:"documents"`
	Path      string    `json:"path" yaml:"path"`
}

// BackupManager snapshots documents before a repair mutates them and puts
// them back when the repair fails or a user asks for a restore. Snapshots
// are append-only: they are created once, read, and pruned as a whole.
type BackupManager struct {
	dir   string
	store DocumentStore
	now   func() time.Time
}

// NewBackupManager creates a manager writing snapshots below dir
func NewBackupManager(dir string, store DocumentStore) *BackupManager {
	return &BackupManager{
		dir:   dir,
		store: store,
		now:   time.Now,
	}
}

// Dir returns the backup root directory
func (bm *BackupManager) Dir() string {
	return bm.dir
}

// BackupPath returns the directory of a snapshot
func (bm *BackupManager) BackupPath(backupID string) string {
	return filepath.Join(bm.dir, backupID)
}

// NewBackupID names a snapshot after its creation time and session
func NewBackupID(sessionID string, t time.Time) string {
	return t.UTC().Format(backupTimeFormat) + "_session_" + sessionID
}

// backupDocumentPath is where a document lives inside a snapshot directory
func backupDocumentPath(ref DocumentRef) string {
	switch ref.Kind {
	case KindSession:
		return "session.json"
	case KindMessage:
		return path.Join("messages", ref.ID+".json")
	default:
		return path.Join("parts", ref.ID+".json")
	}
}

// Snapshot copies every document the plan touches, plus the session
// document, into a new snapshot directory. The manifest is written last; a
// directory without one is an incomplete snapshot and is removed on failure.
func (bm *BackupManager) Snapshot(ctx context.Context, plan *RepairPlan, sessionRef DocumentRef) (*Manifest, error) {
	refs := plan.Touched()
	hasSession := false
	for _, ref := range refs {
		if ref.Kind == KindSession {
			hasSession = true
			break
		}
	}
	if !hasSession {
		refs = append([]DocumentRef{sessionRef}, refs...)
	}

	createdAt := bm.now().UTC()
	backupID := NewBackupID(plan.SessionID, createdAt)
	dir := bm.BackupPath(backupID)

	if err := os.MkdirAll(bm.dir, 0o755); err != nil {
		return nil, &StorageError{Path: bm.dir, Op: "mkdir", Err: err}
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, &StorageError{Path: dir, Op: "mkdir", Err: err}
	}

	manifest, err := bm.writeSnapshot(ctx, dir, backupID, createdAt, plan, refs)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			LogWarn("Failed to remove incomplete backup %s: %v", dir, rmErr)
		}
		return nil, err
	}

	LogInfo("Backup %s created (%d document(s))", backupID, len(manifest.Documents))
	return manifest, nil
}

func (bm *BackupManager) writeSnapshot(ctx context.Context, dir, backupID string, createdAt time.Time, plan *RepairPlan, refs []DocumentRef) (*Manifest, error) {
	manifest := &Manifest{
		BackupID:  backupID,
		SessionID: plan.SessionID,
		CreatedAt: createdAt,
		Strategy:  plan.Strategy,
		Documents: make([]ManifestDocument, 0, len(refs)),
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := bm.store.ReadDocument(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ref, err)
		}
		backupPath := backupDocumentPath(ref)
		target := filepath.Join(dir, filepath.FromSlash(backupPath))
		if err := writeFileAtomic(target, data, 0o644); err != nil {
			return nil, &StorageError{Path: target, Op: "write", Err: err}
		}
		manifest.Documents = append(manifest.Documents, ManifestDocument{
			Kind:         ref.Kind,
			ID:           ref.ID,
			Parent:       ref.Parent,
			OriginalPath: ref.RelPath(),
			BackupPath:   backupPath,
			SHA256:       checksum(data),
			Size:         int64(len(data)),
		})
	}

	data, err := manifest.Seal()
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(dir, manifestFileName)
	if err := writeFileAtomic(manifestPath, data, 0o644); err != nil {
		return nil, &StorageError{Path: manifestPath, Op: "write", Err: err}
	}
	return manifest, nil
}

// WithBackup snapshots the plan's documents, runs apply and then verify, and
// restores the snapshot if either fails. Apply is never started unless the
// snapshot is durable.
func (bm *BackupManager) WithBackup(ctx context.Context, plan *RepairPlan, sessionRef DocumentRef, apply, verify func(context.Context) error) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest, err := bm.Snapshot(ctx, plan, sessionRef)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &RepairError{SessionID: plan.SessionID, Kind: ErrBackupFailed, Err: err}
	}

	cause := apply(ctx)
	if cause == nil {
		cause = verify(ctx)
	}
	if cause == nil {
		return manifest, nil
	}

	LogWarn("Repair of %s failed (%v), rolling back from %s", plan.SessionID, cause, manifest.BackupID)
	if rbErr := bm.rollback(manifest); rbErr != nil {
		LogError("Rollback of %s from %s failed: %v", plan.SessionID, manifest.BackupID, rbErr)
		return manifest, &RepairError{
			SessionID: plan.SessionID,
			Kind:      ErrStoreIO,
			Err: fmt.Errorf("rollback after %v failed: %w (restore manually from backup %s)",
				cause, rbErr, manifest.BackupID),
		}
	}
	return manifest, &RepairError{SessionID: plan.SessionID, Kind: ErrRolledBack, Restored: true, Err: cause}
}

// rollback writes every snapshotted document back. It keeps going after a
// failed document so as much as possible is restored.
func (bm *BackupManager) rollback(m *Manifest) error {
	var errs []error
	for _, doc := range m.Documents {
		data, err := bm.readBackupDocument(m.BackupID, doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := bm.store.WriteDocument(doc.Ref(), data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore writes a snapshot's documents back to their original paths. Every
// backed-up file is checked against the manifest before anything is written.
func (bm *BackupManager) Restore(ctx context.Context, backupID string) (*Manifest, error) {
	m, err := bm.LoadManifest(backupID)
	if err != nil {
		return nil, err
	}

	contents := make([][]byte, len(m.Documents))
	for i, doc := range m.Documents {
		data, err := bm.readBackupDocument(backupID, doc)
		if err != nil {
			return nil, err
		}
		contents[i] = data
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, doc := range m.Documents {
		if err := bm.store.WriteDocument(doc.Ref(), contents[i]); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", doc.OriginalPath, err)
		}
	}
	LogInfo("Restored %d document(s) of session %s from %s", len(m.Documents), m.SessionID, backupID)
	return m, nil
}

// LoadManifest reads and validates a snapshot's manifest
func (bm *BackupManager) LoadManifest(backupID string) (*Manifest, error) {
	if err := validateID(backupID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupNotFound, err)
	}
	manifestPath := filepath.Join(bm.BackupPath(backupID), manifestFileName)
	data, err := readFile(manifestPath)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
		}
		return nil, err
	}
	m, err := ParseManifest(manifestPath, data)
	if err != nil {
		return nil, err
	}
	if m.BackupID != backupID {
		return nil, &ParseError{Source: "manifest", Key: manifestPath, Err: fmt.Errorf("%w: manifest names backup %s", ErrBackupCorrupted, m.BackupID)}
	}
	return m, nil
}

func (bm *BackupManager) readBackupDocument(backupID string, doc ManifestDocument) ([]byte, error) {
	clean := path.Clean(doc.BackupPath)
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return nil, fmt.Errorf("%w: backup path %q escapes the snapshot", ErrBackupCorrupted, doc.BackupPath)
	}
	p := filepath.Join(bm.BackupPath(backupID), filepath.FromSlash(clean))
	data, err := readFile(p)
	if err != nil {
		return nil, err
	}
	if checksum(data) != doc.SHA256 || int64(len(data)) != doc.Size {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", ErrBackupCorrupted, p)
	}
	return data, nil
}

// Verify checks every document of a snapshot against its manifest without
// writing anything. Each damaged document yields one problem.
func (bm *BackupManager) Verify(backupID string) (*Manifest, []error, error) {
	m, err := bm.LoadManifest(backupID)
	if err != nil {
		return nil, nil, err
	}
	var problems []error
	for _, doc := range m.Documents {
		if _, err := bm.readBackupDocument(backupID, doc); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", doc.OriginalPath, err))
		}
	}
	return m, problems, nil
}

// ListBackups returns complete snapshots, newest first. An empty sessionID
// lists snapshots of every session.
func (bm *BackupManager) ListBackups(sessionID string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(bm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, &StorageError{Path: bm.dir, Op: "list", Err: err}
	}

	backups := make([]BackupInfo, 0)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.Contains(name, "_session_") {
			continue
		}
		if sessionID != "" && !strings.HasSuffix(name, "_session_"+sessionID) {
			continue
		}
		m, err := bm.LoadManifest(name)
		if err != nil {
			if errors.Is(err, ErrBackupNotFound) {
				LogDebug("Skipping incomplete backup %s", name)
			} else {
				LogWarn("Skipping unreadable backup %s: %v", name, err)
			}
			continue
		}
		backups = append(backups, BackupInfo{
			BackupID:  m.BackupID,
			SessionID: m.SessionID,
			CreatedAt: m.CreatedAt,
			Strategy:  m.Strategy,
			Documents: len(m.Documents),
			Path:      bm.BackupPath(name),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Prune deletes all but the newest keep snapshots of a session. Snapshots
// are only ever deleted whole.
func (bm *BackupManager) Prune(sessionID string, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must be >= 0, got %d", keep)
	}
	backups, err := bm.ListBackups(sessionID)
	if err != nil {
		return nil, err
	}
	if len(backups) <= keep {
		return []string{}, nil
	}

	removed := make([]string, 0, len(backups)-keep)
	for _, b := range backups[keep:] {
		if err := os.RemoveAll(b.Path); err != nil {
			return removed, &StorageError{Path: b.Path, Op: "delete", Err: err}
		}
		removed = append(removed, b.BackupID)
		LogInfo("Pruned backup %s", b.BackupID)
	}
	return removed, nil
}
