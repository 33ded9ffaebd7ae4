package internal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the terminal state of a repair or restore
type Status string

const (
	StatusRepaired          Status = "repaired"
	StatusNoCorruptionFound Status = "no-corruption-found"
	StatusUnrepairable      Status = "unrepairable"
	StatusRolledBack        Status = "rolled-back"
	StatusSessionLocked     Status = "session-locked"
	StatusBackupFailed      Status = "backup-failed"
	StatusCancelled         Status = "cancelled"
	StatusRestored          Status = "restored"
	StatusFailed            Status = "failed"
)

// RepairResult reports what a repair did
type RepairResult struct {
	Status       Status      `json:"status" yaml:"status"`
	SessionID    string      `json:"session_id" yaml:"session_id"`
	BackupID     string      `json:"backup_id,omitempty" yaml:"backup_id,omitempty"`
	RecordsFixed int         `json:"records_fixed" yaml:"records_fixed"`
	Plan         *RepairPlan `json:"plan,omitempty" yaml:"plan,omitempty"`
}

// RepairOptions tunes a single repair
type RepairOptions struct {
	Strategy Strategy
	// IncludeInferred lets a session with only inferred records be repaired.
	// Definite records always take precedence.
	IncludeInferred bool
}

// StatusFromError maps a pipeline error to the status it terminates with
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusRepaired
	case errors.Is(err, ErrNoCorruptionFound):
		return StatusNoCorruptionFound
	case errors.Is(err, ErrSessionLocked):
		return StatusSessionLocked
	case errors.Is(err, ErrBackupFailed):
		return StatusBackupFailed
	case errors.Is(err, ErrRolledBack):
		return StatusRolledBack
	case errors.Is(err, ErrUnrepairable):
		return StatusUnrepairable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Repairer runs the scan, plan, backup, apply and verify pipeline for one
// session at a time under the session lock
type Repairer struct {
	store          DocumentStore
	scanner        *Scanner
	verifier       *Verifier
	backups        *BackupManager
	locker         *SessionLocker
	history        *History
	repairInferred bool
	now            func() time.Time

	verify func(ctx context.Context, sessionID string, plan *RepairPlan) (VerificationResult, error)
}

// NewRepairer wires the pipeline for a store from the configuration
func NewRepairer(store DocumentStore, cfg Config) *Repairer {
	scanner := NewScanner(store, cfg.History)
	r := &Repairer{
		store:          store,
		scanner:        scanner,
		verifier:       NewVerifier(store, scanner),
		backups:        NewBackupManager(cfg.BackupDir, store),
		locker:         NewSessionLocker(cfg.LocksDir(), cfg.LockStaleAfter),
		repairInferred: cfg.RepairInferred,
		now:            time.Now,
	}
	r.verify = r.verifier.Verify
	return r
}

// WithHistory journals every repair and restore into h
func (r *Repairer) WithHistory(h *History) *Repairer {
	r.history = h
	return r
}

// Scanner returns the scanner the pipeline uses
func (r *Repairer) Scanner() *Scanner {
	return r.scanner
}

// Backups returns the backup manager the pipeline uses
func (r *Repairer) Backups() *BackupManager {
	return r.backups
}

// Scan returns the corruption records of a session without changing anything
func (r *Repairer) Scan(ctx context.Context, sessionID string) ([]CorruptionRecord, error) {
	return r.scanner.Scan(ctx, sessionID)
}

// ScanAll scans every session in the store
func (r *Repairer) ScanAll(ctx context.Context, concurrency int) ([]SessionScan, error) {
	return r.scanner.ScanAll(ctx, concurrency)
}

// Plan scans a session and returns the plan a repair would apply, without
// taking the lock or touching the store
func (r *Repairer) Plan(ctx context.Context, sessionID string, opts RepairOptions) (*RepairPlan, error) {
	g, err := LoadGraph(r.store, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return PlanRepair(g, r.actionable(r.scanner.ScanGraph(g), opts), r.strategyOf(opts))
}

// Repair repairs a session with the given strategy
func (r *Repairer) Repair(ctx context.Context, sessionID string, strategy Strategy) (RepairResult, error) {
	return r.RepairWithOptions(ctx, sessionID, RepairOptions{Strategy: strategy})
}

// RepairWithOptions runs the full pipeline. The store is always re-scanned;
// a session that was already repaired reports no-corruption-found.
func (r *Repairer) RepairWithOptions(ctx context.Context, sessionID string, opts RepairOptions) (RepairResult, error) {
	strategy := r.strategyOf(opts)
	result, err := r.repair(ctx, sessionID, opts)
	r.record(ctx, HistoryEntry{
		SessionID:    sessionID,
		Action:       "repair",
		Strategy:     strategy,
		Status:       result.Status,
		BackupID:     result.BackupID,
		RecordsFixed: result.RecordsFixed,
		Error:        errorString(err),
	})
	return result, err
}

func (r *Repairer) repair(ctx context.Context, sessionID string, opts RepairOptions) (RepairResult, error) {
	result := RepairResult{SessionID: sessionID}
	fail := func(status Status, kind, cause error) (RepairResult, error) {
		result.Status = status
		return result, &RepairError{SessionID: sessionID, Kind: kind, Err: cause}
	}

	release, err := r.locker.Acquire(sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionLocked) {
			result.Status = StatusSessionLocked
			return result, &RepairError{SessionID: sessionID, Kind: ErrSessionLocked, Err: err}
		}
		return fail(StatusFailed, ErrStoreIO, err)
	}
	defer release()

	if err := ctx.Err(); err != nil {
		result.Status = StatusCancelled
		return result, err
	}

	g, err := LoadGraph(r.store, sessionID)
	if err != nil {
		return fail(StatusFailed, ErrStoreIO, err)
	}

	records := r.actionable(r.scanner.ScanGraph(g), opts)
	if len(records) == 0 {
		LogInfo("No corruption found in %s", sessionID)
		result.Status = StatusNoCorruptionFound
		return result, nil
	}

	plan, err := PlanRepair(g, records, r.strategyOf(opts))
	if err != nil {
		if errors.Is(err, ErrUnrepairable) {
			result.Status = StatusUnrepairable
			return result, &RepairError{SessionID: sessionID, Kind: ErrUnrepairable, Err: err}
		}
		return fail(StatusFailed, ErrStoreIO, err)
	}
	result.Plan = plan
	LogInfo("Repairing %s: %s", sessionID, plan.Summary())

	apply := func(ctx context.Context) error {
		for i, op := range plan.Operations {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("cancelled after %d of %d operation(s): %w", i, len(plan.Operations), err)
			}
			if err := r.applyOperation(op); err != nil {
				return fmt.Errorf("failed to apply %s: %w", op, err)
			}
		}
		return nil
	}
	verify := func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled before verification: %w", err)
		}
		res, err := r.verify(ctx, sessionID, plan)
		if err != nil {
			return fmt.Errorf("failed to verify: %w", err)
		}
		return res.Err()
	}

	manifest, err := r.backups.WithBackup(ctx, plan, g.SessionRef(), apply, verify)
	if manifest != nil {
		result.BackupID = manifest.BackupID
	}
	if err != nil {
		result.Status = StatusFromError(err)
		return result, err
	}

	result.Status = StatusRepaired
	result.RecordsFixed = len(plan.Records)
	LogInfo("Repaired %s (%d record(s), backup %s)", sessionID, result.RecordsFixed, result.BackupID)
	return result, nil
}

// actionable picks the records a repair acts on: the definite ones, or the
// inferred ones when nothing definite exists and inferred repair is enabled
func (r *Repairer) actionable(records []CorruptionRecord, opts RepairOptions) []CorruptionRecord {
	if len(records) == 0 || records[0].Confidence == ConfidenceDefinite {
		return records
	}
	if opts.IncludeInferred || r.repairInferred {
		return records
	}
	LogInfo("%d inferred record(s) found; inferred repair is not enabled", len(records))
	return nil
}

func (r *Repairer) strategyOf(opts RepairOptions) Strategy {
	if opts.Strategy == "" {
		return StrategyAuto
	}
	return opts.Strategy
}

// applyOperation performs one plan step through the store. Edits re-read
// the current document so unknown keys are carried over.
func (r *Repairer) applyOperation(op Operation) error {
	switch op.Kind {
	case OpDeletePart, OpDeleteMessage:
		return r.store.DeleteDocument(op.Ref)
	case OpClearError:
		raw, err := r.store.ReadDocument(op.Ref)
		if err != nil {
			return err
		}
		edited, err := clearMessageError(raw)
		if err != nil {
			return &ParseError{Source: string(KindMessage), Key: op.Ref.ID, Err: err}
		}
		return r.store.WriteDocument(op.Ref, edited)
	case OpTouchSession:
		raw, err := r.store.ReadDocument(op.Ref)
		if err != nil {
			return err
		}
		edited, err := touchSession(raw, r.now(), op.DropRevert)
		if err != nil {
			return &ParseError{Source: string(KindSession), Key: op.Ref.ID, Err: err}
		}
		return r.store.WriteDocument(op.Ref, edited)
	default:
		return fmt.Errorf("unknown operation %q", op.Kind)
	}
}

// Restore puts a backup's documents back under the session lock. An unknown
// backup id is rejected before anything is written.
func (r *Repairer) Restore(ctx context.Context, backupID string) (*Manifest, error) {
	m, err := r.backups.LoadManifest(backupID)
	if err != nil {
		return nil, err
	}

	release, err := r.locker.Acquire(m.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	restored, err := r.backups.Restore(ctx, backupID)
	status := StatusRestored
	if err != nil {
		status = StatusFailed
	}
	r.record(ctx, HistoryEntry{
		SessionID: m.SessionID,
		Action:    "restore",
		Status:    status,
		BackupID:  backupID,
		Error:     errorString(err),
	})
	return restored, err
}

// ListBackups lists the complete backups of a session, newest first
func (r *Repairer) ListBackups(sessionID string) ([]BackupInfo, error) {
	return r.backups.ListBackups(sessionID)
}

// PruneBackups keeps the newest keep backups of a session
func (r *Repairer) PruneBackups(sessionID string, keep int) ([]string, error) {
	release, err := r.locker.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.backups.Prune(sessionID, keep)
}

func (r *Repairer) record(ctx context.Context, e HistoryEntry) {
	if r.history == nil {
		return
	}
	e.CreatedAt = r.now()
	// The journal must not turn a finished repair into a failure.
	if err := r.history.Record(context.WithoutCancel(ctx), e); err != nil {
		LogWarn("Failed to journal %s of %s: %v", e.Action, e.SessionID, err)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
