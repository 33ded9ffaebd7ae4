package internal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/session-repair/testutil"
)

// faultStore fails the n-th mutating call (1-based) once and passes
// everything else through
type faultStore struct {
	DocumentStore
	mu        sync.Mutex
	failAt    int
	mutations int
}

func (s *faultStore) mutate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations++
	if s.mutations == s.failAt {
		return &StorageError{Path: "injected", Op: "write", Err: errors.New("injected fault")}
	}
	return nil
}

func (s *faultStore) WriteDocument(ref DocumentRef, data []byte) error {
	if err := s.mutate(); err != nil {
		return err
	}
	return s.DocumentStore.WriteDocument(ref, data)
}

func (s *faultStore) DeleteDocument(ref DocumentRef) error {
	if err := s.mutate(); err != nil {
		return err
	}
	return s.DocumentStore.DeleteDocument(ref)
}

// cancelStore cancels a context once the first deletion has gone through
type cancelStore struct {
	DocumentStore
	cancel context.CancelFunc
	once   sync.Once
}

func (s *cancelStore) DeleteDocument(ref DocumentRef) error {
	err := s.DocumentStore.DeleteDocument(ref)
	s.once.Do(s.cancel)
	return err
}

func newTestRepairer(t *testing.T, f *testutil.StoreFixture) *Repairer {
	t.Helper()
	r := NewRepairer(NewStore(f.Root), newTestConfig(f))
	r.now = func() time.Time { return time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC) }
	return r
}

func TestRepairer_ScenarioA(t *testing.T) {
	f := scenarioA(t)
	r := newTestRepairer(t, f)
	before := testutil.SnapshotTree(t, f.StorageDir())

	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if result.Status != StatusRepaired || result.RecordsFixed != 1 || result.BackupID == "" {
		t.Errorf("Repair() = %+v", result)
	}
	if result.Plan.Strategy != StrategyRemoveParts {
		t.Errorf("strategy = %s, want remove-parts", result.Plan.Strategy)
	}

	after := testutil.SnapshotTree(t, f.StorageDir())
	if _, ok := after["part/msg_002/prt_002.json"]; ok {
		t.Error("corrupt reasoning part still present")
	}

	// only the planned documents changed
	changed := map[string]bool{
		"part/msg_002/prt_002.json":  true,
		"message/ses_a/msg_003.json": true,
		"session/prj_1/ses_a.json":   true,
	}
	for path, data := range before {
		if changed[path] {
			continue
		}
		if string(after[path]) != string(data) {
			t.Errorf("%s changed but was not part of the plan", path)
		}
	}

	g := loadTestGraph(t, f)
	if g.Messages["msg_003"].HasError() {
		t.Error("symptom error was not cleared")
	}
	if got := g.Session.GetUpdatedAt(); !got.Equal(r.now()) {
		t.Errorf("session updated = %v, want %v", got, r.now())
	}
}

func TestRepairer_ScenarioB(t *testing.T) {
	f := scenarioB(t)
	r := newTestRepairer(t, f)
	userMsg := testutil.SnapshotTree(t, filepath.Join(f.StorageDir(), "part", "msg_001"))

	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if result.Plan.Strategy != StrategyTruncate || result.Plan.TruncateIndex != 1 {
		t.Fatalf("plan = %s at %d, want truncate at 1", result.Plan.Strategy, result.Plan.TruncateIndex)
	}

	g := loadTestGraph(t, f)
	if !equalStrings(g.MessageOrder, []string{"msg_001"}) {
		t.Errorf("messages after truncation = %v", g.MessageOrder)
	}
	for _, gone := range []string{f.PartPath("msg_002", "prt_002"), f.PartPath("msg_003", "prt_004"), f.MessagePath(testSession, "msg_003")} {
		if testutil.FileExists(gone) {
			t.Errorf("%s survived truncation", gone)
		}
	}
	testutil.AssertTreesEqual(t, userMsg, testutil.SnapshotTree(t, filepath.Join(f.StorageDir(), "part", "msg_001")))
}

func TestRepairer_RemovePartsUnrepairable(t *testing.T) {
	f := scenarioB(t)
	r := newTestRepairer(t, f)
	before := testutil.SnapshotTree(t, f.Root)

	result, err := r.Repair(context.Background(), testSession, StrategyRemoveParts)
	if !errors.Is(err, ErrUnrepairable) || result.Status != StatusUnrepairable {
		t.Fatalf("Repair() = %s, %v; want unrepairable", result.Status, err)
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.Root))
}

func TestRepairer_ScenarioC_SessionLocked(t *testing.T) {
	f := scenarioA(t)
	r := newTestRepairer(t, f)
	before := testutil.SnapshotTree(t, f.StorageDir())

	release, err := r.locker.Acquire(testSession)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if !errors.Is(err, ErrSessionLocked) || result.Status != StatusSessionLocked {
		t.Fatalf("Repair() = %s, %v; want session-locked", result.Status, err)
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.StorageDir()))
}

func TestRepairer_ConcurrentRepairs(t *testing.T) {
	f := scenarioA(t)
	cfg := newTestConfig(f)
	first := NewRepairer(NewStore(f.Root), cfg)
	second := NewRepairer(NewStore(f.Root), cfg)

	var wg sync.WaitGroup
	statuses := make([]Status, 2)
	for i, r := range []*Repairer{first, second} {
		wg.Add(1)
		go func(i int, r *Repairer) {
			defer wg.Done()
			result, _ := r.Repair(context.Background(), testSession, StrategyAuto)
			statuses[i] = result.Status
		}(i, r)
	}
	wg.Wait()

	counts := map[Status]int{}
	for _, s := range statuses {
		counts[s]++
	}
	// either they overlapped and one was turned away, or they ran one after
	// the other and the second found nothing left to do
	if counts[StatusRepaired] != 1 || counts[StatusSessionLocked]+counts[StatusNoCorruptionFound] != 1 {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestRepairer_ScenarioD_UnknownBackup(t *testing.T) {
	f := scenarioA(t)
	r := newTestRepairer(t, f)
	if _, err := r.Repair(context.Background(), testSession, StrategyAuto); err != nil {
		t.Fatal(err)
	}
	before := testutil.SnapshotTree(t, f.Root)

	_, err := r.Restore(context.Background(), "20200101T000000.000000000Z_session_"+testSession)
	if !errors.Is(err, ErrBackupNotFound) {
		t.Fatalf("Restore() error = %v, want ErrBackupNotFound", err)
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.Root))
}

func TestRepairer_Idempotent(t *testing.T) {
	for _, scenario := range []func(*testing.T) *testutil.StoreFixture{scenarioA, scenarioB} {
		f := scenario(t)
		r := newTestRepairer(t, f)
		if _, err := r.Repair(context.Background(), testSession, StrategyAuto); err != nil {
			t.Fatalf("first Repair() error = %v", err)
		}
		after := testutil.SnapshotTree(t, f.StorageDir())

		result, err := r.Repair(context.Background(), testSession, StrategyAuto)
		if err != nil || result.Status != StatusNoCorruptionFound {
			t.Errorf("second Repair() = %s, %v; want no-corruption-found", result.Status, err)
		}
		testutil.AssertTreesEqual(t, after, testutil.SnapshotTree(t, f.StorageDir()))

		records, err := r.Scan(context.Background(), testSession)
		if err != nil || len(records) != 0 {
			t.Errorf("Scan() after repair = %v, %v", records, err)
		}
	}
}

func TestRepairer_RollsBackOnFault(t *testing.T) {
	// mutations: 1 delete part, 2 clear error, 3 touch session
	for _, failAt := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("fault at mutation %d", failAt), func(t *testing.T) {
			f := scenarioA(t)
			cfg := newTestConfig(f)
			r := NewRepairer(&faultStore{DocumentStore: NewStore(f.Root), failAt: failAt}, cfg)
			before := testutil.SnapshotTree(t, f.StorageDir())

			result, err := r.Repair(context.Background(), testSession, StrategyAuto)
			if !errors.Is(err, ErrRolledBack) || result.Status != StatusRolledBack {
				t.Fatalf("Repair() = %s, %v; want rolled-back", result.Status, err)
			}
			if result.BackupID == "" {
				t.Error("rolled-back result should name its backup")
			}
			testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.StorageDir()))
		})
	}
}

func TestRepairer_TruncateRollsBackOnFault(t *testing.T) {
	// mutations: 1-5 delete prt_004, msg_003, prt_003, prt_002, msg_002;
	// 6 touch session
	for _, failAt := range []int{1, 3, 5, 6} {
		t.Run(fmt.Sprintf("fault at mutation %d", failAt), func(t *testing.T) {
			f := scenarioB(t)
			r := NewRepairer(&faultStore{DocumentStore: NewStore(f.Root), failAt: failAt}, newTestConfig(f))
			before := testutil.SnapshotTree(t, f.StorageDir())

			result, err := r.RepairWithOptions(context.Background(), testSession, RepairOptions{Strategy: StrategyTruncate})
			if !errors.Is(err, ErrRolledBack) || result.Status != StatusRolledBack {
				t.Fatalf("RepairWithOptions() = %s, %v; want rolled-back", result.Status, err)
			}
			testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.StorageDir()))
		})
	}
}

func TestRepairer_CancelledMidApply(t *testing.T) {
	f := scenarioB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRepairer(&cancelStore{DocumentStore: NewStore(f.Root), cancel: cancel}, newTestConfig(f))
	before := testutil.SnapshotTree(t, f.StorageDir())

	result, err := r.RepairWithOptions(ctx, testSession, RepairOptions{Strategy: StrategyTruncate})
	if !errors.Is(err, ErrRolledBack) || result.Status != StatusRolledBack {
		t.Fatalf("RepairWithOptions() = %s, %v; want rolled-back", result.Status, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should carry the cancellation: %v", err)
	}
	if result.BackupID == "" {
		t.Error("rolled-back result should name its backup")
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.StorageDir()))
}

func TestRepairer_FallbackTruncatesAtForeignReasoning(t *testing.T) {
	f := writeTurns(t, []turn{claude, claude, glm, claude}, "messages.40.content.0")
	r := newTestRepairer(t, f)

	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if result.Plan.Strategy != StrategyTruncate || result.Plan.TruncateIndex != 5 {
		t.Fatalf("plan = %s at %d, want truncate at 5", result.Plan.Strategy, result.Plan.TruncateIndex)
	}

	g := loadTestGraph(t, f)
	want := []string{"msg_001", "msg_002", "msg_003", "msg_004", "msg_005"}
	if !equalStrings(g.MessageOrder, want) {
		t.Errorf("messages after truncation = %v, want %v", g.MessageOrder, want)
	}
	if !testutil.FileExists(f.PartPath("msg_004", "prt_004_1")) {
		t.Error("reasoning signed by the current provider was removed")
	}
}

func TestRepairer_TruncateInferred(t *testing.T) {
	// the repair leaves a user message addressed to glm as the latest one
	f := writeTurns(t, []turn{claude, glm, claude}, "")
	r := newTestRepairer(t, f)

	result, err := r.RepairWithOptions(context.Background(), testSession, RepairOptions{
		Strategy:        StrategyTruncate,
		IncludeInferred: true,
	})
	if err != nil {
		t.Fatalf("RepairWithOptions() error = %v", err)
	}
	if result.Status != StatusRepaired || result.Plan.TruncateIndex != 3 {
		t.Fatalf("RepairWithOptions() = %s at %d, want repaired at 3", result.Status, result.Plan.TruncateIndex)
	}
	if result.Plan.ActiveProvider != "anthropic" || result.Plan.ActiveModel != "claude-sonnet-4" {
		t.Errorf("plan origin = %s/%s", result.Plan.ActiveProvider, result.Plan.ActiveModel)
	}

	g := loadTestGraph(t, f)
	if !equalStrings(g.MessageOrder, []string{"msg_001", "msg_002", "msg_003"}) {
		t.Errorf("messages after truncation = %v", g.MessageOrder)
	}
	if !testutil.FileExists(f.PartPath("msg_002", "prt_002_1")) {
		t.Error("claude reasoning before the truncation point was removed")
	}
}

func TestRepairer_RollsBackOnFailedVerification(t *testing.T) {
	f := scenarioB(t)
	r := newTestRepairer(t, f)
	r.verify = func(_ context.Context, sessionID string, _ *RepairPlan) (VerificationResult, error) {
		return VerificationResult{SessionID: sessionID, Problems: []string{"forced failure"}}, nil
	}
	before := testutil.SnapshotTree(t, f.StorageDir())

	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if !errors.Is(err, ErrRolledBack) || result.Status != StatusRolledBack {
		t.Fatalf("Repair() = %s, %v; want rolled-back", result.Status, err)
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.StorageDir()))
}

func TestRepairer_BackupFailure(t *testing.T) {
	f := scenarioA(t)
	cfg := newTestConfig(f)
	// a file where the backup directory should be
	if err := writeRaw(cfg.BackupDir, "not a directory"); err != nil {
		t.Fatal(err)
	}
	cfg.BackupDir = filepath.Join(cfg.BackupDir, "nested")
	r := NewRepairer(NewStore(f.Root), cfg)
	// keep locks somewhere writable
	r.locker = NewSessionLocker(filepath.Join(f.Root, "locks"), time.Minute)
	before := testutil.SnapshotTree(t, f.StorageDir())

	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if !errors.Is(err, ErrBackupFailed) || result.Status != StatusBackupFailed {
		t.Fatalf("Repair() = %s, %v; want backup-failed", result.Status, err)
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.StorageDir()))
}

func TestRepairer_Cancelled(t *testing.T) {
	f := scenarioA(t)
	r := newTestRepairer(t, f)
	before := testutil.SnapshotTree(t, f.Root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Repair(ctx, testSession, StrategyAuto)
	if !errors.Is(err, context.Canceled) || result.Status != StatusCancelled {
		t.Fatalf("Repair() = %s, %v; want cancelled", result.Status, err)
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.Root))
}

func TestRepairer_InferredOnly(t *testing.T) {
	tests := []struct {
		name       string
		opts       RepairOptions
		configured bool
		want       Status
	}{
		{"not enabled", RepairOptions{}, false, StatusNoCorruptionFound},
		{"option", RepairOptions{IncludeInferred: true}, false, StatusRepaired},
		{"config", RepairOptions{}, true, StatusRepaired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := writeScenario(t, "")
			cfg := newTestConfig(f)
			cfg.RepairInferred = tt.configured
			r := NewRepairer(NewStore(f.Root), cfg)

			result, err := r.RepairWithOptions(context.Background(), testSession, tt.opts)
			if err != nil {
				t.Fatalf("RepairWithOptions() error = %v", err)
			}
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s", result.Status, tt.want)
			}
			if tt.want == StatusRepaired && testutil.FileExists(f.PartPath("msg_002", "prt_002")) {
				t.Error("inferred reasoning part was not removed")
			}
		})
	}
}

func TestRepairer_PlanIsDryRun(t *testing.T) {
	f := scenarioB(t)
	r := newTestRepairer(t, f)
	before := testutil.SnapshotTree(t, f.Root)

	plan, err := r.Plan(context.Background(), testSession, RepairOptions{})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Strategy != StrategyTruncate {
		t.Errorf("strategy = %s", plan.Strategy)
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.Root))
}

func TestRepairer_RestoreRoundTrip(t *testing.T) {
	f := scenarioB(t)
	r := newTestRepairer(t, f)
	before := testutil.SnapshotTree(t, f.StorageDir())

	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if err != nil {
		t.Fatal(err)
	}

	m, err := r.Restore(context.Background(), result.BackupID)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if m.SessionID != testSession {
		t.Errorf("restored session = %s", m.SessionID)
	}
	testutil.AssertTreesEqual(t, before, testutil.SnapshotTree(t, f.StorageDir()))

	backups, err := r.ListBackups(testSession)
	if err != nil || len(backups) != 1 {
		t.Errorf("ListBackups() = %v, %v", backups, err)
	}
}

func TestRepairer_History(t *testing.T) {
	f := scenarioA(t)
	cfg := newTestConfig(f)
	h, err := OpenHistory(cfg.HistoryPath())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	r := NewRepairer(NewStore(f.Root), cfg).WithHistory(h)

	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Repair(context.Background(), testSession, StrategyAuto); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Restore(context.Background(), result.BackupID); err != nil {
		t.Fatal(err)
	}

	entries, err := h.List(context.Background(), testSession, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() = %d entries, want 3", len(entries))
	}
	want := []struct {
		action string
		status Status
	}{
		{"restore", StatusRestored},
		{"repair", StatusNoCorruptionFound},
		{"repair", StatusRepaired},
	}
	for i, w := range want {
		if entries[i].Action != w.action || entries[i].Status != w.status {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, entries[i].Action, entries[i].Status, w.action, w.status)
		}
	}
	if entries[2].BackupID != result.BackupID || entries[2].RecordsFixed != 1 {
		t.Errorf("repair entry = %+v", entries[2])
	}
}

func TestRepairer_PruneBackups(t *testing.T) {
	f := scenarioA(t)
	r := newTestRepairer(t, f)
	result, err := r.Repair(context.Background(), testSession, StrategyAuto)
	if err != nil {
		t.Fatal(err)
	}

	removed, err := r.PruneBackups(testSession, 0)
	if err != nil {
		t.Fatalf("PruneBackups() error = %v", err)
	}
	if !equalStrings(removed, []string{result.BackupID}) {
		t.Errorf("PruneBackups() = %v", removed)
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusRepaired},
		{&RepairError{Kind: ErrRolledBack, Restored: true}, StatusRolledBack},
		{&RepairError{Kind: ErrBackupFailed, Err: errors.New("disk")}, StatusBackupFailed},
		{fmt.Errorf("wrapped: %w", ErrSessionLocked), StatusSessionLocked},
		{ErrUnrepairable, StatusUnrepairable},
		{context.DeadlineExceeded, StatusCancelled},
		{errors.New("boom"), StatusFailed},
	}
	for _, tt := range tests {
		if got := StatusFromError(tt.err); got != tt.want {
			t.Errorf("StatusFromError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
