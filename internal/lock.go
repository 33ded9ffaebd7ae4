package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLockStaleAfter is how old a lock file must be before another
// process may take it over
const DefaultLockStaleAfter = 10 * time.Minute

// lockOwner is the body of a lock file
type lockOwner struct {
	Token     string    `json:"token"`
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionLocker serializes repairs and restores per session. Within a process
// an in-memory registry rejects a second holder; across processes an
// exclusively created lock file does. Acquisition never waits.
type SessionLocker struct {
	dir        string
	staleAfter time.Duration

	mu   sync.Mutex
	held map[string]string // session id -> owner token
}

// NewSessionLocker creates a locker keeping lock files in dir
func NewSessionLocker(dir string, staleAfter time.Duration) *SessionLocker {
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	return &SessionLocker{
		dir:        dir,
		staleAfter: staleAfter,
		held:       make(map[string]string),
	}
}

// LockPath returns the lock file of a session
func (l *SessionLocker) LockPath(sessionID string) string {
	return filepath.Join(l.dir, sessionID+".lock")
}

// Acquire takes the lock for a session and returns the function releasing
// it. A held lock yields ErrSessionLocked immediately.
func (l *SessionLocker) Acquire(sessionID string) (func(), error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s is being repaired by this process", ErrSessionLocked, sessionID)
	}

	token := uuid.NewString()
	if err := l.createLockFile(sessionID, token); err != nil {
		return nil, err
	}
	l.held[sessionID] = token
	LogDebug("Acquired lock on %s (%s)", sessionID, token)

	var once sync.Once
	return func() {
		once.Do(func() { l.release(sessionID, token) })
	}, nil
}

func (l *SessionLocker) createLockFile(sessionID, token string) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return &StorageError{Path: l.dir, Op: "mkdir", Err: err}
	}
	lockPath := l.LockPath(sessionID)
	body, err := json.Marshal(lockOwner{Token: token, PID: os.Getpid(), CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		// #nosec G304 -- lock path is derived from a validated session id.
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, writeErr := f.Write(body)
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				_ = os.Remove(lockPath)
				return &StorageError{Path: lockPath, Op: "write", Err: fmt.Errorf("write lock file: %v %v", writeErr, closeErr)}
			}
			return nil
		}
		if !os.IsExist(err) {
			return &StorageError{Path: lockPath, Op: "lock", Err: err}
		}
		if attempt == 0 && l.isStale(lockPath, time.Now().UTC()) {
			LogWarn("Recovering stale lock %s", lockPath)
			_ = os.Remove(lockPath)
			continue
		}
		break
	}

	owner := l.readOwner(lockPath)
	if owner != nil {
		return fmt.Errorf("%w: %s is held by pid %d since %s", ErrSessionLocked, sessionID, owner.PID, owner.CreatedAt.Format(time.RFC3339))
	}
	return fmt.Errorf("%w: %s", ErrSessionLocked, sessionID)
}

// isStale judges a lock by the creation time it records, falling back to
// the file's modification time when the body is unreadable
func (l *SessionLocker) isStale(lockPath string, now time.Time) bool {
	if owner := l.readOwner(lockPath); owner != nil && !owner.CreatedAt.IsZero() {
		return now.Sub(owner.CreatedAt) > l.staleAfter
	}
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime().UTC()) > l.staleAfter
}

func (l *SessionLocker) readOwner(lockPath string) *lockOwner {
	// #nosec G304 -- lock path is derived from a validated session id.
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil
	}
	var owner lockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil
	}
	return &owner
}

func (l *SessionLocker) release(sessionID, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[sessionID] != token {
		return
	}
	delete(l.held, sessionID)

	lockPath := l.LockPath(sessionID)
	// Only remove the file while it still carries our token; a stale-lock
	// takeover may have replaced it.
	if owner := l.readOwner(lockPath); owner == nil || owner.Token == token {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			LogWarn("Failed to remove lock %s: %v", lockPath, err)
		}
	}
	LogDebug("Released lock on %s", sessionID)
}
