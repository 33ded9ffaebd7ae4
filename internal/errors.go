package internal

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the repair pipeline
var (
	ErrNoCorruptionFound = errors.New("no corruption found")
	ErrUnrepairable      = errors.New("unrepairable")
	ErrSessionLocked     = errors.New("session locked")
	ErrBackupFailed      = errors.New("backup failed")
	ErrRolledBack        = errors.New("rolled back")
	ErrBackupNotFound    = errors.New("backup not found")
	ErrBackupCorrupted   = errors.New("backup corrupted")
	ErrStoreIO           = errors.New("store I/O error")
	ErrNotFound          = errors.New("document not found")
)

// StorageError represents errors accessing documents on disk
type StorageError struct {
	Path string
	Op   string // "read", "write", "delete", "list", "rename"
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is lets callers match any storage failure against ErrStoreIO
func (e *StorageError) Is(target error) bool {
	return target == ErrStoreIO
}

// ParseError represents errors decoding a stored document
type ParseError struct {
	Source string // "session", "message", "part", "manifest"
	Key    string // document id or file path
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error [%s] %s: %v", e.Source, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RepairError reports a failed repair for one session. Kind is one of the
// sentinel errors above; Err carries the underlying cause when there is one.
type RepairError struct {
	SessionID string
	Kind      error
	Restored  bool
	Err       error
}

func (e *RepairError) Error() string {
	var msg string
	switch {
	case e.Err == nil:
		msg = fmt.Sprintf("repair error [%s] %v", e.SessionID, e.Kind)
	case errors.Is(e.Err, e.Kind):
		msg = fmt.Sprintf("repair error [%s] %v", e.SessionID, e.Err)
	default:
		msg = fmt.Sprintf("repair error [%s] %v: %v", e.SessionID, e.Kind, e.Err)
	}
	if e.Restored {
		msg += " (store restored to its pre-repair state)"
	}
	return msg
}

func (e *RepairError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
