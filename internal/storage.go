package internal

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DocumentRef addresses one stored document. Parent is the project id for a
// session, the session id for a message and the message id for a part.
type DocumentRef struct {
	Kind   DocumentKind `json:"kind"`
	ID     string       `json:"id"`
	Parent string       `json:"parent"`
}

// RelPath returns the slash-separated path of the document below the data dir
func (r DocumentRef) RelPath() string {
	return path.Join("storage", string(r.Kind), r.Parent, r.ID+".json")
}

func (r DocumentRef) String() string {
	return fmt.Sprintf("%s %s", r.Kind, r.ID)
}

// SessionRef, MessageRef and PartRef build refs from decoded documents
func SessionRef(s *Session) DocumentRef {
	return DocumentRef{Kind: KindSession, ID: s.ID, Parent: s.ProjectID}
}

func MessageRef(sessionID string, m *Message) DocumentRef {
	return DocumentRef{Kind: KindMessage, ID: m.ID, Parent: sessionID}
}

func PartRef(messageID string, p *Part) DocumentRef {
	return DocumentRef{Kind: KindPart, ID: p.ID, Parent: messageID}
}

// DocumentStore is the document access surface the repair pipeline needs.
// Store is the filesystem implementation; tests wrap it to inject faults.
type DocumentStore interface {
	Root() string
	ListSessions() ([]*Session, error)
	ReadSession(sessionID string) (*Session, error)
	ReadMessage(sessionID, messageID string) (*Message, error)
	ReadPart(messageID, partID string) (*Part, error)
	ListMessages(sessionID string) ([]*Message, error)
	ListParts(messageID string) ([]*Part, error)
	ReadDocument(ref DocumentRef) ([]byte, error)
	WriteDocument(ref DocumentRef, content []byte) error
	DeleteDocument(ref DocumentRef) error
}

// Store reads and writes the session/message/part collections under a data
// directory. It is the only component that touches storage/ directly.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the data directory (the parent of storage/)
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the data directory
func (s *Store) Root() string {
	return s.root
}

// StorageDir returns the storage/ directory
func (s *Store) StorageDir() string {
	return filepath.Join(s.root, "storage")
}

// Path returns the absolute file path of a document
func (s *Store) Path(ref DocumentRef) string {
	return filepath.Join(s.root, filepath.FromSlash(ref.RelPath()))
}

func (s *Store) collectionDir(kind DocumentKind, parent string) string {
	return filepath.Join(s.StorageDir(), string(kind), parent)
}

// ListSessions walks storage/session/*/ and returns every session document,
// ordered by id.
func (s *Store) ListSessions() ([]*Session, error) {
	sessionRoot := filepath.Join(s.StorageDir(), string(KindSession))
	projects, err := os.ReadDir(sessionRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Session{}, nil
		}
		return nil, &StorageError{Path: sessionRoot, Op: "list", Err: err}
	}

	sessions := make([]*Session, 0)
	for _, project := range projects {
		if !project.IsDir() {
			continue
		}
		names, err := listDocumentNames(filepath.Join(sessionRoot, project.Name()))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			session, err := s.readSessionFile(filepath.Join(sessionRoot, project.Name(), name))
			if err != nil {
				LogWarn("Skipping unreadable session %s: %v", name, err)
				continue
			}
			sessions = append(sessions, session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// ReadSession finds a session by id in any project directory
func (s *Store) ReadSession(sessionID string) (*Session, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	pattern := filepath.Join(s.StorageDir(), string(KindSession), "*", sessionID+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, &StorageError{Path: pattern, Op: "list", Err: err}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	sort.Strings(matches)
	return s.readSessionFile(matches[0])
}

func (s *Store) readSessionFile(path string) (*Session, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	session, err := ParseSession(path, data)
	if err != nil {
		return nil, err
	}
	if session.ProjectID == "" {
		session.ProjectID = filepath.Base(filepath.Dir(path))
	}
	return session, nil
}

// ReadMessage reads one message document
func (s *Store) ReadMessage(sessionID, messageID string) (*Message, error) {
	ref := DocumentRef{Kind: KindMessage, ID: messageID, Parent: sessionID}
	data, err := s.ReadDocument(ref)
	if err != nil {
		return nil, err
	}
	return ParseMessage(ref.RelPath(), data)
}

// ReadPart reads one part document
func (s *Store) ReadPart(messageID, partID string) (*Part, error) {
	ref := DocumentRef{Kind: KindPart, ID: partID, Parent: messageID}
	data, err := s.ReadDocument(ref)
	if err != nil {
		return nil, err
	}
	return ParsePart(ref.RelPath(), data)
}

// ListMessages returns a session's messages in stored (ascending id) order
func (s *Store) ListMessages(sessionID string) ([]*Message, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	dir := s.collectionDir(KindMessage, sessionID)
	names, err := listDocumentNames(dir)
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		msg, err := ParseMessage(p, data)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ListParts returns a message's parts in stored (ascending id) order
func (s *Store) ListParts(messageID string) ([]*Part, error) {
	if err := validateID(messageID); err != nil {
		return nil, err
	}
	dir := s.collectionDir(KindPart, messageID)
	names, err := listDocumentNames(dir)
	if err != nil {
		return nil, err
	}

	parts := make([]*Part, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		part, err := ParsePart(p, data)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// ReadDocument returns the raw bytes of a document
func (s *Store) ReadDocument(ref DocumentRef) ([]byte, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return readFile(s.Path(ref))
}

// WriteDocument atomically replaces a document: the content goes to a temp
// file that is then renamed into place.
func (s *Store) WriteDocument(ref DocumentRef, content []byte) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	p := s.Path(ref)
	if err := writeFileAtomic(p, content, 0o644); err != nil {
		return &StorageError{Path: p, Op: "write", Err: err}
	}
	LogDebug("Wrote %s (%d bytes)", ref.RelPath(), len(content))
	return nil
}

// DeleteDocument removes a document. Deleting an absent document succeeds so
// a partially applied plan can be re-applied safely. An emptied part
// directory is removed along with its last part.
func (s *Store) DeleteDocument(ref DocumentRef) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	p := s.Path(ref)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return &StorageError{Path: p, Op: "delete", Err: err}
	}
	parent := filepath.Dir(p)
	syncDir(parent)
	if ref.Kind != KindSession {
		// Fails harmlessly while the directory still has entries.
		_ = os.Remove(parent)
	}
	LogDebug("Deleted %s", ref.RelPath())
	return nil
}

// listDocumentNames returns the sorted *.json file names of a directory,
// skipping in-flight temp files. A missing directory is an empty collection.
func listDocumentNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, &StorageError{Path: dir, Op: "list", Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func readFile(p string) ([]byte, error) {
	// #nosec G304 -- path is built from validated document ids.
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, &StorageError{Path: p, Op: "read", Err: err}
	}
	return data, nil
}

func validateRef(ref DocumentRef) error {
	switch ref.Kind {
	case KindSession, KindMessage, KindPart:
	default:
		return fmt.Errorf("unknown document kind %q", ref.Kind)
	}
	if err := validateID(ref.ID); err != nil {
		return err
	}
	return validateID(ref.Parent)
}

// validateID rejects ids that would escape their collection directory
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty document id")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("invalid document id %q", id)
	}
	return nil
}
