package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// StoreFixture lays out session, message and part documents in the on-disk
// layout under a temporary data directory
type StoreFixture struct {
	t    *testing.T
	Root string
}

// NewStoreFixture creates an empty data directory
func NewStoreFixture(t *testing.T) *StoreFixture {
	t.Helper()
	root := CreateTempDir(t)
	if err := os.MkdirAll(filepath.Join(root, "storage"), 0755); err != nil {
		t.Fatalf("Failed to create storage dir: %v", err)
	}
	return &StoreFixture{t: t, Root: root}
}

// SessionPath, MessagePath and PartPath return document file paths
func (f *StoreFixture) SessionPath(projectID, sessionID string) string {
	return filepath.Join(f.Root, "storage", "session", projectID, sessionID+".json")
}

func (f *StoreFixture) MessagePath(sessionID, messageID string) string {
	return filepath.Join(f.Root, "storage", "message", sessionID, messageID+".json")
}

func (f *StoreFixture) PartPath(messageID, partID string) string {
	return filepath.Join(f.Root, "storage", "part", messageID, partID+".json")
}

// StorageDir returns the storage/ directory
func (f *StoreFixture) StorageDir() string {
	return filepath.Join(f.Root, "storage")
}

// Session writes a session document. fields are merged over the defaults.
func (f *StoreFixture) Session(projectID, sessionID string, fields map[string]interface{}) {
	f.t.Helper()
	doc := map[string]interface{}{
		"id":        sessionID,
		"projectID": projectID,
		"directory": "/work/" + projectID,
		"title":     "Session " + sessionID,
		"version":   "0.9.0",
		"time":      map[string]interface{}{"created": 1700000000000, "updated": 1700000000000},
	}
	f.write(f.SessionPath(projectID, sessionID), merge(doc, fields))
}

// Message writes a message document
func (f *StoreFixture) Message(sessionID, messageID, role string, fields map[string]interface{}) {
	f.t.Helper()
	doc := map[string]interface{}{
		"id":        messageID,
		"sessionID": sessionID,
		"role":      role,
		"time":      map[string]interface{}{"created": 1700000000000},
	}
	f.write(f.MessagePath(sessionID, messageID), merge(doc, fields))
}

// AssistantMessage writes an assistant message produced by provider/model
func (f *StoreFixture) AssistantMessage(sessionID, messageID, providerID, modelID string, fields map[string]interface{}) {
	f.t.Helper()
	base := map[string]interface{}{
		"providerID": providerID,
		"modelID":    modelID,
		"cost":       0,
		"tokens":     map[string]interface{}{"input": 10, "output": 20},
	}
	f.Message(sessionID, messageID, "assistant", merge(base, fields))
}

// Part writes a part document
func (f *StoreFixture) Part(sessionID, messageID, partID, partType string, fields map[string]interface{}) {
	f.t.Helper()
	doc := map[string]interface{}{
		"id":        partID,
		"sessionID": sessionID,
		"messageID": messageID,
		"type":      partType,
	}
	f.write(f.PartPath(messageID, partID), merge(doc, fields))
}

// ReasoningPart writes a signed reasoning part
func (f *StoreFixture) ReasoningPart(sessionID, messageID, partID, signature string) {
	f.t.Helper()
	f.Part(sessionID, messageID, partID, "reasoning", map[string]interface{}{
		"text": "thinking about " + partID,
		"metadata": map[string]interface{}{
			"anthropic": map[string]interface{}{"signature": signature},
		},
	})
}

// SignatureError returns an error descriptor as stored on a message whose
// request was rejected over the block at messages.N.content.M
func SignatureError(reference string) map[string]interface{} {
	return map[string]interface{}{
		"name": "APIError",
		"data": map[string]interface{}{
			"message":    reference + ": Invalid `signature` in `thinking` block",
			"statusCode": 400,
		},
	}
}

func (f *StoreFixture) write(path string, doc map[string]interface{}) {
	f.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		f.t.Fatalf("Failed to create fixture directory: %v", err)
	}
	if err := os.WriteFile(path, JSONMarshal(f.t, doc), 0644); err != nil {
		f.t.Fatalf("Failed to write fixture %s: %v", path, err)
	}
}

func merge(base, fields map[string]interface{}) map[string]interface{} {
	for k, v := range fields {
		base[k] = v
	}
	return base
}
