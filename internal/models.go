package internal

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DocumentKind names one of the three document collections
type DocumentKind string

const (
	KindSession DocumentKind = "session"
	KindMessage DocumentKind = "message"
	KindPart    DocumentKind = "part"
)

// Part types
const (
	PartTypeText      = "text"
	PartTypeReasoning = "reasoning"
	PartTypeTool      = "tool"
	PartTypeFile      = "file"
)

// Time holds the millisecond timestamps stored on every document
type Time struct {
	Created   int64 `json:"created,omitempty"`
	Updated   int64 `json:"updated,omitempty"`
	Completed int64 `json:"completed,omitempty"`
}

// RevertInfo is the trailing session metadata pointing into the message list
type RevertInfo struct {
	MessageID string `json:"messageID,omitempty"`
	PartID    string `json:"partID,omitempty"`
}

// Session identifies one conversation
type Session struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"projectID"`
	Directory string      `json:"directory,omitempty"`
	Title     string      `json:"title,omitempty"`
	Time      Time        `json:"time"`
	Revert    *RevertInfo `json:"revert,omitempty"`

	raw []byte
}

// ModelRef is the nested model reference carried by user messages
type ModelRef struct {
	ProviderID string `json:"providerID,omitempty"`
	ModelID    string `json:"modelID,omitempty"`
}

// Message is one turn in a session
type Message struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionID"`
	Role       string          `json:"role"`
	ModelID    string          `json:"modelID,omitempty"`
	ProviderID string          `json:"providerID,omitempty"`
	Model      *ModelRef       `json:"model,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	Time       Time            `json:"time"`

	raw []byte
}

// Part is one content block of a message
type Part struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionID,omitempty"`
	MessageID string          `json:"messageID"`
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`

	raw []byte
}

// ParseSession decodes a session document, keeping the raw bytes
func ParseSession(key string, data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &ParseError{Source: string(KindSession), Key: key, Err: err}
	}
	if s.ID == "" {
		return nil, &ParseError{Source: string(KindSession), Key: key, Err: fmt.Errorf("missing id")}
	}
	s.raw = data
	return &s, nil
}

// ParseMessage decodes a message document, keeping the raw bytes
func ParseMessage(key string, data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Source: string(KindMessage), Key: key, Err: err}
	}
	if m.ID == "" {
		return nil, &ParseError{Source: string(KindMessage), Key: key, Err: fmt.Errorf("missing id")}
	}
	m.raw = data
	return &m, nil
}

// ParsePart decodes a part document, keeping the raw bytes
func ParsePart(key string, data []byte) (*Part, error) {
	var p Part
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ParseError{Source: string(KindPart), Key: key, Err: err}
	}
	if p.ID == "" {
		return nil, &ParseError{Source: string(KindPart), Key: key, Err: fmt.Errorf("missing id")}
	}
	p.raw = data
	return &p, nil
}

// Raw returns the bytes the session was decoded from
func (s *Session) Raw() []byte { return s.raw }

// Raw returns the bytes the message was decoded from
func (m *Message) Raw() []byte { return m.raw }

// Raw returns the bytes the part was decoded from
func (p *Part) Raw() []byte { return p.raw }

// Origin returns the provider and model that produced the message. Assistant
// messages carry them at top level, user messages in a nested model object.
func (m *Message) Origin() (providerID, modelID string) {
	providerID, modelID = m.ProviderID, m.ModelID
	if m.Model != nil {
		if providerID == "" {
			providerID = m.Model.ProviderID
		}
		if modelID == "" {
			modelID = m.Model.ModelID
		}
	}
	return providerID, modelID
}

// HasError reports whether the message carries a non-null error descriptor
func (m *Message) HasError() bool {
	trimmed := strings.TrimSpace(string(m.Error))
	return trimmed != "" && trimmed != "null"
}

// ErrorText flattens the error descriptor into one string so it can be
// matched against the symptom patterns regardless of its shape.
func (m *Message) ErrorText() string {
	if !m.HasError() {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(m.Error, &v); err != nil {
		return string(m.Error)
	}
	return strings.Join(collectStrings(v), "\n")
}

// collectStrings walks decoded JSON and returns every string value, with map
// keys visited in sorted order so the output is stable.
func collectStrings(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		var out []string
		for _, item := range val {
			out = append(out, collectStrings(item)...)
		}
		return out
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, collectStrings(val[k])...)
		}
		return out
	default:
		return nil
	}
}

// Signature returns the opaque signature token of a reasoning part, if any.
// Providers nest it differently, so the first "signature" string found in the
// metadata wins.
func (p *Part) Signature() string {
	if len(p.Metadata) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(p.Metadata, &v); err != nil {
		return ""
	}
	return findSignature(v)
}

func findSignature(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		if s, ok := val["signature"].(string); ok && s != "" {
			return s
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := findSignature(val[k]); s != "" {
				return s
			}
		}
	case []interface{}:
		for _, item := range val {
			if s := findSignature(item); s != "" {
				return s
			}
		}
	}
	return ""
}

// GetCreatedAt returns the creation time of the session
func (s *Session) GetCreatedAt() time.Time {
	if s.Time.Created == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.Time.Created)
}

// GetUpdatedAt returns the last update time, falling back to creation time
func (s *Session) GetUpdatedAt() time.Time {
	if s.Time.Updated == 0 {
		return s.GetCreatedAt()
	}
	return time.UnixMilli(s.Time.Updated)
}

// clearMessageError returns the message document without its error field.
// All other keys are kept.
func clearMessageError(raw []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "error")
	return json.MarshalIndent(doc, "", "  ")
}

// touchSession bumps time.updated and, when dropRevert is set, removes the
// revert pointer. All other keys are kept.
func touchSession(raw []byte, now time.Time, dropRevert bool) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	times := map[string]json.RawMessage{}
	if existing, ok := doc["time"]; ok {
		if err := json.Unmarshal(existing, &times); err != nil {
			return nil, fmt.Errorf("failed to decode session time: %w", err)
		}
	}
	updated, err := json.Marshal(now.UnixMilli())
	if err != nil {
		return nil, err
	}
	times["updated"] = updated
	if doc["time"], err = json.Marshal(times); err != nil {
		return nil, err
	}

	if dropRevert {
		delete(doc, "revert")
	}
	return json.MarshalIndent(doc, "", "  ")
}
