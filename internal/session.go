package internal

import "fmt"

// SessionGraph is an in-memory index of one session's documents. Documents
// are held in maps keyed by id, with separate ordered id slices, so a
// snapshot or a deletion is a matter of id sets rather than pointer surgery.
type SessionGraph struct {
	Session      *Session
	Messages     map[string]*Message
	Parts        map[string]*Part
	MessageOrder []string
	PartOrder    map[string][]string // message id -> part ids in stored order
}

// LoadGraph reads a session and all of its messages and parts
func LoadGraph(store DocumentStore, sessionID string) (*SessionGraph, error) {
	session, err := store.ReadSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	messages, err := store.ListMessages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", sessionID, err)
	}

	g := &SessionGraph{
		Session:      session,
		Messages:     make(map[string]*Message, len(messages)),
		Parts:        make(map[string]*Part),
		MessageOrder: make([]string, 0, len(messages)),
		PartOrder:    make(map[string][]string, len(messages)),
	}

	for _, msg := range messages {
		g.Messages[msg.ID] = msg
		g.MessageOrder = append(g.MessageOrder, msg.ID)

		parts, err := store.ListParts(msg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list parts of %s: %w", msg.ID, err)
		}
		order := make([]string, 0, len(parts))
		for _, part := range parts {
			g.Parts[part.ID] = part
			order = append(order, part.ID)
		}
		g.PartOrder[msg.ID] = order
	}

	LogDebug("Loaded session %s: %d message(s), %d part(s)", sessionID, len(g.Messages), len(g.Parts))
	return g, nil
}

// MessageAt returns the message at a stored position, or nil
func (g *SessionGraph) MessageAt(index int) *Message {
	if index < 0 || index >= len(g.MessageOrder) {
		return nil
	}
	return g.Messages[g.MessageOrder[index]]
}

// IndexOf returns the stored position of a message, or -1
func (g *SessionGraph) IndexOf(messageID string) int {
	for i, id := range g.MessageOrder {
		if id == messageID {
			return i
		}
	}
	return -1
}

// PartsOf returns a message's parts in stored order
func (g *SessionGraph) PartsOf(messageID string) []*Part {
	ids := g.PartOrder[messageID]
	parts := make([]*Part, 0, len(ids))
	for _, id := range ids {
		if p, ok := g.Parts[id]; ok {
			parts = append(parts, p)
		}
	}
	return parts
}

// ActiveOrigin returns the provider/model of the most recent message that
// records one. It is derived from the graph on every call.
func (g *SessionGraph) ActiveOrigin() (providerID, modelID string) {
	for i := len(g.MessageOrder) - 1; i >= 0; i-- {
		provider, model := g.Messages[g.MessageOrder[i]].Origin()
		if provider != "" || model != "" {
			return provider, model
		}
	}
	return "", ""
}

// SessionRef returns the ref of the session document
func (g *SessionGraph) SessionRef() DocumentRef {
	return SessionRef(g.Session)
}
