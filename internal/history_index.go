package internal

// HistoryPolicy describes how a request's message history was built from the
// stored session. Provider errors index into that history, not into storage,
// so every resolution goes through this policy.
type HistoryPolicy struct {
	// ExcludeRoles lists roles never sent as conversation history
	ExcludeRoles []string `yaml:"exclude_roles" json:"exclude_roles"`
	// ExcludeErrored drops assistant messages that ended in an error
	ExcludeErrored bool `yaml:"exclude_errored" json:"exclude_errored"`
	// ContentPartTypes lists part types that become request content blocks
	ContentPartTypes []string `yaml:"content_part_types" json:"content_part_types"`
	// SplitToolResults sends the results of an assistant message's tool
	// calls as a separate message right after it, so each such message
	// takes two history slots
	SplitToolResults bool `yaml:"split_tool_results" json:"split_tool_results"`
}

// DefaultHistoryPolicy returns the policy matching how sessions are replayed
// by default
func DefaultHistoryPolicy() HistoryPolicy {
	return HistoryPolicy{
		ExcludeRoles:     []string{"system"},
		ExcludeErrored:   true,
		ContentPartTypes: []string{PartTypeText, PartTypeReasoning, PartTypeTool, PartTypeFile},
	}
}

// Resolution is the stored-order location a ContentRef points at
type Resolution struct {
	MessageIndex int    // stored index, -1 when N is out of range
	MessageID    string // empty when N is out of range
	PartID       string // empty when M is out of range
	PartType     string
}

// MessageResolved reports whether N mapped to a stored message
func (r Resolution) MessageResolved() bool { return r.MessageIndex >= 0 }

// PartResolved reports whether M mapped to a stored part
func (r Resolution) PartResolved() bool { return r.PartID != "" }

// historySlot is one message of a request's history. A tool-results slot
// carries the tool parts of the stored message at index.
type historySlot struct {
	index       int
	toolResults bool
}

func (p HistoryPolicy) slots(g *SessionGraph, symptomIndex int) []historySlot {
	if symptomIndex > len(g.MessageOrder) {
		symptomIndex = len(g.MessageOrder)
	}
	slots := make([]historySlot, 0, symptomIndex)
	for i := 0; i < symptomIndex; i++ {
		msg := g.MessageAt(i)
		if !p.sendsMessage(msg) {
			continue
		}
		slots = append(slots, historySlot{index: i})
		if p.SplitToolResults && msg.Role == "assistant" && len(p.toolParts(g, msg.ID)) > 0 {
			slots = append(slots, historySlot{index: i, toolResults: true})
		}
	}
	return slots
}

// RequestHistory returns the stored indices of the messages that would have
// been sent as history in the request that failed at symptomIndex. With
// SplitToolResults an assistant message that called tools appears twice.
func (p HistoryPolicy) RequestHistory(g *SessionGraph, symptomIndex int) []int {
	slots := p.slots(g, symptomIndex)
	history := make([]int, len(slots))
	for i, slot := range slots {
		history[i] = slot.index
	}
	return history
}

// ContentParts returns the parts of a message that become request content
// blocks, in order
func (p HistoryPolicy) ContentParts(g *SessionGraph, messageID string) []*Part {
	all := g.PartsOf(messageID)
	content := make([]*Part, 0, len(all))
	for _, part := range all {
		if p.countsAsContent(part.Type) {
			content = append(content, part)
		}
	}
	return content
}

// ContentIndexOf returns the request content index of a part, or -1
func (p HistoryPolicy) ContentIndexOf(g *SessionGraph, messageID, partID string) int {
	for i, part := range p.ContentParts(g, messageID) {
		if part.ID == partID {
			return i
		}
	}
	return -1
}

// ResolveContentIndex maps a request-relative reference from the error on the
// message at symptomIndex to a stored message and part. It only reads the
// graph.
func ResolveContentIndex(g *SessionGraph, policy HistoryPolicy, symptomIndex int, ref ContentRef) Resolution {
	res := Resolution{MessageIndex: -1}

	slots := policy.slots(g, symptomIndex)
	if ref.Message < 0 || ref.Message >= len(slots) {
		return res
	}
	slot := slots[ref.Message]
	res.MessageIndex = slot.index
	res.MessageID = g.MessageOrder[res.MessageIndex]

	content := policy.ContentParts(g, res.MessageID)
	if slot.toolResults {
		content = policy.toolParts(g, res.MessageID)
	}
	if ref.Content < 0 || ref.Content >= len(content) {
		return res
	}
	res.PartID = content[ref.Content].ID
	res.PartType = content[ref.Content].Type
	return res
}

func (p HistoryPolicy) toolParts(g *SessionGraph, messageID string) []*Part {
	var tools []*Part
	for _, part := range g.PartsOf(messageID) {
		if part.Type == PartTypeTool {
			tools = append(tools, part)
		}
	}
	return tools
}

func (p HistoryPolicy) sendsMessage(m *Message) bool {
	if m == nil {
		return false
	}
	for _, role := range p.ExcludeRoles {
		if m.Role == role {
			return false
		}
	}
	if p.ExcludeErrored && m.Role == "assistant" && m.HasError() {
		return false
	}
	return true
}

func (p HistoryPolicy) countsAsContent(partType string) bool {
	for _, t := range p.ContentPartTypes {
		if t == partType {
			return true
		}
	}
	return false
}
