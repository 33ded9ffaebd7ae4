package internal

import (
	"fmt"
	"strings"
)

// Strategy selects how corruption is removed
type Strategy string

const (
	StrategyRemoveParts Strategy = "remove-parts"
	StrategyTruncate    Strategy = "truncate"
	StrategyAuto        Strategy = "auto"
)

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyRemoveParts:
		return StrategyRemoveParts, nil
	case StrategyTruncate:
		return StrategyTruncate, nil
	case StrategyAuto, "":
		return StrategyAuto, nil
	default:
		return "", fmt.Errorf("unsupported strategy: %s (supported: auto, remove-parts, truncate)", s)
	}
}

// OpKind is the kind of one plan operation
type OpKind string

const (
	OpDeletePart    OpKind = "delete-part"
	OpClearError    OpKind = "clear-error"
	OpDeleteMessage OpKind = "delete-message"
	OpTouchSession  OpKind = "touch-session"
)

// Operation is one reversible document edit
type Operation struct {
	Kind       OpKind      `json:"kind" yaml:"kind"`
	Ref        DocumentRef `json:"ref" yaml:"ref"`
	DropRevert bool        `json:"drop_revert,omitempty" yaml:"drop_revert,omitempty"`
}

func (op Operation) String() string {
	return fmt.Sprintf("%s %s", op.Kind, op.Ref.ID)
}

// RepairPlan is the ordered edit list for one session. Deletions run
// child-before-parent and the session touch-up runs last, so stopping after
// any operation never leaves a reference to a removed document.
type RepairPlan struct {
	SessionID     string             `json:"session_id" yaml:"session_id"`
	Requested     Strategy           `json:"requested_strategy" yaml:"requested_strategy"`
	Strategy      Strategy           `json:"strategy" yaml:"strategy"`
	TruncateIndex int                `json:"truncate_index" yaml:"truncate_index"`
	Records       []CorruptionRecord `json:"records" yaml:"records"`
	Operations    []Operation        `json:"operations" yaml:"operations"`

	// Provider/model the session was using when the plan was built
	ActiveProvider string `json:"active_provider,omitempty" yaml:"active_provider,omitempty"`
	ActiveModel    string `json:"active_model,omitempty" yaml:"active_model,omitempty"`

	// Message and part order the session must have once the plan is applied
	expectedMessages []string
	expectedParts    map[string][]string
}

// Touched returns every document the plan edits or deletes, the session
// document included, without duplicates
func (p *RepairPlan) Touched() []DocumentRef {
	seen := make(map[DocumentRef]bool, len(p.Operations))
	refs := make([]DocumentRef, 0, len(p.Operations))
	for _, op := range p.Operations {
		if !seen[op.Ref] {
			seen[op.Ref] = true
			refs = append(refs, op.Ref)
		}
	}
	return refs
}

// Deleted returns the documents the plan removes
func (p *RepairPlan) Deleted() []DocumentRef {
	var refs []DocumentRef
	for _, op := range p.Operations {
		if op.Kind == OpDeletePart || op.Kind == OpDeleteMessage {
			refs = append(refs, op.Ref)
		}
	}
	return refs
}

// Count returns how many operations of a kind the plan holds
func (p *RepairPlan) Count(kind OpKind) int {
	n := 0
	for _, op := range p.Operations {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Summary describes the plan in one line
func (p *RepairPlan) Summary() string {
	return fmt.Sprintf("%s: delete %d part(s), delete %d message(s), clear %d error(s)",
		p.Strategy, p.Count(OpDeletePart), p.Count(OpDeleteMessage), p.Count(OpClearError))
}

// PlanRepair computes the edit list for a session from its scan records
func PlanRepair(g *SessionGraph, records []CorruptionRecord, strategy Strategy) (*RepairPlan, error) {
	if len(records) == 0 {
		return nil, ErrNoCorruptionFound
	}
	working := workingSet(records)

	var plan *RepairPlan
	var err error
	switch strategy {
	case StrategyRemoveParts:
		plan, err = planRemoveParts(g, working, strategy)
	case StrategyTruncate:
		plan, err = planTruncate(g, working, strategy)
	case StrategyAuto:
		plan, err = planRemoveParts(g, working, strategy)
		if err != nil {
			LogInfo("Part removal not possible for %s (%v), falling back to truncation", g.Session.ID, err)
			plan, err = planTruncate(g, working, strategy)
		}
	default:
		return nil, fmt.Errorf("unsupported strategy: %s", strategy)
	}
	if err != nil {
		return nil, err
	}
	plan.ActiveProvider, plan.ActiveModel = g.ActiveOrigin()
	return plan, nil
}

// workingSet keeps only definite records when there are any. Everything
// before the earliest definite record is known to replay fine.
func workingSet(records []CorruptionRecord) []CorruptionRecord {
	var definite []CorruptionRecord
	for _, r := range records {
		if r.Confidence == ConfidenceDefinite {
			definite = append(definite, r)
		}
	}
	if len(definite) > 0 {
		sortRecords(definite)
		return definite
	}
	working := append([]CorruptionRecord(nil), records...)
	sortRecords(working)
	return working
}

func planRemoveParts(g *SessionGraph, records []CorruptionRecord, requested Strategy) (*RepairPlan, error) {
	for _, r := range records {
		if !r.PartResolved() {
			return nil, fmt.Errorf("%w: message %s could only be flagged as a whole (%s)", ErrUnrepairable, r.MessageID, r.Reason)
		}
	}

	plan := &RepairPlan{
		SessionID:     g.Session.ID,
		Requested:     requested,
		Strategy:      StrategyRemoveParts,
		TruncateIndex: -1,
		Records:       records,
	}

	deleted := make(map[string]bool)
	for _, r := range records {
		if deleted[r.PartID] {
			continue
		}
		if _, ok := g.Parts[r.PartID]; !ok {
			return nil, fmt.Errorf("%w: part %s is no longer in the store", ErrUnrepairable, r.PartID)
		}
		deleted[r.PartID] = true
		plan.Operations = append(plan.Operations, Operation{
			Kind: OpDeletePart,
			Ref:  DocumentRef{Kind: KindPart, ID: r.PartID, Parent: r.MessageID},
		})
	}

	cleared := make(map[string]bool)
	for _, id := range g.MessageOrder {
		for _, r := range records {
			if !containsString(r.SymptomMessageIDs, id) || cleared[id] {
				continue
			}
			cleared[id] = true
			plan.Operations = append(plan.Operations, Operation{
				Kind: OpClearError,
				Ref:  MessageRef(g.Session.ID, g.Messages[id]),
			})
		}
	}

	dropRevert := false
	if rv := g.Session.Revert; rv != nil && rv.PartID != "" {
		dropRevert = deleted[rv.PartID]
	}
	plan.Operations = append(plan.Operations, Operation{
		Kind:       OpTouchSession,
		Ref:        g.SessionRef(),
		DropRevert: dropRevert,
	})
	plan.project(g)
	return plan, nil
}

func planTruncate(g *SessionGraph, records []CorruptionRecord, requested Strategy) (*RepairPlan, error) {
	earliest := records[0].MessageIndex
	if earliest < 0 || earliest >= len(g.MessageOrder) {
		return nil, fmt.Errorf("%w: message index %d is outside the session", ErrUnrepairable, earliest)
	}

	plan := &RepairPlan{
		SessionID:     g.Session.ID,
		Requested:     requested,
		Strategy:      StrategyTruncate,
		TruncateIndex: earliest,
		Records:       records,
	}

	removedMessages := make(map[string]bool)
	removedParts := make(map[string]bool)
	for i := len(g.MessageOrder) - 1; i >= earliest; i-- {
		msgID := g.MessageOrder[i]
		partIDs := g.PartOrder[msgID]
		for j := len(partIDs) - 1; j >= 0; j-- {
			removedParts[partIDs[j]] = true
			plan.Operations = append(plan.Operations, Operation{
				Kind: OpDeletePart,
				Ref:  DocumentRef{Kind: KindPart, ID: partIDs[j], Parent: msgID},
			})
		}
		removedMessages[msgID] = true
		plan.Operations = append(plan.Operations, Operation{
			Kind: OpDeleteMessage,
			Ref:  MessageRef(g.Session.ID, g.Messages[msgID]),
		})
	}

	dropRevert := false
	if rv := g.Session.Revert; rv != nil {
		dropRevert = removedMessages[rv.MessageID] || (rv.PartID != "" && removedParts[rv.PartID])
	}
	plan.Operations = append(plan.Operations, Operation{
		Kind:       OpTouchSession,
		Ref:        g.SessionRef(),
		DropRevert: dropRevert,
	})
	plan.project(g)
	return plan, nil
}

// project records the graph order left once every deletion has run
func (p *RepairPlan) project(g *SessionGraph) {
	deleted := make(map[DocumentRef]bool)
	for _, ref := range p.Deleted() {
		deleted[ref] = true
	}

	p.expectedMessages = make([]string, 0, len(g.MessageOrder))
	p.expectedParts = make(map[string][]string, len(g.MessageOrder))
	for _, msgID := range g.MessageOrder {
		if deleted[MessageRef(g.Session.ID, g.Messages[msgID])] {
			continue
		}
		p.expectedMessages = append(p.expectedMessages, msgID)
		parts := make([]string, 0, len(g.PartOrder[msgID]))
		for _, partID := range g.PartOrder[msgID] {
			if !deleted[DocumentRef{Kind: KindPart, ID: partID, Parent: msgID}] {
				parts = append(parts, partID)
			}
		}
		p.expectedParts[msgID] = parts
	}
}

// ExpectedMessages returns the message ids the session keeps, in order
func (p *RepairPlan) ExpectedMessages() []string {
	return p.expectedMessages
}

// ExpectedParts returns the part ids a kept message keeps, in order
func (p *RepairPlan) ExpectedParts(messageID string) []string {
	return p.expectedParts[messageID]
}
