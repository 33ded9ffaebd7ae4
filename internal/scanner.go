package internal

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Confidence grades how a corruption record was established
type Confidence string

const (
	// ConfidenceDefinite: a stored provider error names the block
	ConfidenceDefinite Confidence = "definite"
	// ConfidenceInferred: a reasoning block from a model other than the
	// session's active one, without a confirming error
	ConfidenceInferred Confidence = "inferred"
)

// CorruptionRecord identifies a document believed to make the session
// unreplayable. PartID is empty when only the message could be identified.
type CorruptionRecord struct {
	SessionID         string     `json:"session_id" yaml:"session_id"`
	MessageID         string     `json:"message_id" yaml:"message_id"`
	PartID            string     `json:"part_id,omitempty" yaml:"part_id,omitempty"`
	MessageIndex      int        `json:"message_index" yaml:"message_index"`
	ContentIndex      int        `json:"content_index" yaml:"content_index"`
	Confidence        Confidence `json:"confidence" yaml:"confidence"`
	SymptomMessageIDs []string   `json:"symptom_message_ids,omitempty" yaml:"symptom_message_ids,omitempty"`
	Reason            string     `json:"reason" yaml:"reason"`
}

// PartResolved reports whether the record names a specific part
func (r CorruptionRecord) PartResolved() bool {
	return r.PartID != ""
}

// Scanner evaluates a session's documents against the corruption predicates.
// Scanning only reads the store and can be repeated at any time.
type Scanner struct {
	store  DocumentStore
	policy HistoryPolicy
}

// NewScanner creates a Scanner
func NewScanner(store DocumentStore, policy HistoryPolicy) *Scanner {
	return &Scanner{store: store, policy: policy}
}

// Policy returns the history policy used for content index resolution
func (s *Scanner) Policy() HistoryPolicy {
	return s.policy
}

// Scan loads a session and returns its corruption records ordered by position
func (s *Scanner) Scan(ctx context.Context, sessionID string) ([]CorruptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, err := LoadGraph(s.store, sessionID)
	if err != nil {
		return nil, err
	}
	return s.ScanGraph(g), nil
}

// ScanGraph evaluates an already loaded graph. Inferred records are only
// returned when no definite record exists.
func (s *Scanner) ScanGraph(g *SessionGraph) []CorruptionRecord {
	provider, model := g.ActiveOrigin()
	return s.ScanGraphAgainst(g, provider, model)
}

// ScanGraphAgainst is ScanGraph with inferred records judged against the
// given provider/model instead of the graph's own active origin. The
// verifier uses it to rescan a truncated session against the origin the
// session had before the repair.
func (s *Scanner) ScanGraphAgainst(g *SessionGraph, activeProvider, activeModel string) []CorruptionRecord {
	records := s.definiteRecords(g)
	if len(records) == 0 {
		records = s.inferredRecords(g, activeProvider, activeModel)
	}
	sortRecords(records)
	return records
}

func (s *Scanner) definiteRecords(g *SessionGraph) []CorruptionRecord {
	var records []CorruptionRecord
	byKey := make(map[string]int)

	add := func(rec CorruptionRecord, symptomID string) {
		key := rec.MessageID + "/" + rec.PartID
		if i, ok := byKey[key]; ok {
			if !containsString(records[i].SymptomMessageIDs, symptomID) {
				records[i].SymptomMessageIDs = append(records[i].SymptomMessageIDs, symptomID)
			}
			return
		}
		rec.SessionID = g.Session.ID
		rec.Confidence = ConfidenceDefinite
		rec.SymptomMessageIDs = []string{symptomID}
		byKey[key] = len(records)
		records = append(records, rec)
	}

	for i, id := range g.MessageOrder {
		msg := g.Messages[id]
		text := msg.ErrorText()
		if !IsSignatureSymptom(text) {
			continue
		}
		LogDebug("Message %s (index %d) carries a signature rejection", id, i)

		refs := ParseContentRefs(text)
		if len(refs) == 0 {
			add(s.fallbackRecord(g, i, -1, "signature rejection without a content index"), id)
			continue
		}

		for _, ref := range refs {
			res := ResolveContentIndex(g, s.policy, i, ref)
			switch {
			case !res.MessageResolved():
				add(s.fallbackRecord(g, i, ref.Content,
					fmt.Sprintf("messages.%d is outside the %d-message request history", ref.Message, len(s.policy.RequestHistory(g, i)))), id)
			case !res.PartResolved():
				add(CorruptionRecord{
					MessageID:    res.MessageID,
					MessageIndex: res.MessageIndex,
					ContentIndex: ref.Content,
					Reason:       fmt.Sprintf("content.%d is out of range for message %s", ref.Content, res.MessageID),
				}, id)
			case res.PartType != PartTypeReasoning:
				add(CorruptionRecord{
					MessageID:    res.MessageID,
					MessageIndex: res.MessageIndex,
					ContentIndex: ref.Content,
					Reason:       fmt.Sprintf("content.%d resolves to a %s part, not a reasoning part", ref.Content, res.PartType),
				}, id)
			default:
				add(CorruptionRecord{
					MessageID:    res.MessageID,
					PartID:       res.PartID,
					MessageIndex: res.MessageIndex,
					ContentIndex: ref.Content,
					Reason:       fmt.Sprintf("provider rejected the signature of messages.%d.content.%d", ref.Message, ref.Content),
				}, id)
			}
		}
	}
	return records
}

// fallbackRecord flags a whole message when the reference cannot be
// resolved. The target is the earliest message before the symptom holding
// reasoning from another provider/model than the symptom's, else the latest
// message before the symptom holding any reasoning, else the symptom itself.
func (s *Scanner) fallbackRecord(g *SessionGraph, symptomIndex, contentIndex int, reason string) CorruptionRecord {
	symptomProvider, symptomModel := g.Messages[g.MessageOrder[symptomIndex]].Origin()

	target, latest := -1, -1
	for i := 0; i < symptomIndex; i++ {
		id := g.MessageOrder[i]
		if !hasReasoningPart(g, id) {
			continue
		}
		latest = i
		provider, model := g.Messages[id].Origin()
		if provider == "" && model == "" {
			continue
		}
		if provider != symptomProvider || model != symptomModel {
			target = i
			break
		}
	}
	if target < 0 {
		target = latest
	}
	if target < 0 {
		target = symptomIndex
	}

	return CorruptionRecord{
		MessageID:    g.MessageOrder[target],
		MessageIndex: target,
		ContentIndex: contentIndex,
		Reason:       reason,
	}
}

func (s *Scanner) inferredRecords(g *SessionGraph, activeProvider, activeModel string) []CorruptionRecord {
	if activeProvider == "" && activeModel == "" {
		return nil
	}

	var records []CorruptionRecord
	for i, id := range g.MessageOrder {
		provider, model := g.Messages[id].Origin()
		if provider == "" && model == "" {
			continue
		}
		if provider == activeProvider && model == activeModel {
			continue
		}
		for _, part := range g.PartsOf(id) {
			if part.Type != PartTypeReasoning {
				continue
			}
			records = append(records, CorruptionRecord{
				SessionID:    g.Session.ID,
				MessageID:    id,
				PartID:       part.ID,
				MessageIndex: i,
				ContentIndex: s.policy.ContentIndexOf(g, id, part.ID),
				Confidence:   ConfidenceInferred,
				Reason: fmt.Sprintf("reasoning from %s/%s while the session now uses %s/%s",
					provider, model, activeProvider, activeModel),
			})
		}
	}
	return records
}

// SessionScan is the outcome of scanning one session during ScanAll
type SessionScan struct {
	Session *Session
	Records []CorruptionRecord
	Err     error
}

// ScanAll scans every session in the store with bounded concurrency. A
// session that fails to load is reported in its SessionScan, not as an error.
func (s *Scanner) ScanAll(ctx context.Context, concurrency int) ([]SessionScan, error) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]SessionScan, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, session := range sessions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records, err := s.Scan(gctx, session.ID)
			if err != nil {
				LogWarn("Failed to scan session %s: %v", session.ID, err)
			}
			results[i] = SessionScan{Session: session, Records: records, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func sortRecords(records []CorruptionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].MessageIndex != records[j].MessageIndex {
			return records[i].MessageIndex < records[j].MessageIndex
		}
		return records[i].ContentIndex < records[j].ContentIndex
	})
}

func hasReasoningPart(g *SessionGraph, messageID string) bool {
	for _, part := range g.PartsOf(messageID) {
		if part.Type == PartTypeReasoning {
			return true
		}
	}
	return false
}

func containsString(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
