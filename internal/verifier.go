package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// VerificationResult lists every post-condition an applied plan violated
type VerificationResult struct {
	SessionID string   `json:"session_id" yaml:"session_id"`
	Problems  []string `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// OK reports whether every check passed
func (r VerificationResult) OK() bool {
	return len(r.Problems) == 0
}

// Err returns nil for a passing result and an error listing the problems
// otherwise
func (r VerificationResult) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("verification of %s failed: %s", r.SessionID, strings.Join(r.Problems, "; "))
}

func (r *VerificationResult) addf(format string, args ...interface{}) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Verifier reloads a repaired session and checks it is consistent and free
// of the corruption the plan addressed. It only reports; it never edits.
type Verifier struct {
	store   DocumentStore
	scanner *Scanner
}

// NewVerifier creates a Verifier
func NewVerifier(store DocumentStore, scanner *Scanner) *Verifier {
	return &Verifier{store: store, scanner: scanner}
}

// Verify checks a session after plan was applied to it. An error is returned
// only when the session cannot be read at all.
func (v *Verifier) Verify(ctx context.Context, sessionID string, plan *RepairPlan) (VerificationResult, error) {
	result := VerificationResult{SessionID: sessionID}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	g, err := LoadGraph(v.store, sessionID)
	if err != nil {
		return result, err
	}

	v.checkReferences(g, &result)
	v.checkOrder(g, plan, &result)
	v.checkDeleted(g, plan, &result)
	v.checkRescan(g, plan, &result)

	if result.OK() {
		LogDebug("Verified %s: %d message(s), %d part(s)", sessionID, len(g.Messages), len(g.Parts))
	}
	return result, nil
}

// checkReferences: every part names its message and every message its session
func (v *Verifier) checkReferences(g *SessionGraph, result *VerificationResult) {
	for _, msgID := range g.MessageOrder {
		msg := g.Messages[msgID]
		if msg.SessionID != "" && msg.SessionID != g.Session.ID {
			result.addf("message %s references session %s", msgID, msg.SessionID)
		}
		for _, part := range g.PartsOf(msgID) {
			if part.MessageID != msgID {
				result.addf("part %s references message %s but is stored under %s", part.ID, part.MessageID, msgID)
			}
			if part.SessionID != "" && part.SessionID != g.Session.ID {
				result.addf("part %s references session %s", part.ID, part.SessionID)
			}
		}
	}
}

// checkOrder: ids strictly increase and the surviving documents keep their
// relative order
func (v *Verifier) checkOrder(g *SessionGraph, plan *RepairPlan, result *VerificationResult) {
	for i := 1; i < len(g.MessageOrder); i++ {
		if g.MessageOrder[i-1] >= g.MessageOrder[i] {
			result.addf("message ids not strictly increasing at position %d", i)
		}
	}
	if plan == nil || plan.expectedMessages == nil {
		return
	}

	if !equalStrings(g.MessageOrder, plan.ExpectedMessages()) {
		result.addf("message order %v, expected %v", g.MessageOrder, plan.ExpectedMessages())
		return
	}
	for _, msgID := range g.MessageOrder {
		if !equalStrings(g.PartOrder[msgID], plan.ExpectedParts(msgID)) {
			result.addf("parts of %s are %v, expected %v", msgID, g.PartOrder[msgID], plan.ExpectedParts(msgID))
		}
	}
}

// checkDeleted: nothing the plan removed is still readable or referenced,
// and no part directory survives a deleted message
func (v *Verifier) checkDeleted(g *SessionGraph, plan *RepairPlan, result *VerificationResult) {
	if plan == nil {
		return
	}
	for _, ref := range plan.Deleted() {
		if rv := g.Session.Revert; rv != nil && (rv.MessageID == ref.ID || rv.PartID == ref.ID) {
			result.addf("session revert still points at deleted %s", ref)
		}
		_, err := v.store.ReadDocument(ref)
		switch {
		case err == nil:
			result.addf("%s still present", ref)
		case !errors.Is(err, ErrNotFound):
			result.addf("%s unreadable: %v", ref, err)
		}
		if ref.Kind != KindMessage {
			continue
		}
		orphans, err := v.store.ListParts(ref.ID)
		if err != nil {
			result.addf("parts of deleted %s unreadable: %v", ref, err)
		} else if len(orphans) > 0 {
			result.addf("%d orphaned part(s) left under deleted %s", len(orphans), ref)
		}
	}
}

// checkRescan: the scan comes back clean. Inferred findings only count when
// the plan was built from inferred records, and are judged against the
// provider/model the session used before the repair: truncation can leave
// an older message as the most recent one.
func (v *Verifier) checkRescan(g *SessionGraph, plan *RepairPlan, result *VerificationResult) {
	addressedInferred := plan != nil && len(plan.Records) > 0 && plan.Records[0].Confidence == ConfidenceInferred
	provider, model := g.ActiveOrigin()
	if plan != nil && (plan.ActiveProvider != "" || plan.ActiveModel != "") {
		provider, model = plan.ActiveProvider, plan.ActiveModel
	}
	for _, rec := range v.scanner.ScanGraphAgainst(g, provider, model) {
		if rec.Confidence == ConfidenceInferred && !addressedInferred {
			continue
		}
		result.addf("%s corruption remains at message %s (%s)", rec.Confidence, rec.MessageID, rec.Reason)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
