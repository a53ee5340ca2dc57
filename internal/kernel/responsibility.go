package kernel

import (
	"fmt"

	"github.com/upb/agent-governor/models"
)

// responsibilityTracker maintains per-event responsibility chains plus
// the approval and override records attached to events. Chains are
// append-only: a takeover appends a new link and marks predecessors
// superseded, it never removes or edits history.
type responsibilityTracker struct {
	chains    map[string][]models.ResponsibilityLink
	approvals map[string][]models.ApprovalRecord
	overrides map[string][]models.OverrideAction
}

func newResponsibilityTracker() *responsibilityTracker {
	return &responsibilityTracker{
		chains:    make(map[string][]models.ResponsibilityLink),
		approvals: make(map[string][]models.ApprovalRecord),
		overrides: make(map[string][]models.OverrideAction),
	}
}

// Record appends the responsibility link for a processed event. The
// link id is derived from the event id and chain position so replays
// reproduce it exactly.
func (t *responsibilityTracker) Record(event *models.GovernanceEvent) models.ResponsibilityLink {
	chain := t.chains[event.ID]
	link := models.ResponsibilityLink{
		ID:         fmt.Sprintf("link-%s-%d", event.ID, len(chain)),
		EventID:    event.ID,
		Actor:      event.Actor,
		ActionType: string(event.Type),
		Liability:  models.LiabilityForEvent(event.Type),
		Timestamp:  event.Timestamp,
	}
	if len(chain) > 0 {
		link.Previous = chain[len(chain)-1].ID
	}
	t.chains[event.ID] = append(chain, link)
	return link
}

// Takeover appends a takeover link for targetEventID carried by the
// actor of the control event, marking prior links superseded: only the
// last active link for a transfer or approval, every active link for
// an override.
func (t *responsibilityTracker) Takeover(event *models.GovernanceEvent, targetEventID, reason string, supersedeAll bool) (models.ResponsibilityLink, error) {
	chain, ok := t.chains[targetEventID]
	if !ok {
		return models.ResponsibilityLink{}, fmt.Errorf("no responsibility chain for event %s", targetEventID)
	}
	link := models.ResponsibilityLink{
		ID:         fmt.Sprintf("link-%s-%d", targetEventID, len(chain)),
		EventID:    targetEventID,
		Actor:      event.Actor,
		ActionType: models.LinkTakeover,
		Liability:  models.LiabilityForEvent(event.Type),
		Reason:     reason,
		Timestamp:  event.Timestamp,
		Previous:   chain[len(chain)-1].ID,
	}
	if supersedeAll {
		for i := range chain {
			if !chain[i].IsSuperseded {
				chain[i].IsSuperseded = true
				chain[i].SupersededBy = link.ID
			}
		}
	} else {
		for i := len(chain) - 1; i >= 0; i-- {
			if !chain[i].IsSuperseded {
				chain[i].IsSuperseded = true
				chain[i].SupersededBy = link.ID
				break
			}
		}
	}
	t.chains[targetEventID] = append(chain, link)
	return link, nil
}

// Approve records a human approval against an event
func (t *responsibilityTracker) Approve(event *models.GovernanceEvent, targetEventID string, approved bool, reason string) models.ApprovalRecord {
	record := models.ApprovalRecord{
		EventID:    targetEventID,
		ApproverID: event.Actor.ID,
		Approved:   approved,
		Reason:     reason,
		Timestamp:  event.Timestamp,
	}
	t.approvals[targetEventID] = append(t.approvals[targetEventID], record)
	return record
}

// Override records a human override of a kernel decision
func (t *responsibilityTracker) Override(event *models.GovernanceEvent, targetEventID, decision, reason string) models.OverrideAction {
	record := models.OverrideAction{
		EventID:    targetEventID,
		ActorID:    event.Actor.ID,
		Overridden: decision,
		Reason:     reason,
		Timestamp:  event.Timestamp,
	}
	t.overrides[targetEventID] = append(t.overrides[targetEventID], record)
	return record
}

// Chain returns a copy of the responsibility chain for an event
func (t *responsibilityTracker) Chain(eventID string) []models.ResponsibilityLink {
	chain := t.chains[eventID]
	out := make([]models.ResponsibilityLink, len(chain))
	copy(out, chain)
	return out
}

// Resolve answers who currently holds responsibility for an event: the
// last non-superseded link, or the first link when every link has been
// superseded. Liability follows the takeovers in the chain; a chain
// with none stays direct.
func (t *responsibilityTracker) Resolve(eventID string) (*models.ResponsibilityResolution, error) {
	chain, ok := t.chains[eventID]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("no responsibility chain for event %s", eventID)
	}
	primary := chain[0]
	for _, link := range chain {
		if !link.IsSuperseded {
			primary = link
		}
	}

	liability := models.LiabilityDirect
	var contributing []string
	for _, link := range chain {
		if link.ActionType == models.LinkTakeover {
			liability = link.Liability
		}
		if !link.IsSuperseded && link.Actor != nil && link.Actor.ID != primary.Actor.ID {
			contributing = append(contributing, link.Actor.ID)
		}
	}
	return &models.ResponsibilityResolution{
		EventID:      eventID,
		Responsible:  primary.Actor,
		Liability:    liability,
		Contributing: contributing,
		ChainLength:  len(chain),
		ResolvedAt:   primary.Timestamp,
	}, nil
}

// AuditView bundles the chain, approvals, overrides, and current
// resolution for one event
func (t *responsibilityTracker) AuditView(eventID string) (*models.ResponsibilityAuditView, error) {
	resolution, err := t.Resolve(eventID)
	if err != nil {
		return nil, err
	}
	return &models.ResponsibilityAuditView{
		EventID:    eventID,
		Chain:      t.Chain(eventID),
		Approvals:  append([]models.ApprovalRecord(nil), t.approvals[eventID]...),
		Overrides:  append([]models.OverrideAction(nil), t.overrides[eventID]...),
		Resolution: resolution,
	}, nil
}
