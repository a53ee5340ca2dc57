package models

import "time"

// LiabilityType classifies who carries responsibility for an action
type LiabilityType string

const (
	LiabilityDirect        LiabilityType = "direct"
	LiabilityShared        LiabilityType = "shared"
	LiabilityDelegated     LiabilityType = "delegated"
	LiabilityOverridden    LiabilityType = "overridden"
	LiabilityAgentMediated LiabilityType = "agent_mediated"
)

// LinkTakeover is the action type of a link that takes responsibility
// over from its predecessors
const LinkTakeover = "RESPONSIBILITY_TAKEOVER"

// ResponsibilityLink is one link in an event's responsibility chain.
// Chains are append-only: a takeover marks prior links superseded by
// appending, no link is ever removed or edited in place.
type ResponsibilityLink struct {
	ID           string        `json:"id"`
	EventID      string        `json:"event_id"`
	Actor        *Actor        `json:"actor"`
	ActionType   string        `json:"action_type"`
	Liability    LiabilityType `json:"liability"`
	Reason       string        `json:"reason,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Previous     string        `json:"previous_link_id,omitempty"`
	IsSuperseded bool          `json:"is_superseded"`
	SupersededBy string        `json:"superseded_by,omitempty"`
}

// ApprovalRecord notes a human approval attached to an event
type ApprovalRecord struct {
	EventID    string    `json:"event_id"`
	ApproverID string    `json:"approver_id"`
	Approved   bool      `json:"approved"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// OverrideAction notes a human override of a kernel decision
type OverrideAction struct {
	EventID    string    `json:"event_id"`
	ActorID    string    `json:"actor_id"`
	Overridden string    `json:"overridden_decision"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResponsibilityResolution is the answer to "who is responsible for
// this event right now": the last non-superseded link, falling back to
// the first link when every link has been superseded, plus the
// liability class the chain's takeovers imply.
type ResponsibilityResolution struct {
	EventID      string        `json:"event_id"`
	Responsible  *Actor        `json:"responsible"`
	Liability    LiabilityType `json:"liability"`
	Contributing []string      `json:"contributing,omitempty"`
	ChainLength  int           `json:"chain_length"`
	ResolvedAt   time.Time     `json:"resolved_at"`
}

// ResponsibilityAuditView bundles everything accountability knows
// about one event
type ResponsibilityAuditView struct {
	EventID    string                    `json:"event_id"`
	Chain      []ResponsibilityLink      `json:"chain"`
	Approvals  []ApprovalRecord          `json:"approvals,omitempty"`
	Overrides  []OverrideAction          `json:"overrides,omitempty"`
	Resolution *ResponsibilityResolution `json:"resolution"`
}

// SovereigntyContext captures who holds decision authority at the
// moment an event is processed
type SovereigntyContext struct {
	PrimarySovereign  string    `json:"primary_sovereign"`
	ActiveAgents      []string  `json:"active_agents"`
	Stage             string    `json:"stage"`
	GovernanceVersion string    `json:"governance_version"`
	PolicyVersion     string    `json:"policy_version"`
	Timestamp         time.Time `json:"timestamp"`
}

// LiabilityForEvent infers the liability class a new chain link carries
// from the event type that created it
func LiabilityForEvent(t EventType) LiabilityType {
	switch t {
	case EventOverride:
		return LiabilityOverridden
	case EventApproval:
		return LiabilityShared
	case EventResponsibilityTransfer:
		return LiabilityDelegated
	case EventHumanIntervention:
		return LiabilityOverridden
	default:
		return LiabilityDirect
	}
}
