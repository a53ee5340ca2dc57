package models

// GovernanceAction is an enforcement directive produced by policy resolution
type GovernanceAction string

const (
	ActionFreezeProject        GovernanceAction = "FREEZE_PROJECT"
	ActionUnfreezeProject      GovernanceAction = "UNFREEZE_PROJECT"
	ActionLogViolation         GovernanceAction = "LOG_VIOLATION"
	ActionScorePenalty         GovernanceAction = "SCORE_PENALTY"
	ActionRequireHumanApproval GovernanceAction = "REQUIRE_HUMAN_APPROVAL"
	ActionAllow                GovernanceAction = "ALLOW"
)

// PolicyTier identifies where a policy came from. System policies are
// always evaluated first; project policies add enforcement on top and
// can never weaken what the system tier decided.
type PolicyTier string

const (
	PolicyTierSystem  PolicyTier = "system"
	PolicyTierProject PolicyTier = "project"
)

// PolicyMatch is the predicate a violation must satisfy for the policy
// to fire. Empty fields match anything; Condition uses the same
// one-comparison grammar as trigger conditions, evaluated against the
// violation's fields.
type PolicyMatch struct {
	Level     ViolationLevel `json:"level,omitempty" yaml:"level,omitempty"`
	EventType EventType      `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Condition string         `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// PolicyActionSpec is one action a policy emits when it matches,
// together with its static parameters
type PolicyActionSpec struct {
	Action GovernanceAction       `json:"action" yaml:"action"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// GovernancePolicy binds a match predicate to the actions the kernel
// must take when a violation satisfies it
type GovernancePolicy struct {
	ID      string             `json:"id" yaml:"id"`
	Match   PolicyMatch        `json:"match" yaml:"match"`
	Actions []PolicyActionSpec `json:"actions" yaml:"actions"`
	Tier    PolicyTier         `json:"tier" yaml:"tier"`
	Enabled bool               `json:"enabled" yaml:"enabled"`
}

// Action is a resolved enforcement directive, tagged with the policy
// and violation that produced it so every action traces back to its
// cause
type Action struct {
	Type        GovernanceAction       `json:"type"`
	Reason      string                 `json:"reason,omitempty"`
	ViolationID string                 `json:"violation_id,omitempty"`
	PolicyID    string                 `json:"policy_id"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// HasAction reports whether the resolved actions contain one of type t
func HasAction(actions []Action, t GovernanceAction) bool {
	for _, a := range actions {
		if a.Type == t {
			return true
		}
	}
	return false
}
