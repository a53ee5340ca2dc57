package models

import "time"

// ViolationLevel ranks the severity of a governance violation
type ViolationLevel string

const (
	ViolationCritical ViolationLevel = "CRITICAL"
	ViolationMajor    ViolationLevel = "MAJOR"
	ViolationMinor    ViolationLevel = "MINOR"
	ViolationInfo     ViolationLevel = "INFO"
)

var violationRank = map[ViolationLevel]int{
	ViolationInfo:     0,
	ViolationMinor:    1,
	ViolationMajor:    2,
	ViolationCritical: 3,
}

// Rank returns the numeric ordering of the level, higher is more severe
func (l ViolationLevel) Rank() int {
	return violationRank[l]
}

// AtLeast reports whether l is as severe as other or more
func (l ViolationLevel) AtLeast(other ViolationLevel) bool {
	return l.Rank() >= other.Rank()
}

// ViolationStatus tracks whether a violation is still outstanding.
// A violation is never deleted; resolving it produces a new logical
// state with the status advanced.
type ViolationStatus string

const (
	ViolationOpen     ViolationStatus = "OPEN"
	ViolationResolved ViolationStatus = "RESOLVED"
)

// GovernanceViolation records a matched rule against an event. Content
// is immutable once created; only Status advances, via WithStatus.
type GovernanceViolation struct {
	ID        string                 `json:"id"`
	RuleID    string                 `json:"rule_id"`
	Level     ViolationLevel         `json:"level"`
	EventID   string                 `json:"event_id"`
	EventType EventType              `json:"event_type"`
	ActorID   string                 `json:"actor_id,omitempty"`
	Stage     string                 `json:"stage"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Status    ViolationStatus        `json:"status"`
}

// WithStatus returns a copy of the violation with the status advanced
func (v GovernanceViolation) WithStatus(s ViolationStatus) GovernanceViolation {
	v.Status = s
	return v
}

// MaxViolationLevel returns the most severe level among the violations,
// or "" when the slice is empty
func MaxViolationLevel(violations []GovernanceViolation) ViolationLevel {
	var max ViolationLevel
	for _, v := range violations {
		if max == "" || v.Level.Rank() > max.Rank() {
			max = v.Level
		}
	}
	return max
}
