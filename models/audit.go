package models

import "time"

// EventResult is the terminal outcome recorded for an event
type EventResult string

const (
	ResultSuccess EventResult = "SUCCESS"
	ResultFailed  EventResult = "FAILED"
	ResultError   EventResult = "ERROR"
)

// AuditRecord is the immutable account of how one event was processed.
// Exactly one record exists per processed event, with an id derived
// from the event id so replays produce identical records.
type AuditRecord struct {
	ID         string                 `json:"id"`
	EventID    string                 `json:"event_id"`
	EventType  EventType              `json:"event_type"`
	ActorID    string                 `json:"actor_id,omitempty"`
	ActorType  ActorType              `json:"actor_type,omitempty"`
	Stage      string                 `json:"stage"`
	Result     EventResult            `json:"result"`
	Violations []GovernanceViolation  `json:"violations,omitempty"`
	Actions    []Action               `json:"actions,omitempty"`
	Score      Score                  `json:"score"`
	Message    string                 `json:"message,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// NewAuditRecord builds the record for an event. The record timestamp is
// the event's own timestamp so that replaying the log reproduces it.
func NewAuditRecord(event *GovernanceEvent, result EventResult) *AuditRecord {
	r := &AuditRecord{
		ID:        "audit-" + event.ID,
		EventID:   event.ID,
		EventType: event.Type,
		Stage:     event.Stage,
		Result:    result,
		Timestamp: event.Timestamp,
	}
	if event.Actor != nil {
		r.ActorID = event.Actor.ID
		r.ActorType = event.Actor.RoleType
	}
	return r
}

// WithViolations attaches the violations found while processing
func (r *AuditRecord) WithViolations(violations []GovernanceViolation) *AuditRecord {
	r.Violations = violations
	return r
}

// WithActions attaches the enforcement actions that were executed
func (r *AuditRecord) WithActions(actions []Action) *AuditRecord {
	r.Actions = actions
	return r
}

// WithScore attaches the score after processing
func (r *AuditRecord) WithScore(score Score) *AuditRecord {
	r.Score = score
	return r
}

// WithMessage attaches a human-readable outcome message
func (r *AuditRecord) WithMessage(msg string) *AuditRecord {
	r.Message = msg
	return r
}

// WithDetails attaches free-form processing details
func (r *AuditRecord) WithDetails(details map[string]interface{}) *AuditRecord {
	r.Details = details
	return r
}
