package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a governance event
type EventType string

const (
	EventStageChange            EventType = "STAGE_CHANGE"
	EventCodeGeneration         EventType = "CODE_GENERATION"
	EventArchViolation          EventType = "ARCH_VIOLATION"
	EventAuditMissing           EventType = "AUDIT_MISSING"
	EventToolCall               EventType = "TOOL_CALL"
	EventFreezeRequest          EventType = "FREEZE_REQUEST"
	EventUnfreeze               EventType = "UNFREEZE"
	EventStatusQuery            EventType = "STATUS"
	EventPolicyChange           EventType = "POLICY_CHANGE"
	EventApproval               EventType = "APPROVAL"
	EventOverride               EventType = "OVERRIDE"
	EventResponsibilityTransfer EventType = "RESPONSIBILITY_TRANSFER"
	EventHumanIntervention      EventType = "HUMAN_INTERVENTION"
)

// EventStatus tracks the lifecycle of a single event through the kernel
type EventStatus string

const (
	EventStatusOpen       EventStatus = "OPEN"
	EventStatusInProgress EventStatus = "IN_PROGRESS"
	EventStatusClosed     EventStatus = "CLOSED"
	EventStatusError      EventStatus = "ERROR"
)

// IsTerminal reports whether the status admits no further transitions
func (s EventStatus) IsTerminal() bool {
	return s == EventStatusClosed || s == EventStatusError
}

// GovernanceEvent is the unit of work submitted to the kernel. Every
// action an agent wants to take enters the system as one of these.
type GovernanceEvent struct {
	ID        string                 `json:"id" validate:"required"`
	Type      EventType              `json:"type" validate:"required"`
	Timestamp time.Time              `json:"timestamp" validate:"required"`
	Actor     *Actor                 `json:"actor,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Status    EventStatus            `json:"status"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewGovernanceEvent creates an OPEN event with a fresh id. The timestamp
// is assigned once at creation and is the time base for everything the
// kernel derives from the event.
func NewGovernanceEvent(eventType EventType, actor *Actor, payload map[string]interface{}) *GovernanceEvent {
	return &GovernanceEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Status:    EventStatusOpen,
		Payload:   payload,
	}
}

// WithStage returns a copy of the event annotated with the stage it was
// processed in
func (e *GovernanceEvent) WithStage(stage string) *GovernanceEvent {
	c := *e
	c.Stage = stage
	return &c
}

// WithStatus returns a copy of the event with the given status
func (e *GovernanceEvent) WithStatus(status EventStatus) *GovernanceEvent {
	c := *e
	c.Status = status
	return &c
}

// PayloadString fetches a string payload field, returning "" when absent
// or of another type
func (e *GovernanceEvent) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
