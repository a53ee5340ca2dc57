package kernel

import "github.com/upb/agent-governor/models"

// Result is what Submit returns for a processed event: the terminal
// outcome plus everything enforcement decided along the way
type Result struct {
	EventID       string                       `json:"event_id"`
	Result        models.EventResult           `json:"result"`
	Stage         string                       `json:"stage"`
	StageBefore   string                       `json:"stage_before,omitempty"`
	Violations    []models.GovernanceViolation `json:"violations,omitempty"`
	Actions       []models.Action              `json:"actions,omitempty"`
	Score         models.Score                 `json:"score"`
	Frozen        bool                         `json:"frozen"`
	AuditRecordID string                       `json:"audit_record_id"`
	ProofID       string                       `json:"proof_id,omitempty"`
	Message       string                       `json:"message,omitempty"`
}

// Blocked reports whether enforcement refused the event's intent
func (r *Result) Blocked() bool {
	return r.Result == models.ResultFailed
}
