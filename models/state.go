package models

import "time"

const (
	// MaxScore is the ceiling for both score tracks
	MaxScore = 100
	// MinScore is the floor for both score tracks
	MinScore = 0
)

// OverlayFrozen is the overlay flag marking a frozen project. Overlays
// layer on top of the lifecycle stage; new overlay kinds compose
// without a schema change.
const OverlayFrozen = "frozen"

// Score holds the two governance score tracks. The global track only
// ever decreases; the stage track resets to MaxScore on every stage
// change.
type Score struct {
	Global int `json:"global"`
	Stage  int `json:"stage"`
}

// NewScore returns both tracks at their ceiling
func NewScore() Score {
	return Score{Global: MaxScore, Stage: MaxScore}
}

// AuditState summarizes a stage's audit obligations
type AuditState struct {
	Required  bool   `json:"required"`
	Completed bool   `json:"completed"`
	LastAudit string `json:"last_audit,omitempty"`
}

// ProjectState is the authoritative, persisted governance state of a
// project. All mutation happens inside the kernel while holding its
// lock. Overlay states are the source of truth for conditions layered
// on the stage; Frozen is kept in sync with the overlay set for
// readers that predate it.
type ProjectState struct {
	ProjectID       string                 `json:"project_id"`
	Stage           string                 `json:"stage"`
	Overlays        []string               `json:"overlay_states"`
	Frozen          bool                   `json:"frozen"`
	FreezeReason    string                 `json:"freeze_reason,omitempty"`
	FrozenAt        *time.Time             `json:"frozen_at,omitempty"`
	Score           Score                  `json:"score"`
	ViolationCounts map[ViolationLevel]int `json:"violation_counts"`
	Audit           AuditState             `json:"audit"`
	EventCount      int                    `json:"event_count"`
	LastEventID     string                 `json:"last_event_id,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
	StateVersion    int                    `json:"state_version"`
}

// NewProjectState returns the initial state for a project in the first
// lifecycle stage
func NewProjectState(projectID, initialStage string) *ProjectState {
	return &ProjectState{
		ProjectID:       projectID,
		Stage:           initialStage,
		Overlays:        []string{},
		Score:           NewScore(),
		ViolationCounts: make(map[ViolationLevel]int),
		StateVersion:    1,
	}
}

// HasOverlay reports whether the overlay flag is set
func (s *ProjectState) HasOverlay(name string) bool {
	for _, o := range s.Overlays {
		if o == name {
			return true
		}
	}
	return false
}

// SetOverlay adds the overlay flag if absent
func (s *ProjectState) SetOverlay(name string) {
	if !s.HasOverlay(name) {
		s.Overlays = append(s.Overlays, name)
	}
	s.Frozen = s.HasOverlay(OverlayFrozen)
}

// ClearOverlay removes the overlay flag if present
func (s *ProjectState) ClearOverlay(name string) {
	out := s.Overlays[:0]
	for _, o := range s.Overlays {
		if o != name {
			out = append(out, o)
		}
	}
	s.Overlays = out
	s.Frozen = s.HasOverlay(OverlayFrozen)
}

// Clone returns a deep copy of the state
func (s *ProjectState) Clone() *ProjectState {
	c := *s
	c.Overlays = make([]string, len(s.Overlays))
	copy(c.Overlays, s.Overlays)
	c.ViolationCounts = make(map[ViolationLevel]int, len(s.ViolationCounts))
	for k, v := range s.ViolationCounts {
		c.ViolationCounts[k] = v
	}
	if s.FrozenAt != nil {
		t := *s.FrozenAt
		c.FrozenAt = &t
	}
	return &c
}
