package models

import "time"

// GovernanceStage describes one lifecycle stage and the authority it
// grants: which event types may occur, which enforcement actions are
// available, which overlay states may be layered on, and which stages
// can precede or follow it.
type GovernanceStage struct {
	ID             string             `json:"id" yaml:"id"`
	Name           string             `json:"name" yaml:"name"`
	AllowedEvents  []EventType        `json:"allowed_events" yaml:"allowed_events"`
	AllowedActions []GovernanceAction `json:"allowed_actions" yaml:"allowed_actions"`
	CanFreeze      bool               `json:"can_freeze" yaml:"can_freeze"`
	CanUnfreeze    bool               `json:"can_unfreeze" yaml:"can_unfreeze"`
	NextStages     []string           `json:"next_stages" yaml:"next_stages"`
	PrevStages     []string           `json:"prev_stages" yaml:"prev_stages"`
	OverlayStates  []string           `json:"overlay_states" yaml:"overlay_states"`
	TransitionBy   []ActorType        `json:"allowed_transition_actors" yaml:"allowed_transition_actors"`
	AuditRequired  bool               `json:"audit_required" yaml:"audit_required"`
}

// AllowsEvent reports whether the event type may occur in this stage
func (s *GovernanceStage) AllowsEvent(t EventType) bool {
	for _, e := range s.AllowedEvents {
		if e == t {
			return true
		}
	}
	return false
}

// AllowsAction reports whether the enforcement action is available in
// this stage
func (s *GovernanceStage) AllowsAction(a GovernanceAction) bool {
	for _, x := range s.AllowedActions {
		if x == a {
			return true
		}
	}
	return false
}

// AllowsOverlay reports whether the overlay state may be layered on
// this stage
func (s *GovernanceStage) AllowsOverlay(name string) bool {
	for _, o := range s.OverlayStates {
		if o == name {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor stage
func (s *GovernanceStage) CanTransitionTo(next string) bool {
	for _, n := range s.NextStages {
		if n == next {
			return true
		}
	}
	return false
}

// AllowsTransitionBy reports whether the actor type may drive a stage
// transition out of this stage
func (s *GovernanceStage) AllowsTransitionBy(t ActorType) bool {
	for _, a := range s.TransitionBy {
		if a == t {
			return true
		}
	}
	return false
}

// StageTransition records a completed stage change
type StageTransition struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorID   string    `json:"actor_id"`
	EventID   string    `json:"event_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// NewCycle marks a wrap from the final stage back to the first.
	// The stage score track resets like any other transition; the
	// global track survives the wrap.
	NewCycle bool `json:"new_cycle,omitempty"`
}
