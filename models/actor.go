package models

// ActorRole represents the functional role an actor plays in the project
type ActorRole string

const (
	ActorRolePlanner  ActorRole = "planner"
	ActorRoleCoder    ActorRole = "coder"
	ActorRoleReviewer ActorRole = "reviewer"
	ActorRoleSystem   ActorRole = "system"
)

// ActorType represents the kind of entity behind an actor
type ActorType string

const (
	ActorTypeAI     ActorType = "AI"
	ActorTypeHuman  ActorType = "HUMAN"
	ActorTypeSystem ActorType = "SYSTEM"
)

// Actor is the accountable entity behind a governance event.
// It is never optional on a processed event: an event without an actor
// is rejected by the kernel before any further processing.
type Actor struct {
	ID       string                 `json:"id" validate:"required"`
	Role     ActorRole              `json:"role" validate:"required,oneof=planner coder reviewer system"`
	RoleType ActorType              `json:"role_type" validate:"required,oneof=AI HUMAN SYSTEM"`
	Source   string                 `json:"source" validate:"required"`
	Name     string                 `json:"name,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CanUnfreeze reports whether this actor type is privileged to unfreeze a project.
// Only SYSTEM and HUMAN actors may lift a freeze; AI actors are never allowed to.
func (a *Actor) CanUnfreeze() bool {
	return a.RoleType == ActorTypeSystem || a.RoleType == ActorTypeHuman
}

// SystemActor returns the built-in actor used for kernel-originated records
func SystemActor() *Actor {
	return &Actor{
		ID:       "system",
		Role:     ActorRoleSystem,
		RoleType: ActorTypeSystem,
		Source:   "kernel",
	}
}
