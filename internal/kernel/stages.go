package kernel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/upb/agent-governor/models"
)

// stageTable holds the governed lifecycle: which stages exist, in what
// order, and what each one permits
type stageTable struct {
	stages  map[string]*models.GovernanceStage
	order   []string
	initial string
}

func newStageTable(stages []models.GovernanceStage) (*stageTable, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stage table is empty")
	}
	t := &stageTable{stages: make(map[string]*models.GovernanceStage, len(stages))}
	for i := range stages {
		s := stages[i]
		if s.ID == "" {
			return nil, fmt.Errorf("stage %d has no id", i)
		}
		if _, dup := t.stages[s.ID]; dup {
			return nil, fmt.Errorf("duplicate stage id %s", s.ID)
		}
		if len(s.AllowedEvents) == 0 {
			return nil, fmt.Errorf("stage %s permits no events", s.ID)
		}
		if len(s.AllowedActions) == 0 {
			return nil, fmt.Errorf("stage %s permits no actions", s.ID)
		}
		t.stages[s.ID] = &s
		t.order = append(t.order, s.ID)
	}
	for _, s := range t.stages {
		for _, next := range s.NextStages {
			if _, ok := t.stages[next]; !ok {
				return nil, fmt.Errorf("stage %s names unknown successor %s", s.ID, next)
			}
		}
		for _, prev := range s.PrevStages {
			if _, ok := t.stages[prev]; !ok {
				return nil, fmt.Errorf("stage %s names unknown predecessor %s", s.ID, prev)
			}
		}
	}
	t.initial = t.order[0]
	return t, nil
}

func (t *stageTable) get(id string) (*models.GovernanceStage, bool) {
	s, ok := t.stages[id]
	return s, ok
}

// isNewCycle reports whether moving from -> to wraps the lifecycle
// back to its first stage
func (t *stageTable) isNewCycle(from, to string) bool {
	return to == t.initial && from != t.initial
}

// defaultStages returns the built-in five stage lifecycle. The final
// stage loops back to the first: closing a cycle starts the next one
// with a fresh stage score, while the global score carries over.
func defaultStages() []models.GovernanceStage {
	everyone := []models.ActorType{models.ActorTypeSystem, models.ActorTypeHuman}
	return []models.GovernanceStage{
		{
			ID:   "S1",
			Name: "Initialization",
			AllowedEvents: []models.EventType{
				models.EventStageChange, models.EventStatusQuery, models.EventPolicyChange,
			},
			AllowedActions: []models.GovernanceAction{
				models.ActionLogViolation, models.ActionAllow,
			},
			CanFreeze:     true,
			NextStages:    []string{"S2"},
			PrevStages:    []string{"S5"},
			OverlayStates: []string{models.OverlayFrozen},
			TransitionBy:  everyone,
		},
		{
			ID:   "S2",
			Name: "Development",
			AllowedEvents: []models.EventType{
				models.EventStageChange, models.EventStatusQuery, models.EventPolicyChange,
				models.EventCodeGeneration, models.EventToolCall,
			},
			AllowedActions: []models.GovernanceAction{
				models.ActionFreezeProject, models.ActionLogViolation,
				models.ActionScorePenalty, models.ActionAllow,
			},
			CanFreeze:     true,
			NextStages:    []string{"S3"},
			PrevStages:    []string{"S1"},
			OverlayStates: []string{models.OverlayFrozen},
			TransitionBy:  everyone,
		},
		{
			ID:   "S3",
			Name: "Architecture Review",
			AllowedEvents: []models.EventType{
				models.EventStageChange, models.EventStatusQuery, models.EventPolicyChange,
				models.EventCodeGeneration, models.EventArchViolation,
			},
			AllowedActions: []models.GovernanceAction{
				models.ActionFreezeProject, models.ActionLogViolation,
				models.ActionScorePenalty, models.ActionAllow,
			},
			CanFreeze:     true,
			NextStages:    []string{"S4"},
			PrevStages:    []string{"S2"},
			OverlayStates: []string{models.OverlayFrozen},
			TransitionBy:  everyone,
		},
		{
			ID:   "S4",
			Name: "Audit",
			AllowedEvents: []models.EventType{
				models.EventStageChange, models.EventStatusQuery, models.EventPolicyChange,
				models.EventAuditMissing,
			},
			AllowedActions: []models.GovernanceAction{
				models.ActionRequireHumanApproval, models.ActionFreezeProject,
				models.ActionLogViolation, models.ActionAllow,
			},
			CanFreeze:     true,
			NextStages:    []string{"S5"},
			PrevStages:    []string{"S3"},
			OverlayStates: []string{models.OverlayFrozen},
			TransitionBy:  everyone,
			AuditRequired: true,
		},
		{
			ID:   "S5",
			Name: "Finalization",
			AllowedEvents: []models.EventType{
				models.EventStageChange, models.EventStatusQuery, models.EventPolicyChange,
				models.EventCodeGeneration,
			},
			AllowedActions: []models.GovernanceAction{
				models.ActionAllow, models.ActionLogViolation,
			},
			NextStages:   []string{"S1"},
			PrevStages:   []string{"S4"},
			TransitionBy: everyone,
		},
	}
}

// LoadStages reads a stage table definition from a YAML file,
// replacing the built-in lifecycle
func LoadStages(path string) ([]models.GovernanceStage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stage file %s: %w", path, err)
	}
	var doc struct {
		Stages []models.GovernanceStage `yaml:"stages"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing stage file %s: %w", path, err)
	}
	if len(doc.Stages) == 0 {
		return nil, fmt.Errorf("stage file %s defines no stages", path)
	}
	return doc.Stages, nil
}
