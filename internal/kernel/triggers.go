package kernel

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/upb/agent-governor/models"
)

// Trigger declares a violation rule: when an event of Type arrives and
// Condition holds against the evaluation context, a violation of Level
// is raised
type Trigger struct {
	Name      string                `json:"name" yaml:"name"`
	EventType models.EventType      `json:"event_type" yaml:"event_type"`
	Condition string                `json:"condition,omitempty" yaml:"condition,omitempty"`
	Level     models.ViolationLevel `json:"level" yaml:"level"`
	Message   string                `json:"message,omitempty" yaml:"message,omitempty"`
}

// defaultTriggers returns the built-in rule set
func defaultTriggers() []Trigger {
	return []Trigger{
		{
			Name:      "code_outside_final_stage",
			EventType: models.EventCodeGeneration,
			Condition: `stage != "S5"`,
			Level:     models.ViolationCritical,
			Message:   "code generation attempted outside the finalization stage",
		},
		{
			Name:      "audit_missing",
			EventType: models.EventAuditMissing,
			Condition: `audit_required == true`,
			Level:     models.ViolationMajor,
			Message:   "required audit has not been completed",
		},
		{
			Name:      "arch_violation",
			EventType: models.EventArchViolation,
			Level:     models.ViolationMinor,
			Message:   "architecture constraint violated",
		},
	}
}

// condition is a parsed trigger condition: one key, one comparison
// operator, one literal. The grammar is deliberately small so that
// every rule is auditable at a glance.
type condition struct {
	key     string
	op      string
	literal interface{}
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func parseCondition(expr string) (*condition, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return nil, fmt.Errorf("condition %q: want <key> <op> <literal>", expr)
	}
	key, op, lit := fields[0], fields[1], fields[2]
	if !comparisonOps[op] {
		return nil, fmt.Errorf("condition %q: unknown operator %q", expr, op)
	}
	return &condition{key: key, op: op, literal: parseLiteral(lit)}, nil
}

func parseLiteral(s string) interface{} {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// evaluate resolves the condition against ctx. A key absent from the
// context is an error, never a silent false: a rule that cannot be
// evaluated must not be treated as satisfied or unsatisfied.
func (c *condition) evaluate(ctx map[string]interface{}) (bool, error) {
	value, ok := ctx[c.key]
	if !ok {
		return false, fmt.Errorf("condition key %q is not bound in the evaluation context", c.key)
	}
	switch c.op {
	case "==":
		return literalEqual(value, c.literal), nil
	case "!=":
		return !literalEqual(value, c.literal), nil
	}
	lhs, lok := toFloat(value)
	rhs, rok := toFloat(c.literal)
	if !lok || !rok {
		return false, fmt.Errorf("operator %q needs numeric operands, got %T and %T", c.op, value, c.literal)
	}
	switch c.op {
	case "<":
		return lhs < rhs, nil
	case "<=":
		return lhs <= rhs, nil
	case ">":
		return lhs > rhs, nil
	case ">=":
		return lhs >= rhs, nil
	}
	return false, fmt.Errorf("unknown operator %q", c.op)
}

func literalEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// triggerEvaluator matches events against the rule set
type triggerEvaluator struct {
	triggers []Trigger
	parsed   map[string]*condition
}

func newTriggerEvaluator(triggers []Trigger) (*triggerEvaluator, error) {
	ev := &triggerEvaluator{triggers: triggers, parsed: make(map[string]*condition)}
	for _, t := range triggers {
		if t.Name == "" {
			return nil, fmt.Errorf("trigger with event type %s has no name", t.EventType)
		}
		if t.Condition == "" {
			continue
		}
		cond, err := parseCondition(t.Condition)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", t.Name, err)
		}
		ev.parsed[t.Name] = cond
	}
	return ev, nil
}

// evaluationContext exposes the event and current state to trigger
// conditions. Payload fields are addressable as payload.<key>.
func evaluationContext(event *models.GovernanceEvent, state *models.ProjectState, stage *models.GovernanceStage) map[string]interface{} {
	ctx := map[string]interface{}{
		"event_type":      string(event.Type),
		"stage":           state.Stage,
		"frozen":          state.Frozen,
		"score_global":    state.Score.Global,
		"score_stage":     state.Score.Stage,
		"audit_required":  stage.AuditRequired,
		"audit_completed": state.Audit.Completed,
	}
	if event.Actor != nil {
		ctx["actor_id"] = event.Actor.ID
		ctx["actor_role"] = string(event.Actor.Role)
		ctx["actor_type"] = string(event.Actor.RoleType)
	}
	for k, v := range event.Payload {
		ctx["payload."+k] = v
	}
	return ctx
}

// Evaluate returns the violations raised by the event. A condition that
// cannot be evaluated aborts the whole evaluation.
func (ev *triggerEvaluator) Evaluate(event *models.GovernanceEvent, state *models.ProjectState, stage *models.GovernanceStage) ([]models.GovernanceViolation, error) {
	ctx := evaluationContext(event, state, stage)
	var violations []models.GovernanceViolation
	for _, t := range ev.triggers {
		if t.EventType != event.Type {
			continue
		}
		if cond, ok := ev.parsed[t.Name]; ok {
			matched, err := cond.evaluate(ctx)
			if err != nil {
				return nil, fmt.Errorf("trigger %s: %w", t.Name, err)
			}
			if !matched {
				continue
			}
		}
		v := models.GovernanceViolation{
			RuleID:    t.Name,
			Level:     t.Level,
			EventID:   event.ID,
			EventType: event.Type,
			Stage:     state.Stage,
			Message:   t.Message,
			Timestamp: event.Timestamp,
			Status:    models.ViolationOpen,
		}
		if event.Actor != nil {
			v.ActorID = event.Actor.ID
		}
		violations = append(violations, v)
	}
	return violations, nil
}

// LoadTriggers reads extra triggers from a YAML file. They are
// appended after the built-in rules.
func LoadTriggers(path string) ([]Trigger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trigger file %s: %w", path, err)
	}
	var doc struct {
		Triggers []Trigger `yaml:"triggers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing trigger file %s: %w", path, err)
	}
	return doc.Triggers, nil
}
