package kernel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/upb/agent-governor/models"
)

// policyResolver turns violations into enforcement actions. Policies
// come in two tiers: the built-in system tier is evaluated first for
// every violation, and project policies only ever add actions on top.
// A project policy cannot weaken what the system tier decided.
type policyResolver struct {
	system  []models.GovernancePolicy
	project []models.GovernancePolicy
	conds   map[string]*condition
	version string
}

func systemPolicies() []models.GovernancePolicy {
	return []models.GovernancePolicy{
		{
			ID:    "system-critical",
			Match: models.PolicyMatch{Level: models.ViolationCritical},
			Actions: []models.PolicyActionSpec{
				{Action: models.ActionFreezeProject},
				{Action: models.ActionLogViolation},
			},
			Tier:    models.PolicyTierSystem,
			Enabled: true,
		},
		{
			ID:    "system-major",
			Match: models.PolicyMatch{Level: models.ViolationMajor},
			Actions: []models.PolicyActionSpec{
				{Action: models.ActionRequireHumanApproval},
				{Action: models.ActionScorePenalty},
				{Action: models.ActionLogViolation},
			},
			Tier:    models.PolicyTierSystem,
			Enabled: true,
		},
		{
			ID:    "system-minor",
			Match: models.PolicyMatch{Level: models.ViolationMinor},
			Actions: []models.PolicyActionSpec{
				{Action: models.ActionLogViolation},
				{Action: models.ActionScorePenalty},
			},
			Tier:    models.PolicyTierSystem,
			Enabled: true,
		},
		{
			ID:      "system-info",
			Match:   models.PolicyMatch{Level: models.ViolationInfo},
			Actions: []models.PolicyActionSpec{{Action: models.ActionAllow}},
			Tier:    models.PolicyTierSystem,
			Enabled: true,
		},
	}
}

func newPolicyResolver(projectPolicies []models.GovernancePolicy, version string) (*policyResolver, error) {
	r := &policyResolver{
		system:  systemPolicies(),
		conds:   make(map[string]*condition),
		version: version,
	}
	for _, p := range projectPolicies {
		p.Tier = models.PolicyTierProject
		r.project = append(r.project, p)
	}
	for _, p := range append(append([]models.GovernancePolicy{}, r.system...), r.project...) {
		if p.ID == "" {
			return nil, fmt.Errorf("policy with match %+v has no id", p.Match)
		}
		if p.Match.Condition == "" {
			continue
		}
		cond, err := parseCondition(p.Match.Condition)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		r.conds[p.ID] = cond
	}
	return r, nil
}

// violationContext exposes a violation's fields to policy match
// conditions
func violationContext(v models.GovernanceViolation) map[string]interface{} {
	return map[string]interface{}{
		"level":      string(v.Level),
		"rule_id":    v.RuleID,
		"event_type": string(v.EventType),
		"stage":      v.Stage,
		"actor_id":   v.ActorID,
	}
}

func (r *policyResolver) match(p models.GovernancePolicy, v models.GovernanceViolation) (bool, error) {
	if !p.Enabled {
		return false, nil
	}
	if p.Match.Level != "" && p.Match.Level != v.Level {
		return false, nil
	}
	if p.Match.EventType != "" && p.Match.EventType != v.EventType {
		return false, nil
	}
	if cond, ok := r.conds[p.ID]; ok {
		matched, err := cond.evaluate(violationContext(v))
		if err != nil {
			return false, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		return matched, nil
	}
	return true, nil
}

// Resolve emits one tagged action per action of every matching enabled
// policy, system tier first. Nothing is deduplicated or replaced: the
// system tier's answer always survives, and a violation no policy
// matches emits no action but stays on the audit record.
func (r *policyResolver) Resolve(violations []models.GovernanceViolation) ([]models.Action, error) {
	var actions []models.Action
	for _, v := range violations {
		for _, tier := range [][]models.GovernancePolicy{r.system, r.project} {
			for _, p := range tier {
				matched, err := r.match(p, v)
				if err != nil {
					return nil, err
				}
				if !matched {
					continue
				}
				for _, spec := range p.Actions {
					actions = append(actions, models.Action{
						Type:        spec.Action,
						Reason:      fmt.Sprintf("policy %s matched %s violation %s", p.ID, v.Level, v.RuleID),
						ViolationID: v.ID,
						PolicyID:    p.ID,
						Params:      spec.Params,
					})
				}
			}
		}
	}
	return actions, nil
}

// Version reports the active policy version
func (r *policyResolver) Version() string { return r.version }

// LoadPolicies reads every .yaml/.yml file under dir, in name order,
// and returns the project-tier policies they define. A later file
// replaces an earlier policy with the same id; a policy with no
// enabled key defaults to enabled.
func LoadPolicies(dir string) ([]models.GovernancePolicy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading policy dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	type policyDoc struct {
		ID      string                    `yaml:"id"`
		Match   models.PolicyMatch        `yaml:"match"`
		Actions []models.PolicyActionSpec `yaml:"actions"`
		Enabled *bool                     `yaml:"enabled"`
	}

	byID := make(map[string]models.GovernancePolicy)
	var order []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading policy file %s: %w", path, err)
		}
		var doc struct {
			Policies []policyDoc `yaml:"policies"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
		}
		for _, p := range doc.Policies {
			if p.ID == "" {
				return nil, fmt.Errorf("policy in %s has no id", path)
			}
			enabled := true
			if p.Enabled != nil {
				enabled = *p.Enabled
			}
			if _, ok := byID[p.ID]; !ok {
				order = append(order, p.ID)
			}
			byID[p.ID] = models.GovernancePolicy{
				ID:      p.ID,
				Match:   p.Match,
				Actions: p.Actions,
				Tier:    models.PolicyTierProject,
				Enabled: enabled,
			}
		}
	}
	out := make([]models.GovernancePolicy, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}
