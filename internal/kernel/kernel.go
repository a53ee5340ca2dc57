// Package kernel is the governance core: the single gate every agent
// action passes through. Submit is the only entry point that mutates
// project state; everything else is read-only.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/agent-governor/internal/eventlog"
	"github.com/upb/agent-governor/models"
)

// Synthetic rule ids for violations the kernel raises itself, outside
// the configured rule set
const (
	ruleEventNotAllowed     = "event_not_allowed_in_stage"
	ruleInvalidTransition   = "invalid_stage_transition"
	ruleFreezeUnavailable   = "freeze_not_available_in_stage"
	ruleAnonymousEvent      = "anonymous_event"
	ruleFrozenProject       = "frozen_project"
	ruleUnfreezeDenied      = "unauthorized_unfreeze"
)

// Options configures a Kernel
type Options struct {
	ProjectID string
	// Dir is the governance state directory. Empty disables
	// persistence, which replay and tests rely on.
	Dir      string
	Store    eventlog.Store
	Logger   *zap.Logger
	Stages   []models.GovernanceStage
	Triggers []Trigger
	Policies []models.GovernancePolicy

	AgentVersion  string
	PolicyVersion string
}

// Kernel orchestrates the full event lifecycle: validation, stage
// authority, trigger evaluation, policy resolution, scoring, state
// persistence, audit, responsibility, and proof. All of Submit runs
// under one lock, so enforcement decisions are serialized.
type Kernel struct {
	mu sync.Mutex

	projectID string
	store     eventlog.Store
	logger    *zap.Logger

	stages    *stageTable
	evaluator *triggerEvaluator
	policies  *policyResolver
	ledger    *scoreLedger

	stateMgr *stateManager
	state    *models.ProjectState

	responsibility *responsibilityTracker
	proofs         *proofChain
	auditRecords   map[string]*models.AuditRecord
	violationLog   map[string]models.GovernanceViolation
	violationIDs   []string
	transitions    []models.StageTransition
}

// New builds a kernel, resuming persisted state when Dir holds one
func New(opts Options) (*Kernel, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("kernel needs a project id")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("kernel needs an event store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stageDefs := opts.Stages
	if len(stageDefs) == 0 {
		stageDefs = defaultStages()
	}
	stages, err := newStageTable(stageDefs)
	if err != nil {
		return nil, fmt.Errorf("building stage table: %w", err)
	}

	triggers := append(defaultTriggers(), opts.Triggers...)
	evaluator, err := newTriggerEvaluator(triggers)
	if err != nil {
		return nil, fmt.Errorf("building trigger evaluator: %w", err)
	}

	policyVersion := opts.PolicyVersion
	if policyVersion == "" {
		policyVersion = "builtin"
	}
	agentVersion := opts.AgentVersion
	if agentVersion == "" {
		agentVersion = "unknown"
	}

	policies, err := newPolicyResolver(opts.Policies, policyVersion)
	if err != nil {
		return nil, fmt.Errorf("building policy resolver: %w", err)
	}

	k := &Kernel{
		projectID:      opts.ProjectID,
		store:          opts.Store,
		logger:         logger,
		stages:         stages,
		evaluator:      evaluator,
		policies:       policies,
		ledger:         newScoreLedger(),
		responsibility: newResponsibilityTracker(),
		proofs:         newProofChain(agentVersion, policyVersion),
		auditRecords:   make(map[string]*models.AuditRecord),
		violationLog:   make(map[string]models.GovernanceViolation),
	}

	if opts.Dir != "" {
		mgr, err := newStateManager(opts.Dir, logger)
		if err != nil {
			return nil, err
		}
		k.stateMgr = mgr
		state, err := mgr.LoadState()
		if err != nil {
			return nil, err
		}
		records, err := mgr.LoadAudit()
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			k.auditRecords[r.EventID] = r
		}
		k.state = state
	}
	if k.state == nil {
		k.state = models.NewProjectState(opts.ProjectID, stages.initial)
		firstStage, _ := stages.get(stages.initial)
		k.state.Audit = models.AuditState{Required: firstStage.AuditRequired}
	}
	return k, nil
}

// Submit runs one event through the full governance pipeline. It is
// the only mutation path in the system.
func (k *Kernel) Submit(ctx context.Context, event *models.GovernanceEvent) (*Result, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.submit(ctx, event)
}

func (k *Kernel) submit(ctx context.Context, event *models.GovernanceEvent) (*Result, error) {
	if event == nil || event.ID == "" || event.Type == "" || event.Timestamp.IsZero() {
		return nil, evaluationError("", "event is missing id, type, or timestamp", nil)
	}

	// Rejection paths. The event still enters the log with a FAILED
	// audit record, so the refusal itself is on the record.
	if event.Actor == nil {
		return nil, k.reject(ctx, event, ErrNoActor, ruleAnonymousEvent, "event carries no actor")
	}
	if k.state.Frozen && event.Type != models.EventUnfreeze && event.Type != models.EventStatusQuery {
		return nil, k.reject(ctx, event, ErrProjectFrozen, ruleFrozenProject,
			fmt.Sprintf("project is frozen: %s", k.state.FreezeReason))
	}
	if event.Type == models.EventUnfreeze && !event.Actor.CanUnfreeze() {
		return nil, k.reject(ctx, event, ErrUnfreezeNotAllowed, ruleUnfreezeDenied,
			fmt.Sprintf("actor type %s may not unfreeze", event.Actor.RoleType))
	}

	stage, ok := k.stages.get(k.state.Stage)
	if !ok {
		return nil, evaluationError(event.ID, fmt.Sprintf("state names unknown stage %s", k.state.Stage), nil)
	}

	event = event.WithStage(k.state.Stage).WithStatus(models.EventStatusInProgress)
	if err := k.store.Append(ctx, event); err != nil {
		if errors.Is(err, eventlog.ErrDuplicateID) {
			return nil, rejectionError(ErrDuplicateEvent, event.ID)
		}
		return nil, persistenceError(event.ID, "appending event", err)
	}

	result, err := k.process(ctx, event, stage)
	if err != nil {
		if serr := k.store.UpdateStatus(ctx, event.ID, models.EventStatusError); serr != nil {
			k.logger.Error("marking event errored", zap.String("event_id", event.ID), zap.Error(serr))
		}
		return nil, err
	}

	if err := k.store.UpdateStatus(ctx, event.ID, models.EventStatusClosed); err != nil {
		return nil, persistenceError(event.ID, "closing event", err)
	}
	return result, nil
}

// process runs steps 4 onward: control events, stage authority,
// triggers, policies, scoring, persistence, responsibility, proof
func (k *Kernel) process(ctx context.Context, event *models.GovernanceEvent, stage *models.GovernanceStage) (*Result, error) {
	stageBefore := k.state.Stage
	var violations []models.GovernanceViolation
	var transition *models.StageTransition
	message := ""
	proofType := models.ProofDecision

	switch event.Type {
	case models.EventFreezeRequest:
		if !stage.CanFreeze {
			violations = append(violations, k.syntheticViolation(event, ruleFreezeUnavailable,
				models.ViolationMajor, fmt.Sprintf("stage %s does not permit freezing", stage.ID)))
		} else {
			reason := event.PayloadString("reason")
			if reason == "" {
				reason = "freeze requested"
			}
			k.freeze(event, reason)
			message = "project frozen"
		}

	case models.EventUnfreeze:
		k.unfreeze()
		message = "project unfrozen"

	case models.EventStageChange:
		var v *models.GovernanceViolation
		transition, v = k.checkTransition(event, stage)
		if v != nil {
			violations = append(violations, *v)
		} else {
			proofType = models.ProofStageChange
		}

	case models.EventApproval, models.EventOverride,
		models.EventResponsibilityTransfer, models.EventHumanIntervention:
		// accountability control events are valid in every stage

	default:
		if !stage.AllowsEvent(event.Type) {
			violations = append(violations, k.syntheticViolation(event, ruleEventNotAllowed,
				models.ViolationMajor,
				fmt.Sprintf("event type %s is not permitted in stage %s", event.Type, stage.ID)))
		}
	}

	triggered, err := k.evaluator.Evaluate(event, k.state, stage)
	if err != nil {
		return nil, evaluationError(event.ID, "trigger evaluation failed", err)
	}
	violations = append(violations, triggered...)

	// Violation ids are derived from the event id and position so
	// replays reproduce them
	for i := range violations {
		violations[i].ID = fmt.Sprintf("viol-%s-%d", event.ID, i+1)
		violations[i].ActorID = event.Actor.ID
		violations[i].Status = models.ViolationOpen
	}

	var actions []models.Action
	if len(violations) > 0 {
		actions, err = k.policies.Resolve(violations)
		if err != nil {
			return nil, evaluationError(event.ID, "policy resolution failed", err)
		}
	}

	// Penalties follow directly from violation levels; the resolved
	// actions decide enforcement, not the arithmetic
	k.state.Score = k.ledger.Apply(k.state.Score, violations)
	for _, v := range violations {
		k.state.ViolationCounts[v.Level]++
		k.violationLog[v.ID] = v
		k.violationIDs = append(k.violationIDs, v.ID)
	}

	// A critical violation freezes the project inside this same
	// transaction, regardless of stage authority or resolved actions
	if models.MaxViolationLevel(violations) == models.ViolationCritical && !k.state.Frozen {
		k.freeze(event, fmt.Sprintf("CRITICAL violation on event %s", event.ID))
	}
	for _, a := range actions {
		switch a.Type {
		case models.ActionFreezeProject:
			if !k.state.Frozen {
				k.freeze(event, a.Reason)
			}
		case models.ActionUnfreezeProject:
			if k.state.Frozen {
				k.unfreeze()
			}
		}
	}

	// A transition only lands when no violation blocked the event
	blocked := models.MaxViolationLevel(violations).AtLeast(models.ViolationMajor) && len(violations) > 0
	if transition != nil && !blocked {
		k.applyTransition(event, transition)
		message = fmt.Sprintf("stage changed %s to %s", transition.From, transition.To)
	}

	result := models.ResultSuccess
	if blocked {
		result = models.ResultFailed
		if message == "" {
			message = violations[0].Message
		}
	}

	k.responsibility.Record(event)
	if err := k.handleResponsibilityEvent(event); err != nil {
		return nil, evaluationError(event.ID, "responsibility handling failed", err)
	}
	if event.Type == models.EventApproval && stage.AuditRequired {
		k.state.Audit.Completed = true
		k.state.Audit.LastAudit = event.ID
	}

	k.state.EventCount++
	k.state.LastEventID = event.ID
	k.state.UpdatedAt = event.Timestamp
	k.state.StateVersion++

	record := models.NewAuditRecord(event, result).
		WithViolations(violations).
		WithActions(actions).
		WithScore(k.state.Score).
		WithMessage(message)
	if err := k.persist(record); err != nil {
		return nil, err
	}

	switch event.Type {
	case models.EventApproval:
		proofType = models.ProofApproval
	case models.EventOverride, models.EventHumanIntervention:
		proofType = models.ProofOverride
	case models.EventResponsibilityTransfer:
		proofType = models.ProofResponsibility
	}
	proof, err := k.proofs.Append(proofType, event, record.ID, k.state.Stage,
		k.responsibility.Chain(event.ID))
	if err != nil {
		return nil, evaluationError(event.ID, "recording proof", err)
	}

	k.logger.Info("event processed",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("result", string(result)),
		zap.String("stage", k.state.Stage),
		zap.Int("violations", len(violations)),
		zap.Bool("frozen", k.state.Frozen),
	)

	return &Result{
		EventID:       event.ID,
		Result:        result,
		Stage:         k.state.Stage,
		StageBefore:   stageBefore,
		Violations:    violations,
		Actions:       actions,
		Score:         k.state.Score,
		Frozen:        k.state.Frozen,
		AuditRecordID: record.ID,
		ProofID:       proof.ID,
		Message:       message,
	}, nil
}

// reject records a refused event: it is appended, audited as FAILED
// with a critical violation, and closed, but the enforcement pipeline
// never runs for it, so no score or freeze change occurs
func (k *Kernel) reject(ctx context.Context, event *models.GovernanceEvent, base *GovernanceError, ruleID, message string) error {
	event = event.WithStage(k.state.Stage).WithStatus(models.EventStatusClosed)
	if err := k.store.Append(ctx, event); err != nil {
		if errors.Is(err, eventlog.ErrDuplicateID) {
			return rejectionError(ErrDuplicateEvent, event.ID)
		}
		return persistenceError(event.ID, "appending rejected event", err)
	}
	violation := k.syntheticViolation(event, ruleID, models.ViolationCritical, message)
	violation.ID = fmt.Sprintf("viol-%s-1", event.ID)
	k.violationLog[violation.ID] = violation
	k.violationIDs = append(k.violationIDs, violation.ID)
	record := models.NewAuditRecord(event, models.ResultFailed).
		WithViolations([]models.GovernanceViolation{violation}).
		WithScore(k.state.Score).
		WithMessage(message)
	if err := k.persist(record); err != nil {
		return err
	}
	k.logger.Warn("event rejected",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("reason", message),
	)
	return rejectionError(base, event.ID)
}

func (k *Kernel) syntheticViolation(event *models.GovernanceEvent, ruleID string, level models.ViolationLevel, message string) models.GovernanceViolation {
	v := models.GovernanceViolation{
		RuleID:    ruleID,
		Level:     level,
		EventID:   event.ID,
		EventType: event.Type,
		Stage:     k.state.Stage,
		Message:   message,
		Timestamp: event.Timestamp,
		Status:    models.ViolationOpen,
	}
	if event.Actor != nil {
		v.ActorID = event.Actor.ID
	}
	return v
}

// checkTransition validates a STAGE_CHANGE event. An illegal target or
// an unauthorized actor raises a critical violation instead of an error.
func (k *Kernel) checkTransition(event *models.GovernanceEvent, stage *models.GovernanceStage) (*models.StageTransition, *models.GovernanceViolation) {
	target := event.PayloadString("to_stage")
	if target == "" {
		v := k.syntheticViolation(event, ruleInvalidTransition, models.ViolationCritical,
			"stage change carries no to_stage")
		return nil, &v
	}
	if _, ok := k.stages.get(target); !ok {
		v := k.syntheticViolation(event, ruleInvalidTransition, models.ViolationCritical,
			fmt.Sprintf("unknown target stage %s", target))
		return nil, &v
	}
	if !stage.CanTransitionTo(target) {
		v := k.syntheticViolation(event, ruleInvalidTransition, models.ViolationCritical,
			fmt.Sprintf("transition %s to %s is not permitted", stage.ID, target))
		return nil, &v
	}
	if !stage.AllowsTransitionBy(event.Actor.RoleType) {
		v := k.syntheticViolation(event, ruleInvalidTransition, models.ViolationCritical,
			fmt.Sprintf("actor type %s may not drive stage transitions", event.Actor.RoleType))
		return nil, &v
	}
	return &models.StageTransition{
		From:      stage.ID,
		To:        target,
		ActorID:   event.Actor.ID,
		EventID:   event.ID,
		Reason:    event.PayloadString("reason"),
		Timestamp: event.Timestamp,
		NewCycle:  k.stages.isNewCycle(stage.ID, target),
	}, nil
}

func (k *Kernel) applyTransition(event *models.GovernanceEvent, t *models.StageTransition) {
	k.state.Stage = t.To
	// The stage track resets on every transition, including a cycle
	// wrap; the global track survives both.
	k.state.Score = k.ledger.ResetStage(k.state.Score)
	next, _ := k.stages.get(t.To)
	k.state.Audit = models.AuditState{Required: next.AuditRequired}
	k.transitions = append(k.transitions, *t)
}

func (k *Kernel) freeze(event *models.GovernanceEvent, reason string) {
	ts := event.Timestamp
	k.state.SetOverlay(models.OverlayFrozen)
	k.state.FreezeReason = reason
	k.state.FrozenAt = &ts
}

func (k *Kernel) unfreeze() {
	k.state.ClearOverlay(models.OverlayFrozen)
	k.state.FreezeReason = ""
	k.state.FrozenAt = nil
}

// handleResponsibilityEvent applies the side effects of the
// responsibility control events to their target chains
func (k *Kernel) handleResponsibilityEvent(event *models.GovernanceEvent) error {
	target := event.PayloadString("target_event_id")
	switch event.Type {
	case models.EventResponsibilityTransfer:
		if target == "" {
			return fmt.Errorf("responsibility transfer names no target_event_id")
		}
		_, err := k.responsibility.Takeover(event, target, event.PayloadString("reason"), false)
		return err
	case models.EventApproval:
		if target != "" {
			k.responsibility.Approve(event, target, true, event.PayloadString("reason"))
			if _, err := k.responsibility.Takeover(event, target, event.PayloadString("reason"), false); err != nil {
				return err
			}
		}
	case models.EventOverride, models.EventHumanIntervention:
		// An override supersedes every link still active on the
		// target's chain, not just the last one
		if target != "" {
			k.responsibility.Override(event, target, event.PayloadString("decision"), event.PayloadString("reason"))
			if _, err := k.responsibility.Takeover(event, target, event.PayloadString("reason"), true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (k *Kernel) persist(record *models.AuditRecord) error {
	k.auditRecords[record.EventID] = record
	if k.stateMgr == nil {
		return nil
	}
	if err := k.stateMgr.AppendAudit(record); err != nil {
		if IsKind(err, KindIntegrity) {
			return err
		}
		// one retry on transient write failure, then surface
		if err = k.stateMgr.AppendAudit(record); err != nil {
			if IsKind(err, KindIntegrity) {
				return err
			}
			return persistenceError(record.EventID, "appending audit record", err)
		}
	}
	if err := k.stateMgr.SaveState(k.state); err != nil {
		return persistenceError(record.EventID, "saving state", err)
	}
	return nil
}

// State returns a copy of the current project state
func (k *Kernel) State() *models.ProjectState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Clone()
}

// EventHistory lists events from the log
func (k *Kernel) EventHistory(ctx context.Context, filter eventlog.Filter) ([]*models.GovernanceEvent, error) {
	return k.store.List(ctx, filter)
}

// ResolveResponsibility answers who currently holds responsibility for
// an event
func (k *Kernel) ResolveResponsibility(eventID string) (*models.ResponsibilityResolution, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.responsibility.Resolve(eventID)
}

// ResponsibilityChain returns the chain recorded for an event
func (k *Kernel) ResponsibilityChain(eventID string) []models.ResponsibilityLink {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.responsibility.Chain(eventID)
}

// ExportBundle packages the proofs, audit record, and responsibility
// chain for one event
func (k *Kernel) ExportBundle(eventID string) (*models.ProofBundle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	bundle, err := k.proofs.ExportBundle(eventID)
	if err != nil {
		return nil, err
	}
	bundle.AuditRecord = k.auditRecords[eventID]
	bundle.Responsibility = k.responsibility.Chain(eventID)
	return bundle, nil
}

// ResponsibilityAuditView bundles the chain, approvals, overrides, and
// current resolution for one event
func (k *Kernel) ResponsibilityAuditView(eventID string) (*models.ResponsibilityAuditView, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.responsibility.AuditView(eventID)
}

// ScoreHistory returns every score the ledger produced, oldest first
func (k *Kernel) ScoreHistory() []models.Score {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ledger.History()
}

// Transitions returns the stage transitions applied so far, oldest
// first
func (k *Kernel) Transitions() []models.StageTransition {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]models.StageTransition, len(k.transitions))
	copy(out, k.transitions)
	return out
}

// Violations lists every violation raised so far, oldest first, in
// their current logical state
func (k *Kernel) Violations() []models.GovernanceViolation {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]models.GovernanceViolation, 0, len(k.violationIDs))
	for _, id := range k.violationIDs {
		out = append(out, k.violationLog[id])
	}
	return out
}

// ResolveViolation advances a violation to RESOLVED. The original stays
// on its audit record untouched; resolution is a new logical state,
// never an edit of history.
func (k *Kernel) ResolveViolation(violationID string) (models.GovernanceViolation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.violationLog[violationID]
	if !ok {
		return models.GovernanceViolation{}, evaluationError("", fmt.Sprintf("unknown violation %s", violationID), nil)
	}
	if v.Status == models.ViolationResolved {
		return models.GovernanceViolation{}, evaluationError(v.EventID, fmt.Sprintf("violation %s is already resolved", violationID), nil)
	}
	resolved := v.WithStatus(models.ViolationResolved)
	k.violationLog[violationID] = resolved
	return resolved, nil
}

// AuditRecord returns the audit record for an event, if one exists
func (k *Kernel) AuditRecord(eventID string) (*models.AuditRecord, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.auditRecords[eventID]
	return r, ok
}

// VerifyChain recomputes the whole proof chain
func (k *Kernel) VerifyChain() *models.VerificationResult {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.proofs.Verify()
}

// ChainRoot returns the hash of the newest proof
func (k *Kernel) ChainRoot() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.proofs.Head()
}

// Replay rebuilds project state from scratch by running the full event
// log through a fresh, non-persisting kernel. Because every derived
// timestamp and id comes from the events themselves, the replayed
// state and proof chain match the live ones exactly.
func (k *Kernel) Replay(ctx context.Context) (*models.ProjectState, string, error) {
	k.mu.Lock()
	events, err := k.store.List(ctx, eventlog.Filter{Ascending: true})
	agentVersion := k.proofs.agentVersion
	policyVersion := k.policies.version
	stages := make([]models.GovernanceStage, 0, len(k.stages.order))
	for _, id := range k.stages.order {
		s, _ := k.stages.get(id)
		stages = append(stages, *s)
	}
	triggers := k.evaluator.triggers
	var projectPolicies []models.GovernancePolicy
	for _, p := range k.policies.project {
		projectPolicies = append(projectPolicies, p)
	}
	projectID := k.projectID
	k.mu.Unlock()

	if err != nil {
		return nil, "", persistenceError("", "listing events for replay", err)
	}

	// Built-in triggers are re-added by New, so pass only the extras
	extras := triggers[len(defaultTriggers()):]
	scratch, err := New(Options{
		ProjectID:     projectID,
		Store:         eventlog.NewMemoryStore(),
		Stages:        stages,
		Triggers:      extras,
		Policies:      projectPolicies,
		AgentVersion:  agentVersion,
		PolicyVersion: policyVersion,
	})
	if err != nil {
		return nil, "", fmt.Errorf("building replay kernel: %w", err)
	}

	for _, event := range events {
		replayed := *event
		replayed.Status = models.EventStatusOpen
		replayed.Stage = ""
		if _, err := scratch.Submit(ctx, &replayed); err != nil {
			if IsKind(err, KindRejection) {
				continue
			}
			return nil, "", fmt.Errorf("replaying event %s: %w", event.ID, err)
		}
	}
	return scratch.State(), scratch.ChainRoot(), nil
}
