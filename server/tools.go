// Package server exposes the governance kernel over stdio and HTTP.
// Both transports speak the same tool protocol: a tool name plus a
// JSON payload, answered with a JSON result or a structured error.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-governor/internal/eventlog"
	"github.com/upb/agent-governor/internal/kernel"
	"github.com/upb/agent-governor/models"
)

// ToolFunc handles one tool invocation
type ToolFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Registry maps tool names to handlers over one kernel
type Registry struct {
	kernel   *kernel.Kernel
	validate *validator.Validate
	logger   *zap.Logger
	tools    map[string]ToolFunc
}

// NewRegistry builds the registry with the full tool set registered
func NewRegistry(k *kernel.Kernel, logger *zap.Logger) *Registry {
	r := &Registry{
		kernel:   k,
		validate: validator.New(),
		logger:   logger,
		tools:    make(map[string]ToolFunc),
	}
	r.register("get_state", r.getState)
	r.register("get_stage", r.getStage)
	r.register("get_score", r.getScore)
	r.register("submit_event", r.submitEvent)
	r.register("freeze_project", r.freezeProject)
	r.register("unfreeze_project", r.unfreezeProject)
	r.register("get_events", r.getEvents)
	r.register("get_audit_record", r.getAuditRecord)
	r.register("get_violations", r.getViolations)
	r.register("resolve_violation", r.resolveViolation)
	r.register("get_score_history", r.getScoreHistory)
	r.register("get_transitions", r.getTransitions)
	r.register("resolve_responsibility", r.resolveResponsibility)
	r.register("get_responsibility_view", r.getResponsibilityView)
	r.register("export_proof", r.exportProof)
	r.register("verify_chain", r.verifyChain)
	r.register("verify_bundle", r.verifyBundle)
	r.register("replay", r.replay)
	return r
}

func (r *Registry) register(name string, fn ToolFunc) {
	r.tools[name] = fn
}

// Names lists the registered tools in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call dispatches a tool invocation
func (r *Registry) Call(ctx context.Context, name string, payload json.RawMessage) (interface{}, error) {
	fn, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return fn(ctx, payload)
}

type submitEventRequest struct {
	ID        string                 `json:"id"`
	Type      models.EventType       `json:"type" validate:"required"`
	Timestamp *time.Time             `json:"timestamp"`
	Actor     *models.Actor          `json:"actor"`
	Payload   map[string]interface{} `json:"payload"`
}

func (r *Registry) submitEvent(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req submitEventRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding submit_event payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid submit_event payload: %w", err)
	}

	event := &models.GovernanceEvent{
		ID:      req.ID,
		Type:    req.Type,
		Actor:   req.Actor,
		Status:  models.EventStatusOpen,
		Payload: req.Payload,
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if req.Timestamp != nil {
		event.Timestamp = req.Timestamp.UTC()
	} else {
		event.Timestamp = time.Now().UTC()
	}
	return r.kernel.Submit(ctx, event)
}

func (r *Registry) getState(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return r.kernel.State(), nil
}

func (r *Registry) getStage(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	state := r.kernel.State()
	return map[string]interface{}{
		"stage":  state.Stage,
		"frozen": state.Frozen,
	}, nil
}

func (r *Registry) getScore(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	state := r.kernel.State()
	return map[string]interface{}{
		"global":           state.Score.Global,
		"stage":            state.Score.Stage,
		"violation_counts": state.ViolationCounts,
	}, nil
}

type freezeRequest struct {
	Actor  *models.Actor `json:"actor" validate:"required"`
	Reason string        `json:"reason"`
}

func (r *Registry) freezeProject(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req freezeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding freeze payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid freeze payload: %w", err)
	}
	event := models.NewGovernanceEvent(models.EventFreezeRequest, req.Actor,
		map[string]interface{}{"reason": req.Reason})
	return r.kernel.Submit(ctx, event)
}

func (r *Registry) unfreezeProject(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req freezeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding unfreeze payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid unfreeze payload: %w", err)
	}
	event := models.NewGovernanceEvent(models.EventUnfreeze, req.Actor,
		map[string]interface{}{"reason": req.Reason})
	return r.kernel.Submit(ctx, event)
}

type getEventsRequest struct {
	Type    models.EventType   `json:"type"`
	Stage   string             `json:"stage"`
	Status  models.EventStatus `json:"status"`
	ActorID string             `json:"actor_id"`
	Limit   int                `json:"limit"`
}

func (r *Registry) getEvents(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req getEventsRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding get_events payload: %w", err)
		}
	}
	events, err := r.kernel.EventHistory(ctx, eventlog.Filter{
		Type:    req.Type,
		Stage:   req.Stage,
		Status:  req.Status,
		ActorID: req.ActorID,
		Limit:   req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"events": events, "count": len(events)}, nil
}

type eventIDRequest struct {
	EventID string `json:"event_id" validate:"required"`
}

func (r *Registry) getAuditRecord(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req eventIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding get_audit_record payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid get_audit_record payload: %w", err)
	}
	record, ok := r.kernel.AuditRecord(req.EventID)
	if !ok {
		return nil, fmt.Errorf("no audit record for event %s", req.EventID)
	}
	return record, nil
}

func (r *Registry) getViolations(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	violations := r.kernel.Violations()
	return map[string]interface{}{"violations": violations, "count": len(violations)}, nil
}

type violationIDRequest struct {
	ViolationID string `json:"violation_id" validate:"required"`
}

func (r *Registry) resolveViolation(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req violationIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding resolve_violation payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid resolve_violation payload: %w", err)
	}
	return r.kernel.ResolveViolation(req.ViolationID)
}

func (r *Registry) getScoreHistory(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	history := r.kernel.ScoreHistory()
	return map[string]interface{}{"history": history, "count": len(history)}, nil
}

func (r *Registry) getTransitions(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	transitions := r.kernel.Transitions()
	return map[string]interface{}{"transitions": transitions, "count": len(transitions)}, nil
}

func (r *Registry) getResponsibilityView(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req eventIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding get_responsibility_view payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid get_responsibility_view payload: %w", err)
	}
	return r.kernel.ResponsibilityAuditView(req.EventID)
}

func (r *Registry) resolveResponsibility(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req eventIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding resolve_responsibility payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid resolve_responsibility payload: %w", err)
	}
	resolution, err := r.kernel.ResolveResponsibility(req.EventID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"resolution": resolution,
		"chain":      r.kernel.ResponsibilityChain(req.EventID),
	}, nil
}

func (r *Registry) exportProof(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req eventIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding export_proof payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid export_proof payload: %w", err)
	}
	return r.kernel.ExportBundle(req.EventID)
}

func (r *Registry) verifyChain(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return r.kernel.VerifyChain(), nil
}

type verifyBundleRequest struct {
	Bundle *models.ProofBundle `json:"bundle" validate:"required"`
}

func (r *Registry) verifyBundle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req verifyBundleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding verify_bundle payload: %w", err)
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid verify_bundle payload: %w", err)
	}
	return models.VerifyBundle(req.Bundle), nil
}

func (r *Registry) replay(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	state, chainRoot, err := r.kernel.Replay(ctx)
	if err != nil {
		return nil, err
	}
	live := r.kernel.State()
	return map[string]interface{}{
		"state":       state,
		"chain_root":  chainRoot,
		"matches":     state.Stage == live.Stage && state.Score == live.Score && state.EventCount == live.EventCount,
		"live_stage":  live.Stage,
		"live_score":  live.Score,
		"live_events": live.EventCount,
	}, nil
}
