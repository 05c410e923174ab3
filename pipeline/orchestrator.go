// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"kraftcontent/platform/shared/logger"
)

var validate = validator.New()

const (
	// staleClaimThreshold is how long a step may sit in running before an
	// Advance treats the claim as abandoned and re-queues it.
	staleClaimThreshold = 10 * time.Minute

	// driveMaxIterations caps one Drive call.
	driveMaxIterations = 10

	// driveStepDelay spaces consecutive step executions in Drive.
	driveStepDelay = 500 * time.Millisecond
)

// StageExecutor runs one pipeline stage. Execute reads its inputs from the
// run document and writes its output slot on the same run; it must be
// idempotent because a crashed advance can re-execute the step.
type StageExecutor interface {
	Stage() Stage
	Execute(ctx context.Context, run *Run) error
}

// Orchestrator drives runs through the six-stage pipeline, one step per
// Advance call.
type Orchestrator struct {
	store     RunStore
	executors map[Stage]StageExecutor
	log       *logger.Logger

	staleAfter time.Duration
	stepDelay  time.Duration
}

// OrchestratorOption configures the Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithStaleClaimThreshold overrides how old a running claim must be before
// it is re-queued.
func WithStaleClaimThreshold(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.staleAfter = d }
}

// WithDriveDelay overrides the pause between steps in Drive.
func WithDriveDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.stepDelay = d }
}

// NewOrchestrator creates an orchestrator over the given store and stage
// executors. Every stage in Stages() must have an executor.
func NewOrchestrator(store RunStore, executors []StageExecutor, log *logger.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	byStage := make(map[Stage]StageExecutor, len(executors))
	for _, ex := range executors {
		byStage[ex.Stage()] = ex
	}
	for _, stage := range Stages() {
		if _, ok := byStage[stage]; !ok {
			return nil, fmt.Errorf("no executor registered for stage %s", stage)
		}
	}
	if log == nil {
		log = logger.New("pipeline")
	}

	o := &Orchestrator{
		store:      store,
		executors:  byStage,
		log:        log,
		staleAfter: staleClaimThreshold,
		stepDelay:  driveStepDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// CreateRunParams carries operator input for a new run.
type CreateRunParams struct {
	Mode            Mode     `json:"mode" validate:"required,oneof=auto manual-topic manual-idea"`
	ManualQuery     string   `json:"manualQuery,omitempty" validate:"required_unless=Mode auto,max=500"`
	TargetProvinces []string `json:"targetProvinces,omitempty" validate:"required,min=1,max=13,dive,len=2"`
	CreatedBy       string   `json:"createdBy,omitempty"`
}

// CreateRun validates params and persists a queued six-step run.
func (o *Orchestrator) CreateRun(ctx context.Context, params CreateRunParams) (*Run, error) {
	switch params.Mode {
	case ModeAuto, ModeManualTopic, ModeManualIdea:
	default:
		return nil, &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", params.Mode)}
	}
	if params.Mode != ModeAuto && params.ManualQuery == "" {
		return nil, &ValidationError{Field: "manualQuery", Message: "required for manual modes"}
	}
	if err := validate.Struct(params); err != nil {
		field := "params"
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field = verrs[0].Field()
		}
		return nil, &ValidationError{Field: field, Message: err.Error()}
	}

	run := NewRun(uuid.NewString(), params.Mode, params.ManualQuery, params.TargetProvinces, params.CreatedBy)
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	o.log.Info(run.ID, "", "run created", map[string]interface{}{
		"mode":      string(run.Mode),
		"provinces": run.TargetProvinces,
	})
	o.appendLog(ctx, run.ID, "", "run created")
	return run, nil
}

// GetRun fetches one run.
func (o *Orchestrator) GetRun(ctx context.Context, id string) (*Run, error) {
	return o.store.GetRun(ctx, id)
}

// AdvanceResult describes the outcome of one Advance call.
type AdvanceResult struct {
	RunID string `json:"runId"`

	// Done is set when every step already completed.
	Done bool `json:"done"`

	// InProgress is set when another advance holds the current step's
	// claim; nothing was executed.
	InProgress bool `json:"inProgress,omitempty"`

	// Step is the index of the step this call executed, -1 otherwise.
	Step int `json:"step"`

	// Stage names the executed step's stage.
	Stage Stage `json:"stage,omitempty"`

	// Err carries the step failure, if the executed step errored.
	Err error `json:"-"`

	// StepsProcessed counts steps executed across a Drive call. Zero on
	// a plain Advance.
	StepsProcessed int `json:"stepsProcessed,omitempty"`
}

// Advance executes at most one step of the run: the first step that is not
// ok. A step already in the error state is sticky and blocks the run until
// an operator resets it. A step stuck in running longer than the stale
// threshold is re-queued and then claimed normally.
func (o *Orchestrator) Advance(ctx context.Context, runID string) (*AdvanceResult, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	idx := run.NextStep()
	if idx == -1 {
		return &AdvanceResult{RunID: runID, Done: true, Step: -1}, nil
	}

	step := run.Steps[idx]
	switch step.Status {
	case StatusError:
		return &AdvanceResult{RunID: runID, Step: idx, Stage: step.Agent,
			Err: &StepExecutionError{RunID: runID, Stage: step.Agent, Cause: fmt.Errorf("%s", step.Error)}}, nil

	case StatusRunning:
		if step.StartedAt == nil || time.Since(*step.StartedAt) < o.staleAfter {
			return &AdvanceResult{RunID: runID, InProgress: true, Step: -1}, nil
		}
		// Abandoned claim: re-queue it, then fall through to claim.
		requeued, err := o.store.ClaimStep(ctx, runID, idx, StatusRunning, StatusQueued)
		if err != nil {
			return nil, err
		}
		if !requeued {
			return &AdvanceResult{RunID: runID, InProgress: true, Step: -1}, nil
		}
		o.log.Warn(runID, "", "re-queued stale step claim", map[string]interface{}{
			"agent": string(step.Agent),
		})
	}

	claimed, err := o.store.ClaimStep(ctx, runID, idx, StatusQueued, StatusRunning)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &AdvanceResult{RunID: runID, InProgress: true, Step: -1}, nil
	}

	return o.executeStep(ctx, runID, idx, step.Agent)
}

func (o *Orchestrator) executeStep(ctx context.Context, runID string, idx int, stage Stage) (*AdvanceResult, error) {
	// Re-read after the claim so the executor sees the freshest document.
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	executor := o.executors[stage]
	o.log.Info(runID, "", "step started", map[string]interface{}{"agent": string(stage)})
	o.appendLog(ctx, runID, stage, "step started")

	start := time.Now()
	execErr := executor.Execute(ctx, run)
	now := time.Now().UTC()

	// UpdateRun writes the whole document; refresh the log first so
	// entries appended since our read survive.
	if fresh, ferr := o.store.GetRun(ctx, runID); ferr == nil {
		run.Logs = fresh.Logs
	}

	run.Steps[idx].FinishedAt = &now
	if execErr != nil {
		run.Steps[idx].Status = StatusError
		run.Steps[idx].Error = execErr.Error()
		if err := o.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		o.log.ErrorWithCode(runID, "", "step failed", 0, execErr, map[string]interface{}{
			"agent": string(stage),
		})
		o.appendLog(ctx, runID, stage, "step failed: "+execErr.Error())
		return &AdvanceResult{RunID: runID, Step: idx, Stage: stage,
			Err: &StepExecutionError{RunID: runID, Stage: stage, Cause: execErr}}, nil
	}

	run.Steps[idx].Status = StatusOK
	run.Steps[idx].Error = ""
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	o.log.InfoWithDuration(runID, "", "step completed",
		float64(time.Since(start).Milliseconds()),
		map[string]interface{}{"agent": string(stage)})
	o.appendLog(ctx, runID, stage, "step completed")

	return &AdvanceResult{RunID: runID, Step: idx, Stage: stage, Done: idx == len(run.Steps)-1}, nil
}

// Drive advances the run repeatedly until it completes, errors, finds
// another claim in progress, or hits the iteration cap.
func (o *Orchestrator) Drive(ctx context.Context, runID string) (*AdvanceResult, error) {
	var last *AdvanceResult
	processed := 0
	for i := 0; i < driveMaxIterations; i++ {
		res, err := o.Advance(ctx, runID)
		if err != nil {
			return last, err
		}
		if res.Step >= 0 {
			processed++
		}
		res.StepsProcessed = processed
		last = res
		if res.Done || res.InProgress || res.Err != nil {
			return last, nil
		}
		if o.stepDelay > 0 {
			select {
			case <-time.After(o.stepDelay):
			case <-ctx.Done():
				return last, ctx.Err()
			}
		}
	}
	return last, nil
}

// ResetErroredStep moves an errored step back to queued so the run can
// advance again. Only the first non-ok step can be reset, and only from
// the error state.
func (o *Orchestrator) ResetErroredStep(ctx context.Context, runID string) (*Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	idx := run.NextStep()
	if idx == -1 {
		return nil, &ValidationError{Field: "run", Message: "run already completed"}
	}
	if run.Steps[idx].Status != StatusError {
		return nil, &ValidationError{Field: "step", Message: "current step is not in the error state"}
	}

	reset, err := o.store.ClaimStep(ctx, runID, idx, StatusError, StatusQueued)
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, &ValidationError{Field: "step", Message: "step state changed; retry"}
	}

	o.log.Info(runID, "", "errored step reset", map[string]interface{}{
		"agent": string(run.Steps[idx].Agent),
	})
	o.appendLog(ctx, runID, run.Steps[idx].Agent, "errored step reset by operator")
	return o.store.GetRun(ctx, runID)
}

// appendLog records a run log entry; log persistence failures are reported
// to the structured logger but never fail the operation.
func (o *Orchestrator) appendLog(ctx context.Context, runID string, stage Stage, message string) {
	entry := LogEntry{At: time.Now().UTC(), Agent: stage, Message: message}
	if err := o.store.AppendLog(ctx, runID, entry); err != nil {
		o.log.Warn(runID, "", "failed to append run log", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
