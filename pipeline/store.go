// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"sync"
	"time"
)

// RunStore persists pipeline runs. ClaimStep is the concurrency guard: it
// transitions one step's status atomically and reports whether this caller
// won the transition, so two concurrent advances cannot execute the same
// step twice.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error

	// ClaimStep atomically moves step stepIndex from status `from` to
	// status `to`. Returns true when the transition was applied by this
	// call, false when the step was not in `from`.
	ClaimStep(ctx context.Context, runID string, stepIndex int, from, to StepStatus) (bool, error)

	// AppendLog adds one entry to the run's execution log.
	AppendLog(ctx context.Context, runID string, entry LogEntry) error
}

// InMemoryRunStore keeps runs in a map guarded by a mutex. Used in tests
// and single-node deployments without PostgreSQL.
type InMemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewInMemoryRunStore creates an empty in-memory store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{runs: make(map[string]*Run)}
}

func (s *InMemoryRunStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return &ValidationError{Field: "id", Message: "run already exists"}
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *InMemoryRunStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, &NotFoundError{RunID: id}
	}
	return run.Clone(), nil
}

func (s *InMemoryRunStore) UpdateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok {
		return &NotFoundError{RunID: run.ID}
	}
	clone := run.Clone()
	// Step statuses are owned by ClaimStep; an UpdateRun snapshotted
	// before a concurrent claim must not roll them back.
	for i := range clone.Steps {
		if stored.Steps[i].Status == StatusRunning && clone.Steps[i].Status == StatusQueued {
			clone.Steps[i] = stored.Steps[i]
		}
	}
	s.runs[run.ID] = clone
	return nil
}

func (s *InMemoryRunStore) ClaimStep(_ context.Context, runID string, stepIndex int, from, to StepStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return false, &NotFoundError{RunID: runID}
	}
	if stepIndex < 0 || stepIndex >= len(run.Steps) {
		return false, &ValidationError{Field: "stepIndex", Message: "out of range"}
	}
	if run.Steps[stepIndex].Status != from {
		return false, nil
	}
	run.Steps[stepIndex].Status = to
	if to == StatusRunning {
		now := time.Now().UTC()
		run.Steps[stepIndex].StartedAt = &now
		run.Steps[stepIndex].FinishedAt = nil
		run.Steps[stepIndex].Error = ""
	}
	return true, nil
}

func (s *InMemoryRunStore) AppendLog(_ context.Context, runID string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return &NotFoundError{RunID: runID}
	}
	run.Logs = append(run.Logs, entry)
	return nil
}
