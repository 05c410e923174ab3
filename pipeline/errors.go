// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import "fmt"

// ValidationError reports invalid input on run creation or operator actions.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("run %s not found", e.RunID)
}

// StepExecutionError reports a stage failure. The step stays in the error
// state until an operator resets it.
type StepExecutionError struct {
	RunID string
	Stage Stage
	Cause error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("run %s: stage %s failed: %v", e.RunID, e.Stage, e.Cause)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// StorageError wraps persistence failures so callers can distinguish them
// from domain errors.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}
