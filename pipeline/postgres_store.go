// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresRunStore persists runs as JSONB documents in the runs table.
//
// Schema:
//
//	CREATE TABLE runs (
//	    id         TEXT PRIMARY KEY,
//	    doc        JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Step status transitions go through ClaimStep, which compare-and-swaps
// inside the document so concurrent advances on the same run resolve to a
// single winner. Payload writes via UpdateRun are only ever performed by
// the claim winner, so they replace the whole document.
type PostgresRunStore struct {
	db *sql.DB
}

// NewPostgresRunStore creates a store over an open database handle.
func NewPostgresRunStore(db *sql.DB) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

func (s *PostgresRunStore) CreateRun(ctx context.Context, run *Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return &StorageError{Op: "create", Cause: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, doc) VALUES ($1, $2::jsonb)`, run.ID, doc)
	if err != nil {
		return &StorageError{Op: "create", Cause: err}
	}
	return nil
}

func (s *PostgresRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM runs WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{RunID: id}
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Cause: err}
	}
	var run Run
	if err := json.Unmarshal(doc, &run); err != nil {
		return nil, &StorageError{Op: "get", Cause: err}
	}
	return &run, nil
}

func (s *PostgresRunStore) UpdateRun(ctx context.Context, run *Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return &StorageError{Op: "update", Cause: err}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET doc = $2::jsonb, updated_at = now() WHERE id = $1`,
		run.ID, doc)
	if err != nil {
		return &StorageError{Op: "update", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "update", Cause: err}
	}
	if affected == 0 {
		return &NotFoundError{RunID: run.ID}
	}
	return nil
}

func (s *PostgresRunStore) ClaimStep(ctx context.Context, runID string, stepIndex int, from, to StepStatus) (bool, error) {
	// The WHERE clause is the compare half of the CAS: the update only
	// applies while the step still holds the expected status.
	var res sql.Result
	var err error
	if to == StatusRunning {
		res, err = s.db.ExecContext(ctx, `
			UPDATE runs
			SET doc = jsonb_set(
			        jsonb_set(doc, ARRAY['steps', $2::text, 'status'], to_jsonb($4::text)),
			        ARRAY['steps', $2::text, 'startedAt'], to_jsonb($5::text)),
			    updated_at = now()
			WHERE id = $1
			  AND doc->'steps'->($2::int)->>'status' = $3`,
			runID, stepIndex, string(from), string(to),
			time.Now().UTC().Format(time.RFC3339Nano))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE runs
			SET doc = jsonb_set(doc, ARRAY['steps', $2::text, 'status'], to_jsonb($4::text)),
			    updated_at = now()
			WHERE id = $1
			  AND doc->'steps'->($2::int)->>'status' = $3`,
			runID, stepIndex, string(from), string(to))
	}
	if err != nil {
		return false, &StorageError{Op: "claim", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "claim", Cause: err}
	}
	if affected == 0 {
		// Lost the CAS, or the run does not exist.
		exists, err := s.runExists(ctx, runID)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, &NotFoundError{RunID: runID}
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresRunStore) AppendLog(ctx context.Context, runID string, entry LogEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return &StorageError{Op: "log", Cause: err}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET doc = jsonb_set(doc, '{logs}',
		        COALESCE(doc->'logs', '[]'::jsonb) || $2::jsonb),
		    updated_at = now()
		WHERE id = $1`,
		runID, doc)
	if err != nil {
		return &StorageError{Op: "log", Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "log", Cause: err}
	}
	if affected == 0 {
		return &NotFoundError{RunID: runID}
	}
	return nil
}

func (s *PostgresRunStore) runExists(ctx context.Context, runID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM runs WHERE id = $1`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "claim", Cause: err}
	}
	return true, nil
}
