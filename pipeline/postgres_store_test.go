// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresRunStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRunStore(db), mock
}

func TestPostgresCreateRun(t *testing.T) {
	store, mock := newMockStore(t)
	run := NewRun("run-1", ModeAuto, "", []string{"BC"}, "ops")

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(run.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRun(t *testing.T) {
	store, mock := newMockStore(t)
	run := NewRun("run-1", ModeManualTopic, "renewals", nil, "ops")
	doc, err := json.Marshal(run)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT doc FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))

	got, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, ModeManualTopic, got.Mode)
	assert.Len(t, got.Steps, 6)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT doc FROM runs`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRun(context.Background(), "missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.RunID)
}

func TestPostgresUpdateRun(t *testing.T) {
	store, mock := newMockStore(t)
	run := NewRun("run-1", ModeAuto, "", nil, "")
	run.Steps[0].Status = StatusOK

	mock.ExpectExec(`UPDATE runs SET doc = \$2::jsonb`).
		WithArgs(run.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	run := NewRun("run-x", ModeAuto, "", nil, "")

	mock.ExpectExec(`UPDATE runs SET doc = \$2::jsonb`).
		WithArgs(run.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateRun(context.Background(), run)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestPostgresClaimStepWins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs`).
		WithArgs("run-1", 2, "queued", "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.ClaimStep(context.Background(), "run-1", 2, StatusQueued, StatusRunning)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimStepLoses(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs`).
		WithArgs("run-1", 0, "queued", "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM runs`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := store.ClaimStep(context.Background(), "run-1", 0, StatusQueued, StatusRunning)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimStepRunMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs`).
		WithArgs("ghost", 0, "error", "queued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM runs`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.ClaimStep(context.Background(), "ghost", 0, StatusError, StatusQueued)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestPostgresClaimStepRequeueOmitsStartedAt(t *testing.T) {
	store, mock := newMockStore(t)

	// the non-running transition carries four args, no timestamp
	mock.ExpectExec(`UPDATE runs`).
		WithArgs("run-1", 1, "running", "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.ClaimStep(context.Background(), "run-1", 1, StatusRunning, StatusQueued)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendLog(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs`).
		WithArgs("run-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AppendLog(context.Background(), "run-1", LogEntry{Agent: StageBrief, Message: "step started"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
