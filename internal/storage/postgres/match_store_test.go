package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Dev-pucci/FCW-Targeted/internal/aggregate"
	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

func TestStoreResultInsertsFoundAndNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewMatchStoreWithPool(mock, "")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	rec := crawler.Metadata{
		ID:          "https://tribunalsearch.fwc.gov.au/document-search/view/3/a",
		Title:       "Acme Agreement",
		DownloadURL: "https://tribunalsearch.fwc.gov.au/document-search/view/3/a",
		PageNumber:  4,
		WorkerID:    1,
		Warnings:    []string{"nominal expiry \"soon\" is not a date"},
	}
	res := aggregate.Result{Found: []crawler.Metadata{rec}, NotFound: []string{"missing-doc"}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO agreement_matches").
		WithArgs(
			"run-1", rec.ID, true, rec.Title, "", "", "",
			"", "", "", "", rec.DownloadURL,
			4, 1, []byte(`["nominal expiry \"soon\" is not a date"]`), "", "", at,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO agreement_matches").
		WithArgs(
			"run-1", "missing-doc", false, nil, nil, nil, nil,
			nil, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, at,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.StoreResult(context.Background(), "run-1", at, res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreResultRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewMatchStoreWithPool(mock, "runs_2025")
	require.NoError(t, err)

	args := []any{"run-2", "x", false}
	for len(args) < 18 {
		args = append(args, pgxmock.AnyArg())
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs_2025").
		WithArgs(args...).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.StoreResult(context.Background(), "run-2", time.Now(), aggregate.Result{NotFound: []string{"x"}})
	require.ErrorContains(t, err, "insert not-found x: disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewMatchStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS agreement_matches").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewMatchStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewMatchStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewMatchStoreWithPool(mock, "bad;table")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewMatchStore(context.Background(), Config{})
	require.Error(t, err)

	_, err = NewMatchStore(context.Background(), Config{DSN: "postgres://u@localhost/db", Table: "1bad"})
	require.ErrorContains(t, err, "invalid table name")
}

func TestStoreResultRequiresRunID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewMatchStoreWithPool(mock, "")
	require.NoError(t, err)

	require.Error(t, store.StoreResult(context.Background(), "", time.Now(), aggregate.Result{}))
}
