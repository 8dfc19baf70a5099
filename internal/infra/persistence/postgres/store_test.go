package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"seedlot/internal/infra/persistence/memory"
	"seedlot/pkg/domain"
)

func newMockStore(t *testing.T, rows *sqlmock.Rows) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS state")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS evidence_ledger")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS evidence_ledger_content_hash_idx")).WillReturnResult(sqlmock.NewResult(0, 0))
	if rows == nil {
		rows = sqlmock.NewRows([]string{"bucket", "payload"})
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT bucket, payload FROM state")).WillReturnRows(rows)

	store, err := NewStore(context.Background(), "postgres://mock/seedlot", domain.NewRulesEngine())
	require.NoError(t, err)
	store.SetNowFunc(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) })
	return store, mock
}

func expectBucketUpserts(mock sqlmock.Sqlmock) {
	for range memory.BucketNames {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO state(bucket,payload)")).WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

func TestStoreMirrorsEvidenceOnce(t *testing.T) {
	store, mock := newMockStore(t, nil)
	ctx := context.Background()

	mock.ExpectBegin()
	expectBucketUpserts(mock)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO evidence_ledger")).
		WithArgs("ev-1", "sha256:aa", "LAB_RESULT", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AppendEvidence(domain.Evidence{ID: "ev-1", Type: domain.EvidenceLabResult, Title: "PCR", ContentHash: "sha256:aa", Active: true})
		return err
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	expectBucketUpserts(mock)
	mock.ExpectCommit()
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSupplier(domain.Supplier{LegalName: "Seeds Ltd", Country: "KR"})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreHydratesFromBuckets(t *testing.T) {
	rows := sqlmock.NewRows([]string{"bucket", "payload"}).
		AddRow("evidence", []byte(`{"ev-9":{"id":"ev-9","type":"EMAIL","title":"note","content_hash":"sha256:bb","active":true}}`)).
		AddRow("seed_lots", []byte(`{"lot-1":{"id":"lot-1","lot_code":"L-1","quantity":5}}`)).
		AddRow("unknown_bucket", []byte(`{}`)).
		AddRow("shipments", []byte(nil))
	store, mock := newMockStore(t, rows)

	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		lot, ok := v.FindSeedLot("lot-1")
		require.True(t, ok)
		require.Equal(t, "L-1", lot.LotCode)
		_, ok = v.FindEvidence("ev-9")
		require.True(t, ok)
		return nil
	})

	// Hydrated evidence is already in the ledger table and is not rewritten.
	mock.ExpectBegin()
	expectBucketUpserts(mock)
	mock.ExpectCommit()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateSupplier(domain.Supplier{LegalName: "Seeds Ltd", Country: "KR"})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRollsBackFailedSnapshot(t *testing.T) {
	store, mock := newMockStore(t, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO state(bucket,payload)")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateSupplier(domain.Supplier{LegalName: "Seeds Ltd", Country: "KR"})
		return err
	})
	require.ErrorContains(t, err, "upsert organizations")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreSurfacesSchemaErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS state")).WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	_, err = NewStore(context.Background(), "", nil)
	require.ErrorContains(t, err, "ensure schema")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreSurfacesOpenErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("bad dsn") })
	defer restore()
	_, err := NewStore(context.Background(), "postgres://x", nil)
	require.ErrorContains(t, err, "open postgres")
}
