// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics. State is snapshotted as JSONB buckets after each commit
// and every evidence record is also written once to an append-only
// evidence_ledger table for external audit.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"seedlot/internal/infra/persistence/memory"
	"seedlot/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/seedlot?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const stateDDL = `CREATE TABLE IF NOT EXISTS state (
	bucket TEXT PRIMARY KEY,
	payload JSONB NOT NULL
)`

// evidenceLedgerDDL holds only the immutable content of each record; the
// supersession chain is recoverable from supersedes_evidence_id.
const evidenceLedgerDDL = `CREATE TABLE IF NOT EXISTS evidence_ledger (
	id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	evidence_type TEXT NOT NULL,
	aspect TEXT,
	source_reference TEXT,
	document_key TEXT,
	supersedes_evidence_id TEXT,
	correction BOOLEAN NOT NULL DEFAULT FALSE,
	recorded_by TEXT,
	recorded_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
)`

const evidenceLedgerHashIndex = `CREATE INDEX IF NOT EXISTS evidence_ledger_content_hash_idx ON evidence_ledger (content_hash)`

const insertLedgerRow = `INSERT INTO evidence_ledger (id, content_hash, evidence_type, aspect, source_reference, document_key, supersedes_evidence_id, correction, recorded_by, recorded_at, payload)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) ON CONFLICT (id) DO NOTHING`

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db       *sql.DB
	mu       sync.Mutex
	mirrored map[string]bool
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), ensures the schema exists and hydrates the in-memory store from
// any existing snapshot.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	mirrored := make(map[string]bool, len(snapshot.Evidence))
	for id := range snapshot.Evidence {
		mirrored[id] = true
	}
	return &Store{Store: mem, db: db, mirrored: mirrored}, nil
}

// RunInTransaction applies fn through the working set, then snapshots to
// Postgres if the transaction committed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(context.WithoutCancel(ctx)); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{stateDDL, evidenceLedgerDDL, evidenceLedgerHashIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := snapshot.Buckets()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := targets[bucket]; ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	buckets := snapshot.Buckets()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range memory.BucketNames {
		data, err := json.Marshal(buckets[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	pending := unmirrored(snapshot.Evidence, s.mirrored)
	for _, e := range pending {
		if err := mirrorEvidence(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	for _, e := range pending {
		s.mirrored[e.ID] = true
	}
	return nil
}

// unmirrored returns evidence not yet written to the ledger table, oldest first.
func unmirrored(evidence map[string]domain.Evidence, mirrored map[string]bool) []domain.Evidence {
	var out []domain.Evidence
	for id, e := range evidence {
		if !mirrored[id] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func mirrorEvidence(ctx context.Context, tx *sql.Tx, e domain.Evidence) error {
	// Mutable flags are cleared so the row reflects the record as appended.
	e.Active = true
	e.SupersededByEvidenceID = ""
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode evidence %s: %w", e.ID, err)
	}
	if _, err := tx.ExecContext(ctx, insertLedgerRow,
		e.ID, e.ContentHash, string(e.Type), nullable(string(e.Aspect)), nullable(e.SourceReference),
		nullable(e.DocumentKey), nullable(e.SupersedesEvidenceID), e.Correction, nullable(e.RecordedBy),
		e.CreatedAt, payload,
	); err != nil {
		return fmt.Errorf("mirror evidence %s: %w", e.ID, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
