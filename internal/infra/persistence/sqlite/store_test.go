package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"seedlot/internal/infra/persistence/memory"
	"seedlot/pkg/domain"
)

func seedState(t *testing.T, store *Store) (domain.SeedLot, domain.Evidence) {
	t.Helper()
	var lot domain.SeedLot
	var ev domain.Evidence
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		bio, err := tx.CreateSeedBiology(domain.SeedBiology{ScientificName: "Capsicum annuum"})
		if err != nil {
			return err
		}
		if lot, err = tx.CreateSeedLot(domain.SeedLot{LotCode: "PEP-1", Biology: bio.Ref(), Quantity: 25}); err != nil {
			return err
		}
		ev, err = tx.AppendEvidence(domain.Evidence{Type: domain.EvidenceLabResult, Title: "PCR", ContentHash: "sha256:aa", Active: true})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return lot, ev
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	lot, ev := seedState(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %q", reloaded.Path())
	}
	_ = reloaded.View(context.Background(), func(v domain.TransactionView) error {
		if got, ok := v.FindSeedLot(lot.ID); !ok || got.LotCode != "PEP-1" {
			t.Fatalf("expected reloaded lot, got %+v", got)
		}
		if got, ok := v.FindEvidence(ev.ID); !ok || !got.Active {
			t.Fatalf("expected reloaded evidence, got %+v", got)
		}
		return nil
	})
}

func TestSQLiteStoreWritesEveryBucket(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	seedState(t, store)
	var n int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&n); err != nil {
		t.Fatalf("count buckets: %v", err)
	}
	if n != len(memory.BucketNames) {
		t.Fatalf("expected %d buckets, got %d", len(memory.BucketNames), n)
	}
}

func TestSQLiteStoreSkipsPersistOnRollback(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	boom := errors.New("boom")
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var n int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&n); err != nil {
		t.Fatalf("count buckets: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing persisted, got %d buckets", n)
	}
}
