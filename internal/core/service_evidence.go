package core

import (
	"context"
	"fmt"
	"io"
	"time"

	blobcore "seedlot/internal/blob/core"
	"seedlot/internal/ledger"
	"seedlot/pkg/domain"
)

// EvidenceRecord is one evidence item to append together with its links and,
// optionally, the source document behind it.
type EvidenceRecord struct {
	Evidence domain.Evidence
	// Document, when set, is archived in the blob store and its key recorded
	// on the evidence.
	Document    io.Reader
	ContentType string
	// Links are created in the same transaction; their EvidenceID is filled in.
	Links      []domain.EvidenceLink
	Correction bool
}

// RecordEvidence appends an evidence item and its links atomically.
func (s *Service) RecordEvidence(ctx context.Context, rec EvidenceRecord) (domain.Evidence, Result, error) {
	var created domain.Evidence
	var res Result
	err := s.run(ctx, "record_evidence", func(ctx context.Context) (string, error) {
		ev := rec.Evidence
		if rec.Document != nil {
			key, err := s.archive(ctx, rec.Document, rec.ContentType)
			if err != nil {
				return "", err
			}
			ev.DocumentKey = key
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = ledger.Append(tx, ev, ledger.AppendOptions{Correction: rec.Correction})
			if err != nil {
				return err
			}
			return s.linkAll(tx, created.ID, rec.Links)
		})
		return created.ID, err
	})
	return created, res, err
}

// RecordSupplierDeclaration turns an approved supplier declaration into
// evidence about aspect and links it to the seed lot as supporting evidence.
func (s *Service) RecordSupplierDeclaration(ctx context.Context, seedLotID string, decl ledger.SupplierDeclaration, aspect domain.Aspect, claims map[string]string) (domain.Evidence, Result, error) {
	var created domain.Evidence
	var res Result
	err := s.run(ctx, "record_supplier_declaration", func(ctx context.Context) (string, error) {
		ev, err := ledger.FromSupplierDeclaration(decl, aspect, claims)
		if err != nil {
			return "", err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = ledger.Append(tx, ev, ledger.AppendOptions{})
			if err != nil {
				return err
			}
			return s.linkAll(tx, created.ID, []domain.EvidenceLink{{
				EntityType: domain.EntitySeedLot,
				EntityID:   seedLotID,
				Role:       domain.RoleSupporting,
				Weight:     1,
			}})
		})
		return created.ID, err
	})
	return created, res, err
}

// SupersedeEvidence replaces oldID with next. Concurrent supersessions of the
// same item are serialized; the loser receives a
// domain.SupersessionConflictError and is not retried.
func (s *Service) SupersedeEvidence(ctx context.Context, oldID string, next EvidenceRecord) (domain.Evidence, Result, error) {
	var created domain.Evidence
	var res Result
	err := s.run(ctx, "supersede_evidence", func(ctx context.Context) (string, error) {
		ev := next.Evidence
		if next.Document != nil {
			key, err := s.archive(ctx, next.Document, next.ContentType)
			if err != nil {
				return oldID, err
			}
			ev.DocumentKey = key
		}
		release, err := s.locker.Lock(ctx, "evidence:"+oldID)
		if err != nil {
			return oldID, err
		}
		defer release()
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = ledger.Supersede(tx, oldID, ev, ledger.AppendOptions{Correction: next.Correction})
			if err != nil {
				return err
			}
			return s.linkAll(tx, created.ID, next.Links)
		})
		if err != nil {
			return oldID, err
		}
		return created.ID, nil
	})
	return created, res, err
}

// LinkEvidence binds an existing evidence item to an entity.
func (s *Service) LinkEvidence(ctx context.Context, link domain.EvidenceLink) (domain.EvidenceLink, Result, error) {
	var created domain.EvidenceLink
	var res Result
	err := s.run(ctx, "link_evidence", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = ledger.Link(tx, link)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// ResolveActiveEvidence returns the active evidence reachable from an entity,
// following supersession chains. A nil role returns every role.
func (s *Service) ResolveActiveEvidence(ctx context.Context, entityType domain.EntityType, entityID string, role *domain.LinkRole) ([]ledger.Resolved, error) {
	var out []ledger.Resolved
	err := s.run(ctx, "resolve_active_evidence", func(ctx context.Context) (string, error) {
		return entityID, s.store.View(ctx, func(view TransactionView) error {
			var err error
			out, err = ledger.ResolveActive(view, entityType, entityID, role)
			return err
		})
	})
	return out, err
}

// VerifyLedger reports every broken supersession chain. It never repairs.
func (s *Service) VerifyLedger(ctx context.Context) ([]ledger.ChainViolation, error) {
	var out []ledger.ChainViolation
	err := s.run(ctx, "verify_ledger", func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view TransactionView) error {
			out = ledger.Verify(view)
			return nil
		})
	})
	if err == nil && len(out) > 0 {
		s.logger.Error("evidence ledger integrity violations", "count", len(out))
	}
	return out, err
}

// DocumentURL returns a time-limited download URL for the document archived
// behind an evidence item.
func (s *Service) DocumentURL(ctx context.Context, evidenceID string, expiry time.Duration) (string, error) {
	var url string
	err := s.run(ctx, "document_url", func(ctx context.Context) (string, error) {
		if s.opts.blobs == nil {
			return evidenceID, fmt.Errorf("document archive: %w", blobcore.ErrUnsupported)
		}
		var key string
		if err := s.store.View(ctx, func(view TransactionView) error {
			ev, ok := view.FindEvidence(evidenceID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityEvidence, ID: evidenceID}
			}
			key = ev.DocumentKey
			return nil
		}); err != nil {
			return evidenceID, err
		}
		if key == "" {
			return evidenceID, fmt.Errorf("evidence %s has no document: %w", evidenceID, blobcore.ErrNotFound)
		}
		var err error
		url, err = s.opts.blobs.PresignURL(ctx, key, blobcore.SignedURLOptions{Method: "GET", Expiry: expiry})
		return evidenceID, err
	})
	return url, err
}

func (s *Service) archive(ctx context.Context, r io.Reader, contentType string) (string, error) {
	if s.opts.blobs == nil {
		return "", fmt.Errorf("document archive: %w", blobcore.ErrUnsupported)
	}
	info, err := ledger.ArchiveDocument(ctx, s.opts.blobs, r, contentType)
	if err != nil {
		return "", err
	}
	return info.Key, nil
}

func (s *Service) linkAll(tx Transaction, evidenceID string, links []domain.EvidenceLink) error {
	for _, l := range links {
		l.EvidenceID = evidenceID
		if _, err := ledger.Link(tx, l); err != nil {
			return err
		}
	}
	return nil
}
