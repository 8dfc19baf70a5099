package core

import (
	"context"
	"fmt"

	"seedlot/internal/lifecycle"
	"seedlot/pkg/domain"
)

// CreateOrganization registers an exporting or importing party.
func (s *Service) CreateOrganization(ctx context.Context, org domain.Organization) (domain.Organization, Result, error) {
	var created domain.Organization
	var res Result
	err := s.run(ctx, "create_organization", func(ctx context.Context) (string, error) {
		normalized, err := domain.ValidateOrganization(org)
		if err != nil {
			return "", err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateOrganization(normalized)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// CreateSupplier registers a seed supplier.
func (s *Service) CreateSupplier(ctx context.Context, supplier domain.Supplier) (domain.Supplier, Result, error) {
	var created domain.Supplier
	var res Result
	err := s.run(ctx, "create_supplier", func(ctx context.Context) (string, error) {
		normalized, err := domain.ValidateSupplier(supplier)
		if err != nil {
			return "", err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateSupplier(normalized)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// CreateSeedBiology stores the first version of a biology lineage.
func (s *Service) CreateSeedBiology(ctx context.Context, biology domain.SeedBiology) (domain.SeedBiology, Result, error) {
	var created domain.SeedBiology
	var res Result
	err := s.run(ctx, "create_seed_biology", func(ctx context.Context) (string, error) {
		biology.LineageID = ""
		biology.Version = 0
		normalized, err := domain.ValidateSeedBiology(biology)
		if err != nil {
			return "", err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateSeedBiology(normalized)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// ReviseSeedBiology records a new version of the lineage that id belongs to.
// Only the latest version of a lineage may be revised; the previous version
// stays untouched so that assessments citing it keep their meaning.
func (s *Service) ReviseSeedBiology(ctx context.Context, id string, mutator func(*domain.SeedBiology) error) (domain.SeedBiology, Result, error) {
	var created domain.SeedBiology
	var res Result
	err := s.run(ctx, "revise_seed_biology", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			current, ok := view.FindSeedBiology(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySeedBiology, ID: id}
			}
			for _, b := range view.ListSeedBiologies() {
				if b.LineageID == current.LineageID && b.Version > current.Version {
					return domain.ValidationErrors{{Field: "id", Message: fmt.Sprintf("version %d is not the latest; revise %s", current.Version, b.ID)}}
				}
			}
			next := current
			next.Base = domain.Base{}
			next.KnownPathogens = append([]string(nil), current.KnownPathogens...)
			if mutator != nil {
				if err := mutator(&next); err != nil {
					return err
				}
			}
			next.LineageID = current.LineageID
			next.Version = current.Version + 1
			normalized, err := domain.ValidateSeedBiology(next)
			if err != nil {
				return err
			}
			created, err = tx.CreateSeedBiology(normalized)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateSeedBiology edits a biology version in place. Once an assessment
// cites the version, the biology_version_immutable rule rejects the edit and
// ReviseSeedBiology must be used instead.
func (s *Service) UpdateSeedBiology(ctx context.Context, id string, mutator func(*domain.SeedBiology) error) (domain.SeedBiology, Result, error) {
	var updated domain.SeedBiology
	var res Result
	err := s.run(ctx, "update_seed_biology", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateSeedBiology(id, func(b *domain.SeedBiology) error {
				if err := mutator(b); err != nil {
					return err
				}
				normalized, err := domain.ValidateSeedBiology(*b)
				if err != nil {
					return err
				}
				*b = normalized
				return nil
			})
			return err
		})
		return id, err
	})
	return updated, res, err
}

// CreateSeedLot registers a seed lot. The lot always starts PENDING and its
// biology reference is filled from the stored biology version.
func (s *Service) CreateSeedLot(ctx context.Context, lot domain.SeedLot) (domain.SeedLot, Result, error) {
	var created domain.SeedLot
	var res Result
	err := s.run(ctx, "create_seed_lot", func(ctx context.Context) (string, error) {
		lot.Status = domain.SubmissionPending
		lot.CachedPath = ""
		lot.CachedRiskClass = ""
		normalized, err := domain.ValidateSeedLot(lot, s.now())
		if err != nil {
			return "", err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			if _, ok := view.FindOrganization(normalized.OrganizationID); !ok {
				return domain.NotFoundError{Entity: domain.EntityOrganization, ID: normalized.OrganizationID}
			}
			if _, ok := view.FindSupplier(normalized.SupplierID); !ok {
				return domain.NotFoundError{Entity: domain.EntitySupplier, ID: normalized.SupplierID}
			}
			biology, ok := view.FindSeedBiology(normalized.Biology.ID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySeedBiology, ID: normalized.Biology.ID}
			}
			normalized.Biology = biology.Ref()
			var err error
			created, err = tx.CreateSeedLot(normalized)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateSeedLot applies mutator to a lot. Status and the cached decision are
// not editable here. A change to any field an assessment depends on moves
// every live assessment of the lot to PENDING_REEVALUATION and clears the
// cached decision.
func (s *Service) UpdateSeedLot(ctx context.Context, id string, mutator func(*domain.SeedLot) error) (domain.SeedLot, Result, error) {
	var updated domain.SeedLot
	var res Result
	err := s.run(ctx, "update_seed_lot", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			var before domain.SeedLot
			var err error
			updated, err = tx.UpdateSeedLot(id, func(lot *domain.SeedLot) error {
				before = *lot
				if err := mutator(lot); err != nil {
					return err
				}
				lot.Status = before.Status
				lot.CachedPath = before.CachedPath
				lot.CachedRiskClass = before.CachedRiskClass
				if lot.Biology.ID != before.Biology.ID {
					biology, ok := view.FindSeedBiology(lot.Biology.ID)
					if !ok {
						return domain.NotFoundError{Entity: domain.EntitySeedBiology, ID: lot.Biology.ID}
					}
					lot.Biology = biology.Ref()
				} else {
					lot.Biology = before.Biology
				}
				normalized, err := domain.ValidateSeedLot(*lot, tx.Now())
				if err != nil {
					return err
				}
				if len(lifecycle.MaterialChanges(before, normalized)) > 0 {
					normalized.CachedPath = ""
					normalized.CachedRiskClass = ""
				}
				*lot = normalized
				return nil
			})
			if err != nil {
				return err
			}
			changed := lifecycle.MaterialChanges(before, updated)
			if len(changed) == 0 {
				return nil
			}
			reason := lifecycle.InvalidationReason(changed)
			invalidated := 0
			for _, a := range view.ListAssessments() {
				if a.SeedLotID != id || !a.Authoritative() || a.Status != domain.AssessmentCompleted {
					continue
				}
				if _, err := tx.UpdateAssessment(a.ID, func(current *domain.RegulatoryAssessment) error {
					lifecycle.Invalidate(current, reason, tx.Now())
					return nil
				}); err != nil {
					return err
				}
				invalidated++
			}
			if invalidated > 0 {
				s.logger.Info("assessments invalidated", "seed_lot_id", id, "count", invalidated, "reason", reason)
			}
			return nil
		})
		return id, err
	})
	return updated, res, err
}

// TransitionSeedLot moves a lot through its submission lifecycle.
func (s *Service) TransitionSeedLot(ctx context.Context, id string, to domain.SubmissionStatus) (domain.SeedLot, Result, error) {
	var updated domain.SeedLot
	var res Result
	err := s.run(ctx, "transition_seed_lot", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateSeedLot(id, func(lot *domain.SeedLot) error {
				if err := lifecycle.CheckLotTransition(*lot, to); err != nil {
					return err
				}
				lot.Status = to
				return nil
			})
			return err
		})
		return id, err
	})
	return updated, res, err
}
