package core

import (
	"context"
	"fmt"
	"strings"

	"seedlot/internal/binding"
	"seedlot/internal/ledger"
	"seedlot/internal/lifecycle"
	"seedlot/pkg/domain"
)

// CreateCertificate records a phytosanitary certificate issued by an NPPO.
func (s *Service) CreateCertificate(ctx context.Context, cert domain.PhytosanitaryCertificate) (domain.PhytosanitaryCertificate, Result, error) {
	var created domain.PhytosanitaryCertificate
	var res Result
	err := s.run(ctx, "create_certificate", func(ctx context.Context) (string, error) {
		cert.Voided = false
		cert.ConsignmentID = ""
		normalized, err := domain.ValidateCertificate(cert)
		if err != nil {
			return "", err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, ok := tx.Snapshot().FindOrganization(normalized.ExporterOrganizationID); !ok {
				return domain.NotFoundError{Entity: domain.EntityOrganization, ID: normalized.ExporterOrganizationID}
			}
			var err error
			created, err = tx.CreateCertificate(normalized)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// VoidCertificate marks a certificate void. The reason is kept in the ledger
// as a note linked to the certificate.
func (s *Service) VoidCertificate(ctx context.Context, id, reason, voidedBy string) (domain.PhytosanitaryCertificate, Result, error) {
	var updated domain.PhytosanitaryCertificate
	var res Result
	err := s.run(ctx, "void_certificate", func(ctx context.Context) (string, error) {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return id, domain.ValidationErrors{{Field: "reason", Message: "is required"}}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateCertificate(id, func(cert *domain.PhytosanitaryCertificate) error {
				if cert.Voided {
					return domain.ValidationErrors{{Field: "voided", Message: "certificate is already void"}}
				}
				cert.Voided = true
				return nil
			})
			if err != nil {
				return err
			}
			note, _, err := ledger.AppendOrReuse(tx, domain.Evidence{
				Type:          domain.EvidenceHumanNote,
				Title:         fmt.Sprintf("Certificate %s voided", updated.CertificateNumber),
				Summary:       reason,
				Claims:        map[string]string{"certificate_id": updated.ID, "action": "void"},
				Confidence:    1,
				Authoritative: true,
				RecordedBy:    voidedBy,
			})
			if err != nil {
				return err
			}
			_, err = ledger.Link(tx, domain.EvidenceLink{
				EvidenceID: note.ID,
				EntityType: domain.EntityCertificate,
				EntityID:   updated.ID,
				Role:       domain.RoleReference,
				Weight:     1,
				LinkedBy:   domain.LinkedByHuman,
			})
			return err
		})
		return id, err
	})
	return updated, res, err
}

// CreateShipment opens a consignment in DRAFT.
func (s *Service) CreateShipment(ctx context.Context, shipment domain.Shipment) (domain.Shipment, Result, error) {
	var created domain.Shipment
	var res Result
	err := s.run(ctx, "create_shipment", func(ctx context.Context) (string, error) {
		shipment.Status = domain.ShipmentDraft
		shipment.ShippedAt = nil
		shipment.DeliveredAt = nil
		normalized, err := domain.ValidateShipment(shipment)
		if err != nil {
			return "", err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			if _, ok := view.FindOrganization(normalized.ExporterOrganizationID); !ok {
				return domain.NotFoundError{Entity: domain.EntityOrganization, ID: normalized.ExporterOrganizationID}
			}
			if normalized.ImporterOrganizationID != "" {
				if _, ok := view.FindOrganization(normalized.ImporterOrganizationID); !ok {
					return domain.NotFoundError{Entity: domain.EntityOrganization, ID: normalized.ImporterOrganizationID}
				}
			}
			var err error
			created, err = tx.CreateShipment(normalized)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// BindCertificate attaches a certificate to a shipment and claims the
// certificate for that consignment. The returned violations describe what
// still stands between the binding and READY_TO_SHIP; they do not fail the
// call. Shipments at or past READY_TO_SHIP keep the binding they shipped
// with.
func (s *Service) BindCertificate(ctx context.Context, shipmentID, certificateID string) (domain.Shipment, []domain.BindingViolation, error) {
	var updated domain.Shipment
	var violations []domain.BindingViolation
	err := s.run(ctx, "bind_certificate", func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			cert, ok := view.FindCertificate(certificateID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityCertificate, ID: certificateID}
			}
			if cert.ConsignmentID == "" {
				var err error
				cert, err = tx.UpdateCertificate(certificateID, func(c *domain.PhytosanitaryCertificate) error {
					c.ConsignmentID = shipmentID
					return nil
				})
				if err != nil {
					return err
				}
			}
			var err error
			updated, err = tx.UpdateShipment(shipmentID, func(sh *domain.Shipment) error {
				if err := lifecycle.CheckBindable(*sh); err != nil {
					return err
				}
				sh.CertificateID = certificateID
				return nil
			})
			if err != nil {
				return err
			}
			violations = binding.Validate(updated, &cert, s.bindingOptions())
			return nil
		})
		return shipmentID, err
	})
	if err == nil {
		s.observeBinding(ctx, violations)
	}
	return updated, violations, err
}

// ValidateBinding reports every reason the shipment cannot rely on its
// certificate right now. An empty result means the binding holds.
func (s *Service) ValidateBinding(ctx context.Context, shipmentID string) ([]domain.BindingViolation, error) {
	var violations []domain.BindingViolation
	err := s.run(ctx, "validate_binding", func(ctx context.Context) (string, error) {
		return shipmentID, s.store.View(ctx, func(view TransactionView) error {
			shipment, ok := view.FindShipment(shipmentID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityShipment, ID: shipmentID}
			}
			var cert *domain.PhytosanitaryCertificate
			if shipment.CertificateID != "" {
				if c, ok := view.FindCertificate(shipment.CertificateID); ok {
					cert = &c
				}
			}
			violations = binding.Validate(shipment, cert, s.bindingOptions())
			return nil
		})
	})
	if err == nil {
		s.observeBinding(ctx, violations)
	}
	return violations, err
}

// TransitionShipment moves a shipment along its lifecycle. Entering
// READY_TO_SHIP requires a valid certificate binding and reliable
// assessments for every lot; all failures are returned together in a
// domain.BindingViolationError. reason is recorded when the shipment is held
// at the border.
func (s *Service) TransitionShipment(ctx context.Context, id string, to domain.ShipmentStatus, reason string) (domain.Shipment, Result, error) {
	var updated domain.Shipment
	var res Result
	var gate []domain.BindingViolation
	err := s.run(ctx, "transition_shipment", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			now := tx.Now()
			var err error
			updated, err = tx.UpdateShipment(id, func(sh *domain.Shipment) error {
				if err := lifecycle.CheckShipmentTransition(*sh, to); err != nil {
					return err
				}
				if to == domain.ShipmentReadyToShip {
					if gate = lifecycle.ReadyToShip(view, *sh, now, s.opts.maxInspectionAge); len(gate) > 0 {
						return domain.BindingViolationError{ShipmentID: sh.ID, Violations: gate}
					}
				}
				sh.Status = to
				switch to {
				case domain.ShipmentShipped:
					sh.ShippedAt = &now
				case domain.ShipmentDelivered:
					sh.DeliveredAt = &now
				case domain.ShipmentHeldAtBorder:
					sh.HoldReason = strings.TrimSpace(reason)
				}
				return nil
			})
			return err
		})
		return id, err
	})
	if len(gate) > 0 {
		s.observeBinding(ctx, gate)
	}
	return updated, res, err
}

func (s *Service) bindingOptions() binding.Options {
	return binding.Options{Now: s.now(), MaxInspectionAge: s.opts.maxInspectionAge}
}

func (s *Service) observeBinding(ctx context.Context, violations []domain.BindingViolation) {
	if len(violations) == 0 {
		return
	}
	if rec, ok := s.metrics.(DecisionRecorder); ok {
		rec.ObserveBindingViolations(ctx, violations)
	}
}
