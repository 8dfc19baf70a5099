package core

import (
	"context"
	"fmt"

	"seedlot/pkg/domain"
)

// CertificateConsignmentRule enforces single-consignment use: a certificate
// binds at most one shipment, and never a shipment other than the consignment
// it names.
func CertificateConsignmentRule() domain.Rule {
	return certificateConsignmentRule{}
}

type certificateConsignmentRule struct{}

func (certificateConsignmentRule) Name() string { return "certificate_single_consignment" }

func (r certificateConsignmentRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityShipment {
			continue
		}
		after, ok := change.After.(domain.Shipment)
		if !ok || after.CertificateID == "" {
			continue
		}
		if before, ok := change.Before.(domain.Shipment); ok && before.CertificateID == after.CertificateID {
			continue
		}
		block := func(format string, args ...any) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf(format, args...),
				Entity:   domain.EntityShipment,
				EntityID: after.ID,
			})
		}
		if cert, ok := view.FindCertificate(after.CertificateID); ok {
			if cert.ConsignmentID != "" && cert.ConsignmentID != after.ID {
				block("certificate %s belongs to consignment %s", cert.ID, cert.ConsignmentID)
				continue
			}
		}
		for _, other := range view.ListShipments() {
			if other.ID != after.ID && other.CertificateID == after.CertificateID {
				block("certificate %s is already bound to shipment %s", after.CertificateID, other.ID)
				break
			}
		}
	}
	return res, nil
}
