package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"seedlot/internal/binding"
	"seedlot/internal/lifecycle"
	"seedlot/pkg/domain"
)

// ReadyToShipRule refuses any commit that moves a shipment into READY_TO_SHIP,
// or changes the certificate or lots of a shipment already there, while its
// certificate binding or lot assessments are incomplete. The
// shipment's UpdatedAt, stamped by the transaction, is the reference time.
func ReadyToShipRule(maxInspectionAge time.Duration) domain.Rule {
	if maxInspectionAge <= 0 {
		maxInspectionAge = binding.DefaultMaxInspectionAge
	}
	return readyToShipRule{maxInspectionAge: maxInspectionAge}
}

type readyToShipRule struct {
	maxInspectionAge time.Duration
}

func (readyToShipRule) Name() string { return "ready_to_ship_binding" }

func (r readyToShipRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityShipment {
			continue
		}
		after, ok := change.After.(domain.Shipment)
		if !ok || after.Status != domain.ShipmentReadyToShip {
			continue
		}
		if before, ok := change.Before.(domain.Shipment); ok && before.Status == domain.ShipmentReadyToShip && !bindingChanged(before, after) {
			continue
		}
		violations := lifecycle.ReadyToShip(view, after, after.UpdatedAt, r.maxInspectionAge)
		if len(violations) == 0 {
			continue
		}
		codes := make([]string, 0, len(violations))
		for _, v := range violations {
			codes = append(codes, v.Code)
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("shipment %s is not ready to ship: %s", after.ID, strings.Join(codes, ", ")),
			Entity:   domain.EntityShipment,
			EntityID: after.ID,
		})
	}
	return res, nil
}

func bindingChanged(before, after domain.Shipment) bool {
	return before.CertificateID != after.CertificateID || !slices.Equal(before.SeedLotIDs, after.SeedLotIDs)
}
