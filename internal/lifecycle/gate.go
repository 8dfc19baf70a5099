package lifecycle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"seedlot/internal/binding"
	"seedlot/pkg/domain"
)

// Gate codes reported alongside the binding codes.
const (
	CodeLotMissing             = "lot_missing"
	CodeLotNotApproved         = "lot_not_approved"
	CodeAssessmentMissing      = "assessment_missing"
	CodeAssessmentNotCompleted = "assessment_not_completed"
	CodeAssessmentExpired      = "assessment_expired"
	CodeAssessmentNeedsReview  = "assessment_requires_review"
	CodeAssessmentPathMismatch = "assessment_path_mismatch"
	CodeCertificateNotFound    = "certificate_not_found"
	CodeShipmentWithoutLots    = "shipment_without_lots"
	CodeSmallLotNotCleared     = "small_lot_not_cleared"
)

// Authoritative returns the live assessment for (lotID, destination). When the
// store holds more than one, which the rules engine forbids, the newest wins.
func Authoritative(view domain.RuleView, lotID, destination string) (domain.RegulatoryAssessment, bool) {
	key := domain.AssessmentKey(lotID, destination)
	var found domain.RegulatoryAssessment
	ok := false
	for _, a := range view.ListAssessments() {
		if !a.Authoritative() || domain.AssessmentKey(a.SeedLotID, a.DestinationCountry) != key {
			continue
		}
		if !ok || a.CreatedAt.After(found.CreatedAt) {
			found, ok = a, true
		}
	}
	return found, ok
}

// ReadyToShip lists everything that keeps shipment out of READY_TO_SHIP at
// now: the certificate binding plus, for each lot, its approval and a
// reliable assessment on the shipment's path.
func ReadyToShip(view domain.RuleView, shipment domain.Shipment, now time.Time, maxInspectionAge time.Duration) []domain.BindingViolation {
	var out []domain.BindingViolation
	add := func(code, lotID, format string, args ...any) {
		out = append(out, domain.BindingViolation{Code: code, SeedLotID: lotID, Message: fmt.Sprintf(format, args...)})
	}
	if len(shipment.SeedLotIDs) == 0 {
		add(CodeShipmentWithoutLots, "", "shipment %s carries no seed lots", shipment.ID)
	}

	var cert *domain.PhytosanitaryCertificate
	if shipment.CertificateID != "" {
		c, ok := view.FindCertificate(shipment.CertificateID)
		if ok {
			cert = &c
		} else {
			add(CodeCertificateNotFound, "", "certificate %s does not exist", shipment.CertificateID)
		}
	}
	if shipment.CertificateID == "" || cert != nil {
		out = append(out, binding.Validate(shipment, cert, binding.Options{Now: now, MaxInspectionAge: maxInspectionAge})...)
	}

	lots := append([]string(nil), shipment.SeedLotIDs...)
	sort.Strings(lots)
	seen := make(map[string]bool, len(lots))
	for _, id := range lots {
		if seen[id] {
			continue
		}
		seen[id] = true
		lot, ok := view.FindSeedLot(id)
		if !ok {
			add(CodeLotMissing, id, "lot %s does not exist", id)
			continue
		}
		if lot.Status != domain.SubmissionApproved {
			add(CodeLotNotApproved, id, "lot %s is %s, not APPROVED", lot.LotCode, lot.Status)
		}
		a, ok := Authoritative(view, id, shipment.DestinationCountry)
		switch {
		case !ok:
			add(CodeAssessmentMissing, id, "lot %s has no assessment for %s", lot.LotCode, strings.ToUpper(shipment.DestinationCountry))
			continue
		case a.Status != domain.AssessmentCompleted:
			add(CodeAssessmentNotCompleted, id, "assessment %s is %s", a.ID, a.Status)
		case a.Expired(now):
			add(CodeAssessmentExpired, id, "assessment %s expired at %s", a.ID, a.ValidUntil.UTC().Format(time.RFC3339))
		case a.RequiresReview && !a.HumanReviewed:
			add(CodeAssessmentNeedsReview, id, "assessment %s awaits human review", a.ID)
		}
		if a.Path != shipment.Path {
			add(CodeAssessmentPathMismatch, id, "assessment %s selects %s but the shipment uses %s", a.ID, a.Path, shipment.Path)
		}
		if shipment.Path == domain.PathSmallLot {
			if c, ok := ComplianceFor(view, a); !ok {
				add(CodeSmallLotNotCleared, id, "lot %s has no PPQ-587 record for assessment %s", lot.LotCode, a.ID)
			} else if !c.Cleared() {
				add(CodeSmallLotNotCleared, id, "PPQ-587 record %s is not cleared: %s", c.ID, unclearedReason(c))
			}
		}
	}
	return out
}

// ComplianceFor returns the newest PPQ-587 record written for assessment a.
func ComplianceFor(view domain.RuleView, a domain.RegulatoryAssessment) (domain.PPQ587Compliance, bool) {
	var found domain.PPQ587Compliance
	ok := false
	for _, c := range view.ListPPQCompliance(a.SeedLotID) {
		if c.AssessmentID != a.ID {
			continue
		}
		if !ok || !c.CreatedAt.Before(found.CreatedAt) {
			found, ok = c, true
		}
	}
	return found, ok
}

func unclearedReason(c domain.PPQ587Compliance) string {
	if !c.Eligible {
		return c.ExclusionReason
	}
	return "label not verified"
}

// CheckReadyToShip wraps ReadyToShip in a BindingViolationError.
func CheckReadyToShip(view domain.RuleView, shipment domain.Shipment, now time.Time, maxInspectionAge time.Duration) error {
	if v := ReadyToShip(view, shipment, now, maxInspectionAge); len(v) > 0 {
		return domain.BindingViolationError{ShipmentID: shipment.ID, Violations: v}
	}
	return nil
}
