// Package binding checks that a shipment and its phytosanitary certificate
// describe the same consignment. Validate is a pure check used as a gate.
package binding

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"seedlot/pkg/domain"
)

// Violation codes.
const (
	CodeMissingCertificate      = "missing_certificate"
	CodeLotNotOnCertificate     = "lot_not_on_certificate"
	CodeLotUnaccountedFor       = "lot_unaccounted_for"
	CodeDuplicateLot            = "duplicate_lot"
	CodeDestinationMismatch     = "destination_mismatch"
	CodeExporterMismatch        = "exporter_mismatch"
	CodeCertificateVoided       = "certificate_voided"
	CodeCertificateSuperseded   = "certificate_superseded"
	CodeInspectionNotPassed     = "inspection_not_passed"
	CodeInspectionWindowExpired = "inspection_window_expired"
	CodeInspectionAfterShipping = "inspection_after_shipping"
	CodeCertificateExpired      = "certificate_expired"
	CodeConsignmentMismatch     = "consignment_mismatch"
)

// DefaultMaxInspectionAge bounds the time between inspection and shipping.
const DefaultMaxInspectionAge = 14 * 24 * time.Hour

// Options tune the time-dependent checks.
type Options struct {
	// Now is the reference time for shipments that have not shipped yet.
	Now              time.Time
	MaxInspectionAge time.Duration
}

// Validate returns every reason shipment cannot rely on cert. cert may be nil.
// An empty result means the binding is complete.
func Validate(shipment domain.Shipment, cert *domain.PhytosanitaryCertificate, opts Options) []domain.BindingViolation {
	if opts.MaxInspectionAge <= 0 {
		opts.MaxInspectionAge = DefaultMaxInspectionAge
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	var out []domain.BindingViolation
	add := func(code, lotID, format string, args ...any) {
		out = append(out, domain.BindingViolation{Code: code, SeedLotID: lotID, Message: fmt.Sprintf(format, args...)})
	}

	shipLots := counts(shipment.SeedLotIDs)
	for _, id := range sortedKeys(shipLots) {
		if shipLots[id] > 1 {
			add(CodeDuplicateLot, id, "lot %s appears %d times on the shipment", id, shipLots[id])
		}
	}

	if cert == nil {
		if shipment.Path.RequiresCertificate() {
			add(CodeMissingCertificate, "", "path %s requires a bound phytosanitary certificate", shipment.Path)
		}
		return out
	}

	certLots := counts(cert.SeedLotIDs)
	for _, id := range sortedKeys(certLots) {
		if certLots[id] > 1 {
			add(CodeDuplicateLot, id, "lot %s appears %d times on certificate %s", id, certLots[id], cert.CertificateNumber)
		}
	}
	for _, id := range sortedKeys(shipLots) {
		if certLots[id] == 0 {
			add(CodeLotNotOnCertificate, id, "lot %s is not listed on certificate %s", id, cert.CertificateNumber)
		}
	}
	for _, id := range sortedKeys(certLots) {
		if shipLots[id] == 0 {
			add(CodeLotUnaccountedFor, id, "certificate %s lists lot %s, which is not on this shipment", cert.CertificateNumber, id)
		}
	}

	if !strings.EqualFold(strings.TrimSpace(cert.DestinationCountry), strings.TrimSpace(shipment.DestinationCountry)) {
		add(CodeDestinationMismatch, "", "certificate destination %s does not match shipment destination %s", cert.DestinationCountry, shipment.DestinationCountry)
	}
	if cert.ExporterOrganizationID != "" && shipment.ExporterOrganizationID != "" && cert.ExporterOrganizationID != shipment.ExporterOrganizationID {
		add(CodeExporterMismatch, "", "certificate exporter %s does not match shipment exporter %s", cert.ExporterOrganizationID, shipment.ExporterOrganizationID)
	}
	if cert.Voided {
		add(CodeCertificateVoided, "", "certificate %s is voided", cert.CertificateNumber)
	}
	if cert.SupersededByCertificateID != "" {
		add(CodeCertificateSuperseded, "", "certificate %s was superseded by %s", cert.CertificateNumber, cert.SupersededByCertificateID)
	}
	if cert.InspectionStatus != domain.InspectionPassed && cert.InspectionStatus != domain.InspectionConditional {
		add(CodeInspectionNotPassed, "", "inspection status is %s", cert.InspectionStatus)
	}

	ref := opts.Now
	if shipment.ShippedAt != nil {
		ref = *shipment.ShippedAt
	}
	switch {
	case cert.InspectionDate.IsZero():
	case cert.InspectionDate.After(ref):
		add(CodeInspectionAfterShipping, "", "inspection on %s is dated after %s",
			cert.InspectionDate.UTC().Format(time.DateOnly), ref.UTC().Format(time.RFC3339))
	case ref.Sub(cert.InspectionDate) > opts.MaxInspectionAge:
		add(CodeInspectionWindowExpired, "", "inspection on %s is older than %s at %s",
			cert.InspectionDate.UTC().Format(time.DateOnly), opts.MaxInspectionAge, ref.UTC().Format(time.RFC3339))
	}
	if cert.ValidUntil != nil && ref.After(*cert.ValidUntil) {
		add(CodeCertificateExpired, "", "certificate %s expired at %s", cert.CertificateNumber, cert.ValidUntil.UTC().Format(time.RFC3339))
	}

	switch {
	case cert.ReusedForReferenceOnly:
		add(CodeConsignmentMismatch, "", "certificate %s is held for reference only", cert.CertificateNumber)
	case cert.ConsignmentID != "" && shipment.ID != "" && cert.ConsignmentID != shipment.ID:
		add(CodeConsignmentMismatch, "", "certificate %s is bound to consignment %s", cert.CertificateNumber, cert.ConsignmentID)
	case shipment.CertificateID != "" && cert.ID != "" && shipment.CertificateID != cert.ID:
		add(CodeConsignmentMismatch, "", "shipment is bound to certificate %s, not %s", shipment.CertificateID, cert.ID)
	}
	return out
}

// Check wraps Validate, returning a BindingViolationError when anything is wrong.
func Check(shipment domain.Shipment, cert *domain.PhytosanitaryCertificate, opts Options) error {
	if v := Validate(shipment, cert, opts); len(v) > 0 {
		return domain.BindingViolationError{ShipmentID: shipment.ID, Violations: v}
	}
	return nil
}

func counts(ids []string) map[string]int {
	m := make(map[string]int, len(ids))
	for _, id := range ids {
		m[id]++
	}
	return m
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
