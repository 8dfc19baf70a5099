package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var validationNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func validLot() SeedLot {
	return SeedLot{
		OrganizationID:       "org-1",
		SupplierID:           "sup-1",
		LotCode:              "LOT-001",
		Biology:              BiologyRef{ID: "bio-1", Version: 1, ScientificName: "Capsicum annuum"},
		OriginCountry:        " kr ",
		Use:                  UseHobby,
		PedigreeStatus:       PedigreeNonPedigreed,
		NonPedigreedDeclared: true,
		Quantity:             20,
		HarvestYear:          2025,
	}
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T (%v)", err, err)
	}
	return verrs.Fields()
}

func containsField(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}

func TestValidateSeedLotNormalizes(t *testing.T) {
	lot, err := ValidateSeedLot(validLot(), validationNow)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if lot.OriginCountry != "KR" {
		t.Fatalf("expected normalized origin, got %q", lot.OriginCountry)
	}
	if lot.Status != SubmissionPending {
		t.Fatalf("expected default status pending, got %q", lot.Status)
	}
}

func TestValidateSeedLotReportsEveryField(t *testing.T) {
	lot := validLot()
	lot.LotCode = "bad code!"
	lot.Quantity = 0
	lot.HarvestYear = 1850
	lot.Use = "GIFT"
	_, err := ValidateSeedLot(lot, validationNow)
	fields := fieldsOf(t, err)
	for _, want := range []string{"lot_code", "quantity", "harvest_year", "use"} {
		if !containsField(fields, want) {
			t.Fatalf("expected violation on %s, got %v", want, fields)
		}
	}
}

func TestValidateSeedLotRequiresNonPedigreedDeclaration(t *testing.T) {
	lot := validLot()
	lot.NonPedigreedDeclared = false
	_, err := ValidateSeedLot(lot, validationNow)
	if fields := fieldsOf(t, err); !containsField(fields, "non_pedigreed_declared") {
		t.Fatalf("expected declaration violation, got %v", fields)
	}
	lot.PedigreeStatus = PedigreeCertified
	if _, err := ValidateSeedLot(lot, validationNow); err != nil {
		t.Fatalf("certified lot needs no declaration: %v", err)
	}
}

func TestValidateSeedLotHarvestYearBoundedByNow(t *testing.T) {
	lot := validLot()
	lot.HarvestYear = validationNow.Year() + 1
	if _, err := ValidateSeedLot(lot, validationNow); err == nil {
		t.Fatalf("expected future harvest year to fail")
	}
}

func TestValidateCertificate(t *testing.T) {
	issued := validationNow
	before := issued.Add(-time.Hour)
	cert := PhytosanitaryCertificate{
		CertificateNumber:      "PC-2026-1",
		IssuingCountry:         "kr",
		IssuingAuthority:       "APQA",
		ExporterOrganizationID: "org-1",
		DestinationCountry:     "us",
		SeedLotIDs:             []string{"a", "b", "a"},
		InspectionDate:         issued.Add(-24 * time.Hour),
		IssueDate:              issued,
		ValidUntil:             &before,
	}
	_, err := ValidateCertificate(cert)
	fields := fieldsOf(t, err)
	if !containsField(fields, "seed_lot_ids") || !containsField(fields, "valid_until") {
		t.Fatalf("expected duplicate lot and validity violations, got %v", fields)
	}

	cert.SeedLotIDs = []string{"a", "b"}
	cert.ValidUntil = nil
	got, err := ValidateCertificate(cert)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.DestinationCountry != "US" || got.InspectionStatus != InspectionPending {
		t.Fatalf("unexpected normalization: %+v", got)
	}
}

func TestValidateShipment(t *testing.T) {
	_, err := ValidateShipment(Shipment{Path: "AIRMAIL"})
	fields := fieldsOf(t, err)
	for _, want := range []string{"seed_lot_ids", "exporter_organization_id", "destination_country", "regulatory_path"} {
		if !containsField(fields, want) {
			t.Fatalf("expected violation on %s, got %v", want, fields)
		}
	}
	s, err := ValidateShipment(Shipment{SeedLotIDs: []string{"a"}, ExporterOrganizationID: "org", ExportCountry: "KR", DestinationCountry: "US", Path: PathSmallLot})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if s.Status != ShipmentDraft {
		t.Fatalf("expected draft default, got %s", s.Status)
	}
}

func TestValidateEvidenceAndLink(t *testing.T) {
	_, err := ValidateEvidence(Evidence{Type: "RUMOR", Confidence: 1.5, Summary: strings.Repeat("x", MaxLongText+1)})
	fields := fieldsOf(t, err)
	for _, want := range []string{"type", "title", "confidence", "summary"} {
		if !containsField(fields, want) {
			t.Fatalf("expected violation on %s, got %v", want, fields)
		}
	}
	_, err = ValidateEvidenceLink(EvidenceLink{EvidenceID: "e", EntityType: EntityEvidence, EntityID: "x", Role: RoleSupporting, Weight: 0.5})
	if fields := fieldsOf(t, err); !containsField(fields, "entity_type") {
		t.Fatalf("expected entity_type violation, got %v", fields)
	}
	link, err := ValidateEvidenceLink(EvidenceLink{EvidenceID: "e", EntityType: EntitySeedLot, EntityID: "x", Role: RoleSupporting, Weight: 0.5})
	if err != nil {
		t.Fatalf("validate link: %v", err)
	}
	if link.LinkedBy != LinkedBySystem {
		t.Fatalf("expected system default, got %s", link.LinkedBy)
	}
}

func TestValidateSeedBiologyDerivesGenus(t *testing.T) {
	b, err := ValidateSeedBiology(SeedBiology{ScientificName: "  Solanum   lycopersicum "})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if b.ScientificName != "Solanum lycopersicum" || b.Genus != "Solanum" || b.RiskClass != RiskUnknown {
		t.Fatalf("unexpected normalization: %+v", b)
	}
	if _, err := ValidateSeedBiology(SeedBiology{ScientificName: "ab"}); err == nil {
		t.Fatalf("expected short name to fail")
	}
}

func TestValidateOrganizationDoesNotAliasInput(t *testing.T) {
	markets := []string{"cn"}
	org, err := ValidateOrganization(Organization{Name: "Acme", Country: "kr", Flags: ComplianceFlags{RestrictedMarkets: markets}})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if markets[0] != "cn" || org.Flags.RestrictedMarkets[0] != "CN" {
		t.Fatalf("expected normalized copy, input %v output %v", markets, org.Flags.RestrictedMarkets)
	}
}

func TestValidatePPQ587Compliance(t *testing.T) {
	c, err := ValidatePPQ587Compliance(PPQ587Compliance{SeedLotID: "lot-1", AssessmentID: "as-1", DestinationCountry: " us ", Eligible: true, EvaluatedBy: "SYSTEM"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.DestinationCountry != "US" || c.SeedUse != UseHobby || c.RiskClass != RiskUnknown {
		t.Fatalf("unexpected defaults: %+v", c)
	}

	fields := fieldsOf(t, func() error {
		_, err := ValidatePPQ587Compliance(PPQ587Compliance{LabelVerified: true, PacketSeedCount: -1})
		return err
	}())
	for _, want := range []string{"seed_lot_id", "assessment_id", "destination_country", "packet_seed_count", "permit_number", "label_verified", "exclusion_reason", "evaluated_by"} {
		if !containsField(fields, want) {
			t.Fatalf("expected %s in %v", want, fields)
		}
	}

	if _, err := ValidatePPQ587Compliance(PPQ587Compliance{SeedLotID: "lot-1", AssessmentID: "as-1", DestinationCountry: "US", Eligible: true, EvaluatedBy: "SYSTEM", PermitNumber: "P37/26"}); err == nil {
		t.Fatalf("expected unsafe permit number to fail")
	}
}
