package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Field limits shared by every validator.
const (
	MaxLongText        = 5000
	minCodeLength      = 2
	maxCodeLength      = 128
	maxLotCodeLength   = 64
	minCountryLength   = 2
	maxCountryLength   = 64
	minScientificName  = 3
	maxScientificName  = 255
	earliestHarvest    = 1900
	maxShortTextLength = 255
)

var safeCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidationError is a single field-level violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string { return e.Field + ": " + e.Message }

// ValidationErrors is the structured result of a failed validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the offending field names in order.
func (v ValidationErrors) Fields() []string {
	out := make([]string, len(v))
	for i, e := range v {
		out[i] = e.Field
	}
	return out
}

type checker struct {
	errs ValidationErrors
}

func (c *checker) fail(field, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) required(field, value string) bool {
	if value == "" {
		c.fail(field, "is required")
		return false
	}
	return true
}

func (c *checker) length(field, value string, minLen, maxLen int) {
	n := utf8.RuneCountInString(value)
	if n < minLen || n > maxLen {
		c.fail(field, "must be between %d and %d characters", minLen, maxLen)
	}
}

func (c *checker) code(field, value string, minLen, maxLen int) {
	if !c.required(field, value) {
		return
	}
	c.length(field, value, minLen, maxLen)
	if !safeCodePattern.MatchString(value) {
		c.fail(field, "may contain only letters, digits, '_' and '-'")
	}
}

func (c *checker) country(field, value string) {
	if c.required(field, value) {
		c.length(field, value, minCountryLength, maxCountryLength)
	}
}

func (c *checker) text(field, value string, maxLen int) {
	if utf8.RuneCountInString(value) > maxLen {
		c.fail(field, "must be at most %d characters", maxLen)
	}
}

func (c *checker) unit(field string, v float64) {
	if v < 0 || v > 1 {
		c.fail(field, "must be between 0 and 1")
	}
}

func (c *checker) uniqueIDs(field string, ids []string) {
	if len(ids) == 0 {
		c.fail(field, "must list at least one seed lot")
		return
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			c.fail(field, "contains an empty id")
			continue
		}
		if _, dup := seen[id]; dup {
			c.fail(field, "lists %q more than once", id)
		}
		seen[id] = struct{}{}
	}
}

func (c *checker) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}

func normalizeCountry(v string) string { return strings.ToUpper(strings.TrimSpace(v)) }

// ValidateOrganization returns a normalized copy of org or the list of
// field violations.
func ValidateOrganization(org Organization) (Organization, error) {
	org.Name = strings.TrimSpace(org.Name)
	org.Country = normalizeCountry(org.Country)
	var c checker
	if c.required("name", org.Name) {
		c.text("name", org.Name, maxShortTextLength)
	}
	c.country("country", org.Country)
	markets := make([]string, len(org.Flags.RestrictedMarkets))
	for i, m := range org.Flags.RestrictedMarkets {
		markets[i] = normalizeCountry(m)
		c.country(fmt.Sprintf("compliance_flags.restricted_markets[%d]", i), markets[i])
	}
	org.Flags.RestrictedMarkets = markets
	if err := c.err(); err != nil {
		return Organization{}, err
	}
	return org, nil
}

// ValidateSupplier returns a normalized copy of s or the list of field
// violations.
func ValidateSupplier(s Supplier) (Supplier, error) {
	s.LegalName = strings.TrimSpace(s.LegalName)
	s.Country = normalizeCountry(s.Country)
	s.ContactEmail = strings.TrimSpace(s.ContactEmail)
	var c checker
	if c.required("legal_name", s.LegalName) {
		c.text("legal_name", s.LegalName, maxShortTextLength)
	}
	c.country("country", s.Country)
	if s.ContactEmail != "" {
		if _, err := mail.ParseAddress(s.ContactEmail); err != nil {
			c.fail("contact_email", "is not a valid address")
		}
	}
	if err := c.err(); err != nil {
		return Supplier{}, err
	}
	return s, nil
}

// ValidateSeedBiology returns a normalized copy of b or the list of field
// violations.
func ValidateSeedBiology(b SeedBiology) (SeedBiology, error) {
	b.ScientificName = strings.Join(strings.Fields(b.ScientificName), " ")
	b.Genus = strings.TrimSpace(b.Genus)
	if b.Genus == "" && b.ScientificName != "" {
		b.Genus = strings.Fields(b.ScientificName)[0]
	}
	if b.RiskClass == "" {
		b.RiskClass = RiskUnknown
	}
	var c checker
	if c.required("scientific_name", b.ScientificName) {
		c.length("scientific_name", b.ScientificName, minScientificName, maxScientificName)
	}
	c.text("common_name", b.CommonName, maxShortTextLength)
	c.text("family", b.Family, maxShortTextLength)
	if !b.RiskClass.Valid() {
		c.fail("risk_class", "unknown risk class %q", b.RiskClass)
	}
	if b.Version < 0 {
		c.fail("version", "must not be negative")
	}
	for i, p := range b.KnownPathogens {
		if strings.TrimSpace(p) == "" {
			c.fail(fmt.Sprintf("known_pathogens[%d]", i), "is empty")
		}
	}
	if err := c.err(); err != nil {
		return SeedBiology{}, err
	}
	return b, nil
}

// ValidateSeedLot returns a normalized copy of lot or the list of field
// violations. now bounds the harvest year.
func ValidateSeedLot(lot SeedLot, now time.Time) (SeedLot, error) {
	lot.LotCode = strings.TrimSpace(lot.LotCode)
	lot.OriginCountry = normalizeCountry(lot.OriginCountry)
	if lot.Status == "" {
		lot.Status = SubmissionPending
	}
	var c checker
	c.required("organization_id", lot.OrganizationID)
	c.required("supplier_id", lot.SupplierID)
	c.code("lot_code", lot.LotCode, 1, maxLotCodeLength)
	c.required("biology.id", lot.Biology.ID)
	c.country("origin_country", lot.OriginCountry)
	if !lot.Use.Valid() {
		c.fail("use", "unknown seed use %q", lot.Use)
	}
	if !lot.PedigreeStatus.Valid() {
		c.fail("pedigree_status", "unknown pedigree status %q", lot.PedigreeStatus)
	}
	if lot.PedigreeStatus == PedigreeNonPedigreed && !lot.NonPedigreedDeclared {
		c.fail("non_pedigreed_declared", "a non-pedigreed declaration is required when pedigree status is %s", PedigreeNonPedigreed)
	}
	if lot.Quantity <= 0 {
		c.fail("quantity", "must be a positive integer")
	}
	if lot.HarvestYear != 0 && (lot.HarvestYear < earliestHarvest || lot.HarvestYear > now.Year()) {
		c.fail("harvest_year", "must be between %d and %d", earliestHarvest, now.Year())
	}
	if lot.CachedPath != "" && !lot.CachedPath.Valid() {
		c.fail("cached_path", "unknown regulatory path %q", lot.CachedPath)
	}
	if err := c.err(); err != nil {
		return SeedLot{}, err
	}
	return lot, nil
}

// ValidateCertificate returns a normalized copy of cert or the list of field
// violations.
func ValidateCertificate(cert PhytosanitaryCertificate) (PhytosanitaryCertificate, error) {
	cert.CertificateNumber = strings.TrimSpace(cert.CertificateNumber)
	cert.IssuingCountry = normalizeCountry(cert.IssuingCountry)
	cert.DestinationCountry = normalizeCountry(cert.DestinationCountry)
	if cert.InspectionStatus == "" {
		cert.InspectionStatus = InspectionPending
	}
	var c checker
	c.code("certificate_number", cert.CertificateNumber, minCodeLength, maxCodeLength)
	c.country("issuing_country", cert.IssuingCountry)
	c.required("issuing_authority", cert.IssuingAuthority)
	c.required("exporter_organization_id", cert.ExporterOrganizationID)
	c.country("destination_country", cert.DestinationCountry)
	c.uniqueIDs("seed_lot_ids", cert.SeedLotIDs)
	if !cert.InspectionStatus.Valid() {
		c.fail("inspection_status", "unknown inspection status %q", cert.InspectionStatus)
	}
	if cert.InspectionDate.IsZero() {
		c.fail("inspection_date", "is required")
	}
	if cert.IssueDate.IsZero() {
		c.fail("issue_date", "is required")
	} else if !cert.InspectionDate.IsZero() && cert.IssueDate.Before(cert.InspectionDate) {
		c.fail("issue_date", "must not precede the inspection date")
	}
	if cert.ValidUntil != nil && !cert.IssueDate.IsZero() && cert.ValidUntil.Before(cert.IssueDate) {
		c.fail("valid_until", "must not precede the issue date")
	}
	c.text("inspector_notes", cert.InspectorNotes, MaxLongText)
	c.text("additional_declarations", cert.AdditionalDeclarations, MaxLongText)
	if cert.SupersededByCertificateID != "" && cert.SupersededByCertificateID == cert.ID {
		c.fail("superseded_by_certificate_id", "must not reference itself")
	}
	if err := c.err(); err != nil {
		return PhytosanitaryCertificate{}, err
	}
	return cert, nil
}

// ValidateShipment returns a normalized copy of s or the list of field
// violations.
func ValidateShipment(s Shipment) (Shipment, error) {
	s.ExportCountry = normalizeCountry(s.ExportCountry)
	s.DestinationCountry = normalizeCountry(s.DestinationCountry)
	if s.Status == "" {
		s.Status = ShipmentDraft
	}
	var c checker
	c.uniqueIDs("seed_lot_ids", s.SeedLotIDs)
	c.required("exporter_organization_id", s.ExporterOrganizationID)
	c.country("export_country", s.ExportCountry)
	c.country("destination_country", s.DestinationCountry)
	if !s.Path.Valid() {
		c.fail("regulatory_path", "unknown regulatory path %q", s.Path)
	}
	if s.PackageCount < 0 {
		c.fail("package_count", "must not be negative")
	}
	if s.TrackingNumber != "" && !safeCodePattern.MatchString(s.TrackingNumber) {
		c.fail("tracking_number", "may contain only letters, digits, '_' and '-'")
	}
	c.text("hold_reason", s.HoldReason, MaxLongText)
	if err := c.err(); err != nil {
		return Shipment{}, err
	}
	return s, nil
}

// ValidateEvidence returns a normalized copy of e or the list of field
// violations. Identity, hash and timestamps are assigned by the ledger.
func ValidateEvidence(e Evidence) (Evidence, error) {
	e.Title = strings.TrimSpace(e.Title)
	var c checker
	if !e.Type.Valid() {
		c.fail("type", "unknown evidence type %q", e.Type)
	}
	if e.Aspect != "" && !e.Aspect.Valid() {
		c.fail("aspect", "unknown aspect %q", e.Aspect)
	}
	if c.required("title", e.Title) {
		c.text("title", e.Title, maxShortTextLength)
	}
	c.text("summary", e.Summary, MaxLongText)
	c.text("source_reference", e.SourceReference, MaxLongText)
	c.unit("confidence", e.Confidence)
	for k := range e.Claims {
		if strings.TrimSpace(k) == "" {
			c.fail("claims", "contains an empty key")
		}
	}
	if err := c.err(); err != nil {
		return Evidence{}, err
	}
	return e, nil
}

// ValidateEvidenceLink returns a normalized copy of l or the list of field
// violations.
func ValidateEvidenceLink(l EvidenceLink) (EvidenceLink, error) {
	if l.LinkedBy == "" {
		l.LinkedBy = LinkedBySystem
	}
	var c checker
	c.required("evidence_id", l.EvidenceID)
	if !l.EntityType.Linkable() {
		c.fail("entity_type", "evidence cannot be linked to %q", l.EntityType)
	}
	c.required("entity_id", l.EntityID)
	if !l.Role.Valid() {
		c.fail("role", "unknown link role %q", l.Role)
	}
	c.unit("weight", l.Weight)
	if l.LinkedBy != LinkedBySystem && l.LinkedBy != LinkedByHuman {
		c.fail("linked_by", "unknown value %q", l.LinkedBy)
	}
	c.text("notes", l.Notes, MaxLongText)
	if err := c.err(); err != nil {
		return EvidenceLink{}, err
	}
	return l, nil
}

// ValidatePPQ587Compliance returns a normalized copy of c or the list of field
// violations.
func ValidatePPQ587Compliance(c PPQ587Compliance) (PPQ587Compliance, error) {
	c.DestinationCountry = normalizeCountry(c.DestinationCountry)
	c.PermitNumber = strings.TrimSpace(c.PermitNumber)
	c.EvaluatedBy = strings.TrimSpace(c.EvaluatedBy)
	c.LabelVerifiedBy = strings.TrimSpace(c.LabelVerifiedBy)
	if c.SeedUse == "" {
		c.SeedUse = UseHobby
	}
	if c.RiskClass == "" {
		c.RiskClass = RiskUnknown
	}
	var ch checker
	ch.required("seed_lot_id", c.SeedLotID)
	ch.required("assessment_id", c.AssessmentID)
	ch.country("destination_country", c.DestinationCountry)
	if !c.SeedUse.Valid() {
		ch.fail("seed_use", "unknown seed use %q", c.SeedUse)
	}
	if !c.RiskClass.Valid() {
		ch.fail("risk_class", "unknown risk class %q", c.RiskClass)
	}
	if c.PacketSeedCount < 0 {
		ch.fail("packet_seed_count", "must not be negative")
	}
	if c.MaxAllowedSeedCount < 0 {
		ch.fail("max_allowed_seed_count", "must not be negative")
	}
	if c.PermitNumber != "" {
		ch.code("permit_number", c.PermitNumber, minCodeLength, maxCodeLength)
	}
	if c.LabelVerified && c.PermitNumber == "" {
		ch.fail("permit_number", "is required once the label is verified")
	}
	if c.LabelVerified && !c.Eligible {
		ch.fail("label_verified", "cannot be set on an ineligible record")
	}
	if !c.Eligible && c.ExclusionReason == "" {
		ch.fail("exclusion_reason", "is required when the lot is not eligible")
	}
	if ch.required("evaluated_by", c.EvaluatedBy) {
		ch.text("evaluated_by", c.EvaluatedBy, maxShortTextLength)
	}
	ch.text("label_verified_by", c.LabelVerifiedBy, maxShortTextLength)
	ch.text("exclusion_reason", c.ExclusionReason, MaxLongText)
	ch.text("audit_notes", c.AuditNotes, MaxLongText)
	if err := ch.err(); err != nil {
		return PPQ587Compliance{}, err
	}
	return c, nil
}
