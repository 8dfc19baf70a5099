// Package domain defines the persistent seed-lot trade entities, the evidence
// ledger records, and the rule evaluation primitives shared by every layer.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records, evidence links and
// persistence buckets.
const (
	// EntityOrganization identifies an exporter or importer organization.
	EntityOrganization EntityType = "organization"
	// EntitySupplier identifies a seed supplier record.
	EntitySupplier EntityType = "supplier"
	// EntitySeedBiology identifies a versioned biology profile.
	EntitySeedBiology EntityType = "seed_biology"
	// EntitySeedLot identifies a seed lot.
	EntitySeedLot EntityType = "seed_lot"
	// EntityShipment identifies a physical consignment.
	EntityShipment EntityType = "shipment"
	// EntityCertificate identifies a phytosanitary certificate.
	EntityCertificate EntityType = "phytosanitary_certificate"
	// EntityEvidence identifies an append-only evidence item.
	EntityEvidence EntityType = "evidence"
	// EntityEvidenceLink identifies a link between evidence and another entity.
	EntityEvidenceLink EntityType = "evidence_link"
	// EntityAssessment identifies a regulatory assessment.
	EntityAssessment EntityType = "regulatory_assessment"
	// EntityDecisionBasis identifies a decision basis row owned by an assessment.
	EntityDecisionBasis EntityType = "decision_basis"
	// EntityPPQCompliance identifies a PPQ-587 small-lot compliance record.
	EntityPPQCompliance EntityType = "ppq_compliance"
)

// Linkable reports whether evidence may be linked to entities of this type.
func (t EntityType) Linkable() bool {
	switch t {
	case EntitySeedLot, EntitySupplier, EntityShipment, EntityCertificate, EntityAssessment, EntitySeedBiology, EntityPPQCompliance:
		return true
	default:
		return false
	}
}

// Action represents the type of change performed on an entity. Records are
// never deleted; archival is expressed as an update.
type Action string

const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// RegulatoryPath is the regulatory pathway that governs a lot for one destination.
type RegulatoryPath string

const (
	// PathSmallLot is the simplified small-lot permit pathway.
	PathSmallLot RegulatoryPath = "PPQ_587_SMALL_LOT"
	// PathPhytosanitary requires a phytosanitary certificate bound to the consignment.
	PathPhytosanitary RegulatoryPath = "PHYTOSANITARY_REQUIRED"
	// PathBulkDomestic is the bulk import with domestic fulfillment pathway.
	PathBulkDomestic RegulatoryPath = "BULK_IMPORT_DOMESTIC_FULFILLMENT"
	// PathProhibited marks export as not permitted.
	PathProhibited RegulatoryPath = "EXPORT_PROHIBITED"
)

// Valid reports whether p is a known path.
func (p RegulatoryPath) Valid() bool { return p.Rank() >= 0 }

// Rank orders paths by restrictiveness; higher is more restrictive. Unknown
// paths rank -1.
func (p RegulatoryPath) Rank() int {
	switch p {
	case PathSmallLot:
		return 0
	case PathBulkDomestic:
		return 1
	case PathPhytosanitary:
		return 2
	case PathProhibited:
		return 3
	default:
		return -1
	}
}

// RequiresCertificate reports whether shipments on this path must carry a
// bound phytosanitary certificate.
func (p RegulatoryPath) RequiresCertificate() bool { return p == PathPhytosanitary }

// MoreRestrictive returns whichever of a and b is more restrictive.
func MoreRestrictive(a, b RegulatoryPath) RegulatoryPath {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RiskClass is the normalized biological and regulatory risk tier.
type RiskClass string

const (
	RiskLow     RiskClass = "LOW"
	RiskMedium  RiskClass = "MEDIUM"
	RiskHigh    RiskClass = "HIGH"
	RiskUnknown RiskClass = "UNKNOWN"
)

// Valid reports whether r is a known risk class.
func (r RiskClass) Valid() bool { return r.Rank() >= 0 }

// Rank orders risk classes by severity. UNKNOWN is treated as the most severe
// because nothing about the lot can be relied upon.
func (r RiskClass) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskUnknown:
		return 3
	default:
		return -1
	}
}

// AtLeast returns r raised to floor when floor ranks higher.
func (r RiskClass) AtLeast(floor RiskClass) RiskClass {
	if floor.Rank() > r.Rank() {
		return floor
	}
	return r
}

// SeedUse is the declared intended use of a lot.
type SeedUse string

const (
	UseHobby      SeedUse = "HOBBY"
	UseResearch   SeedUse = "RESEARCH"
	UseCommercial SeedUse = "COMMERCIAL"
)

// Valid reports whether u is a known use.
func (u SeedUse) Valid() bool {
	return u == UseHobby || u == UseResearch || u == UseCommercial
}

// PedigreeStatus describes whether a lot is certified planting material.
type PedigreeStatus string

const (
	PedigreeNonPedigreed PedigreeStatus = "NON_PEDIGREED"
	PedigreeCertified    PedigreeStatus = "CERTIFIED"
	PedigreeUnknown      PedigreeStatus = "UNKNOWN"
)

// Valid reports whether s is a known pedigree status.
func (s PedigreeStatus) Valid() bool {
	return s == PedigreeNonPedigreed || s == PedigreeCertified || s == PedigreeUnknown
}

// InspectionStatus is the NPPO inspection outcome recorded on a certificate.
type InspectionStatus string

const (
	InspectionPending     InspectionStatus = "PENDING"
	InspectionPassed      InspectionStatus = "PASSED"
	InspectionFailed      InspectionStatus = "FAILED"
	InspectionConditional InspectionStatus = "CONDITIONAL"
)

// Valid reports whether s is a known inspection status.
func (s InspectionStatus) Valid() bool {
	switch s {
	case InspectionPending, InspectionPassed, InspectionFailed, InspectionConditional:
		return true
	default:
		return false
	}
}

// SubmissionStatus is the seed lot compliance lifecycle state.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "PENDING"
	SubmissionValidated SubmissionStatus = "VALIDATED"
	SubmissionRejected  SubmissionStatus = "REJECTED"
	SubmissionApproved  SubmissionStatus = "APPROVED"
)

// ShipmentStatus is the shipment lifecycle state.
type ShipmentStatus string

const (
	ShipmentDraft              ShipmentStatus = "DRAFT"
	ShipmentAwaitingInspection ShipmentStatus = "AWAITING_INSPECTION"
	ShipmentAwaitingDocuments  ShipmentStatus = "AWAITING_DOCUMENTS"
	ShipmentReadyToShip        ShipmentStatus = "READY_TO_SHIP"
	ShipmentShipped            ShipmentStatus = "SHIPPED"
	ShipmentInTransit          ShipmentStatus = "IN_TRANSIT"
	ShipmentHeldAtBorder       ShipmentStatus = "HELD_AT_BORDER"
	ShipmentDelivered          ShipmentStatus = "DELIVERED"
	ShipmentRejected           ShipmentStatus = "REJECTED"
	ShipmentReturned           ShipmentStatus = "RETURNED"
	ShipmentDestroyed          ShipmentStatus = "DESTROYED"
)

// AssessmentStatus tracks whether an assessment can be relied upon.
type AssessmentStatus string

const (
	AssessmentPending AssessmentStatus = "PENDING"
	// AssessmentCompleted marks a finished decision.
	AssessmentCompleted AssessmentStatus = "COMPLETED"
	// AssessmentPendingReevaluation marks a decision whose underlying lot
	// facts changed after it was made.
	AssessmentPendingReevaluation AssessmentStatus = "PENDING_REEVALUATION"
)

// EvidenceType classifies the provenance of an evidence item.
type EvidenceType string

const (
	EvidenceSupplierDeclaration EvidenceType = "SUPPLIER_DECLARATION"
	EvidenceOfficialDocument    EvidenceType = "OFFICIAL_DOCUMENT"
	EvidenceInspectionReport    EvidenceType = "INSPECTION_REPORT"
	EvidenceLabResult           EvidenceType = "LAB_RESULT"
	EvidenceImage               EvidenceType = "IMAGE"
	EvidenceEmail               EvidenceType = "EMAIL"
	EvidenceAIExtraction        EvidenceType = "AI_EXTRACTION"
	EvidenceHumanNote           EvidenceType = "HUMAN_NOTE"
	EvidenceRegulatoryRule      EvidenceType = "REGULATORY_RULE"
	// EvidenceAutomatedAssessment preserves an engine output that a reviewer overrode.
	EvidenceAutomatedAssessment EvidenceType = "AUTOMATED_ASSESSMENT"
	EvidenceOther               EvidenceType = "OTHER"
)

// Valid reports whether t is a known evidence type.
func (t EvidenceType) Valid() bool {
	switch t {
	case EvidenceSupplierDeclaration, EvidenceOfficialDocument, EvidenceInspectionReport, EvidenceLabResult,
		EvidenceImage, EvidenceEmail, EvidenceAIExtraction, EvidenceHumanNote, EvidenceRegulatoryRule,
		EvidenceAutomatedAssessment, EvidenceOther:
		return true
	default:
		return false
	}
}

// LinkRole describes how a linked evidence item bears on its target entity.
type LinkRole string

const (
	RolePrimaryJustification LinkRole = "PRIMARY_JUSTIFICATION"
	RoleSupporting           LinkRole = "SUPPORTING"
	RoleReference            LinkRole = "REFERENCE"
	// RoleContradictory may point at inactive evidence.
	RoleContradictory LinkRole = "CONTRADICTORY"
)

// Valid reports whether r is a known link role.
func (r LinkRole) Valid() bool {
	switch r {
	case RolePrimaryJustification, RoleSupporting, RoleReference, RoleContradictory:
		return true
	default:
		return false
	}
}

// LinkedBy records whether a link was created by the system or a person.
type LinkedBy string

const (
	LinkedBySystem LinkedBy = "SYSTEM"
	LinkedByHuman  LinkedBy = "HUMAN"
)

// Aspect is the facet of a regulatory decision that evidence speaks to.
type Aspect string

const (
	AspectBiologicalIdentity Aspect = "BIOLOGICAL_IDENTITY"
	AspectPathogenStatus     Aspect = "PATHOGEN_STATUS"
	AspectOriginCountry      Aspect = "ORIGIN_COUNTRY"
	AspectIntendedUse        Aspect = "INTENDED_USE"
	AspectLegalExclusion     Aspect = "LEGAL_EXCLUSION"
	AspectPermitEligibility  Aspect = "PERMIT_ELIGIBILITY"
	AspectRiskClassification Aspect = "RISK_CLASSIFICATION"
)

// Valid reports whether a is a known aspect.
func (a Aspect) Valid() bool {
	switch a {
	case AspectBiologicalIdentity, AspectPathogenStatus, AspectOriginCountry, AspectIntendedUse,
		AspectLegalExclusion, AspectPermitEligibility, AspectRiskClassification:
		return true
	default:
		return false
	}
}

// RequiredAspects lists the evidence categories every assessment needs.
func RequiredAspects() []Aspect {
	return []Aspect{AspectBiologicalIdentity, AspectPathogenStatus, AspectOriginCountry, AspectIntendedUse}
}

// Base contains common fields for mutable entities.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComplianceFlags carries an organization's regulatory history.
type ComplianceFlags struct {
	PastViolations    bool     `json:"past_violations"`
	UnderReview       bool     `json:"under_review"`
	RestrictedMarkets []string `json:"restricted_markets,omitempty"`
}

// Organization is an exporting or importing party.
type Organization struct {
	Base
	Name                   string          `json:"name"`
	Country                string          `json:"country"`
	NPPOExporterAuthorized bool            `json:"nppo_exporter_authorized"`
	ImporterOfRecord       bool            `json:"importer_of_record"`
	Flags                  ComplianceFlags `json:"compliance_flags"`
}

// Supplier is the party a seed lot was sourced from.
type Supplier struct {
	Base
	LegalName      string `json:"legal_name"`
	Country        string `json:"country"`
	NPPORegistered bool   `json:"nppo_registered"`
	ContactEmail   string `json:"contact_email,omitempty"`
}

// SeedBiology is one version of a biology profile. Revisions share a LineageID
// and increment Version; a version referenced by an assessment is never edited.
type SeedBiology struct {
	Base
	LineageID      string    `json:"lineage_id"`
	Version        int       `json:"version"`
	ScientificName string    `json:"scientific_name"`
	CommonName     string    `json:"common_name,omitempty"`
	Family         string    `json:"family,omitempty"`
	Genus          string    `json:"genus,omitempty"`
	KnownPathogens []string  `json:"known_pathogens,omitempty"`
	RiskClass      RiskClass `json:"risk_class,omitempty"`
	BreedingType   string    `json:"breeding_type,omitempty"`
}

// Ref returns the embedded reference form of b.
func (b SeedBiology) Ref() BiologyRef {
	return BiologyRef{ID: b.ID, LineageID: b.LineageID, Version: b.Version, ScientificName: b.ScientificName, Genus: b.Genus}
}

// BiologyRef is the biology reference embedded in a seed lot.
type BiologyRef struct {
	ID             string `json:"id"`
	LineageID      string `json:"lineage_id,omitempty"`
	Version        int    `json:"version"`
	ScientificName string `json:"scientific_name"`
	Genus          string `json:"genus,omitempty"`
}

// SeedLot is a homogeneous quantity of seed with one biological identity, one
// origin and one handling history. CachedPath and CachedRiskClass are display
// copies of the latest assessment and are never authoritative.
type SeedLot struct {
	Base
	OrganizationID       string           `json:"organization_id"`
	SupplierID           string           `json:"supplier_id"`
	LotCode              string           `json:"lot_code"`
	Biology              BiologyRef       `json:"biology"`
	OriginCountry        string           `json:"origin_country"`
	Use                  SeedUse          `json:"use"`
	PedigreeStatus       PedigreeStatus   `json:"pedigree_status"`
	NonPedigreedDeclared bool             `json:"non_pedigreed_declared"`
	Quantity             int              `json:"quantity"`
	HarvestYear          int              `json:"harvest_year,omitempty"`
	Status               SubmissionStatus `json:"status"`
	CachedPath           RegulatoryPath   `json:"cached_path,omitempty"`
	CachedRiskClass      RiskClass        `json:"cached_risk_class,omitempty"`
}

// PhytosanitaryCertificate is an NPPO certificate bound to one consignment.
type PhytosanitaryCertificate struct {
	Base
	CertificateNumber         string           `json:"certificate_number"`
	IssuingCountry            string           `json:"issuing_country"`
	IssuingAuthority          string           `json:"issuing_authority"`
	ExporterOrganizationID    string           `json:"exporter_organization_id"`
	DestinationCountry        string           `json:"destination_country"`
	ImportPermitReference     string           `json:"import_permit_reference,omitempty"`
	SeedLotIDs                []string         `json:"seed_lot_ids"`
	InspectionDate            time.Time        `json:"inspection_date"`
	InspectionStatus          InspectionStatus `json:"inspection_status"`
	InspectorID               string           `json:"inspector_id,omitempty"`
	InspectorNotes            string           `json:"inspector_notes,omitempty"`
	AdditionalDeclarations    string           `json:"additional_declarations,omitempty"`
	Treatments                []string         `json:"treatments,omitempty"`
	IssueDate                 time.Time        `json:"issue_date"`
	ValidUntil                *time.Time       `json:"valid_until,omitempty"`
	ConsignmentID             string           `json:"consignment_id,omitempty"`
	ReusedForReferenceOnly    bool             `json:"reused_for_reference_only"`
	Voided                    bool             `json:"voided"`
	Amended                   bool             `json:"amended"`
	SupersededByCertificateID string           `json:"superseded_by_certificate_id,omitempty"`
}

// Shipment is one physical consignment.
type Shipment struct {
	Base
	SeedLotIDs             []string       `json:"seed_lot_ids"`
	ExporterOrganizationID string         `json:"exporter_organization_id"`
	ImporterOrganizationID string         `json:"importer_organization_id,omitempty"`
	ExportCountry          string         `json:"export_country"`
	DestinationCountry     string         `json:"destination_country"`
	Path                   RegulatoryPath `json:"regulatory_path"`
	CertificateID          string         `json:"certificate_id,omitempty"`
	Carrier                string         `json:"carrier,omitempty"`
	TrackingNumber         string         `json:"tracking_number,omitempty"`
	PackageCount           int            `json:"package_count,omitempty"`
	Status                 ShipmentStatus `json:"status"`
	HoldReason             string         `json:"hold_reason,omitempty"`
	ShippedAt              *time.Time     `json:"shipped_at,omitempty"`
	DeliveredAt            *time.Time     `json:"delivered_at,omitempty"`
}

// Evidence is one atomic append-only fact. Only the supersession pointer and
// active flag ever change after append, and only through supersession.
type Evidence struct {
	ID                     string            `json:"id"`
	Type                   EvidenceType      `json:"type"`
	Aspect                 Aspect            `json:"aspect,omitempty"`
	Title                  string            `json:"title"`
	Summary                string            `json:"summary,omitempty"`
	SourceReference        string            `json:"source_reference,omitempty"`
	Claims                 map[string]string `json:"claims,omitempty"`
	DocumentKey            string            `json:"document_key,omitempty"`
	ContentHash            string            `json:"content_hash"`
	Confidence             float64           `json:"confidence"`
	Authoritative          bool              `json:"authoritative"`
	Active                 bool              `json:"active"`
	Correction             bool              `json:"correction,omitempty"`
	SupersededByEvidenceID string            `json:"superseded_by_evidence_id,omitempty"`
	SupersedesEvidenceID   string            `json:"supersedes_evidence_id,omitempty"`
	RecordedBy             string            `json:"recorded_by,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
}

// Claim returns the normalized claim value for key.
func (e Evidence) Claim(key string) string {
	return strings.ToUpper(strings.TrimSpace(e.Claims[key]))
}

// EvidenceLink binds one evidence item to one target entity.
type EvidenceLink struct {
	ID         string     `json:"id"`
	EvidenceID string     `json:"evidence_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Role       LinkRole   `json:"role"`
	Weight     float64    `json:"weight"`
	LinkedBy   LinkedBy   `json:"linked_by"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DecisionBasis records which evidence justified which aspect of an assessment.
type DecisionBasis struct {
	ID           string    `json:"id"`
	AssessmentID string    `json:"assessment_id"`
	EvidenceID   string    `json:"evidence_id"`
	Aspect       Aspect    `json:"aspect"`
	Decisive     bool      `json:"decisive"`
	Explanation  string    `json:"explanation,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegulatoryAssessment is one decision for a (seed lot, destination) pair.
// Only the non-archived assessment for a pair is authoritative.
type RegulatoryAssessment struct {
	Base
	SeedLotID              string           `json:"seed_lot_id"`
	DestinationCountry     string           `json:"destination_country"`
	BiologyID              string           `json:"biology_id"`
	Path                   RegulatoryPath   `json:"regulatory_path"`
	RiskClass              RiskClass        `json:"risk_class"`
	Justification          string           `json:"justification"`
	RuleSource             string           `json:"rule_source"`
	RulesetVersion         string           `json:"ruleset_version"`
	Confidence             float64          `json:"confidence"`
	RequiresReview         bool             `json:"requires_review"`
	InsufficientEvidence   bool             `json:"insufficient_evidence"`
	MissingAspects         []Aspect         `json:"missing_aspects,omitempty"`
	HumanReviewed          bool             `json:"human_reviewed"`
	ReviewedBy             string           `json:"reviewed_by,omitempty"`
	OverrideReason         string           `json:"override_reason,omitempty"`
	SupersedesAssessmentID string           `json:"supersedes_assessment_id,omitempty"`
	Status                 AssessmentStatus `json:"status"`
	ValidFrom              time.Time        `json:"valid_from"`
	ValidUntil             time.Time        `json:"valid_until"`
	ArchivedAt             *time.Time       `json:"archived_at,omitempty"`
	ArchiveReason          string           `json:"archive_reason,omitempty"`
	InvalidatedAt          *time.Time       `json:"invalidated_at,omitempty"`
	InvalidationReason     string           `json:"invalidation_reason,omitempty"`
}

// Authoritative reports whether a is the live decision for its key.
func (a RegulatoryAssessment) Authoritative() bool { return a.ArchivedAt == nil }

// Expired reports whether the validity window has closed at now.
func (a RegulatoryAssessment) Expired(now time.Time) bool {
	return !a.ValidUntil.IsZero() && !now.Before(a.ValidUntil)
}

// Reliable reports whether shipments may depend on a at now.
func (a RegulatoryAssessment) Reliable(now time.Time) bool {
	if !a.Authoritative() || a.Status != AssessmentCompleted || a.Expired(now) {
		return false
	}
	return !a.RequiresReview || a.HumanReviewed
}

// AssessmentKey returns the serialization key for a (seed lot, destination) pair.
func AssessmentKey(seedLotID, destination string) string {
	return seedLotID + "|" + strings.ToUpper(strings.TrimSpace(destination))
}

// PPQ587Compliance records the small-lot permit evaluation of one assessment.
// The assessment fills the eligibility fields; an inspector later records the
// permit number and label verification. A lot ships on the small-lot path only
// while its record is eligible and the label is verified.
type PPQ587Compliance struct {
	Base
	SeedLotID            string     `json:"seed_lot_id"`
	AssessmentID         string     `json:"assessment_id"`
	DestinationCountry   string     `json:"destination_country"`
	Eligible             bool       `json:"eligible"`
	ExclusionReason      string     `json:"exclusion_reason,omitempty"`
	PermitNumber         string     `json:"permit_number,omitempty"`
	SeedUse              SeedUse    `json:"seed_use"`
	NonPedigreedDeclared bool       `json:"non_pedigreed_declared"`
	PacketSeedCount      int        `json:"packet_seed_count"`
	MaxAllowedSeedCount  int        `json:"max_allowed_seed_count,omitempty"`
	QuantityWithinLimit  bool       `json:"quantity_within_limit"`
	RiskClass            RiskClass  `json:"risk_class"`
	LabelVerified        bool       `json:"label_verified"`
	LabelVerifiedAt      *time.Time `json:"label_verified_at,omitempty"`
	LabelVerifiedBy      string     `json:"label_verified_by,omitempty"`
	EvaluatedAt          time.Time  `json:"evaluated_at"`
	EvaluatedBy          string     `json:"evaluated_by"`
	AuditNotes           string     `json:"audit_notes,omitempty"`
}

// Cleared reports whether c allows shipping on the small-lot path.
func (c PPQ587Compliance) Cleared() bool { return c.Eligible && c.LabelVerified }
