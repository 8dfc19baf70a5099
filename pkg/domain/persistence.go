package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. There are no delete operations: records
// are archived or superseded instead.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time

	CreateOrganization(Organization) (Organization, error)
	UpdateOrganization(id string, mutator func(*Organization) error) (Organization, error)
	CreateSupplier(Supplier) (Supplier, error)
	UpdateSupplier(id string, mutator func(*Supplier) error) (Supplier, error)
	CreateSeedBiology(SeedBiology) (SeedBiology, error)
	UpdateSeedBiology(id string, mutator func(*SeedBiology) error) (SeedBiology, error)
	CreateSeedLot(SeedLot) (SeedLot, error)
	UpdateSeedLot(id string, mutator func(*SeedLot) error) (SeedLot, error)
	CreateCertificate(PhytosanitaryCertificate) (PhytosanitaryCertificate, error)
	UpdateCertificate(id string, mutator func(*PhytosanitaryCertificate) error) (PhytosanitaryCertificate, error)
	CreateShipment(Shipment) (Shipment, error)
	UpdateShipment(id string, mutator func(*Shipment) error) (Shipment, error)

	// AppendEvidence stores a new evidence item. The item must be active.
	AppendEvidence(Evidence) (Evidence, error)
	// SupersedeEvidence deactivates oldID and points it at newID. It fails with
	// SupersessionConflictError when oldID is already inactive.
	SupersedeEvidence(oldID, newID string) error
	CreateEvidenceLink(EvidenceLink) (EvidenceLink, error)

	CreateAssessment(RegulatoryAssessment) (RegulatoryAssessment, error)
	UpdateAssessment(id string, mutator func(*RegulatoryAssessment) error) (RegulatoryAssessment, error)
	CreateDecisionBasis(DecisionBasis) (DecisionBasis, error)
	CreatePPQCompliance(PPQ587Compliance) (PPQ587Compliance, error)
	UpdatePPQCompliance(id string, mutator func(*PPQ587Compliance) error) (PPQ587Compliance, error)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	FindOrganization(id string) (Organization, bool)
	FindSupplier(id string) (Supplier, bool)
	ListSeedBiologies() []SeedBiology
	ListSeedLots() []SeedLot
	ListCertificates() []PhytosanitaryCertificate
	ListEvidenceLinks() []EvidenceLink
	FindAssessment(id string) (RegulatoryAssessment, bool)
	ListDecisionBasis(assessmentID string) []DecisionBasis
	FindPPQCompliance(id string) (PPQ587Compliance, bool)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
