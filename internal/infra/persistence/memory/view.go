package memory

import (
	"time"

	"seedlot/pkg/domain"
)

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) domain.TransactionView {
	return transactionView{state: state}
}

func baseKey(b domain.Base) (time.Time, string) { return b.CreatedAt, b.ID }

func (v transactionView) FindOrganization(id string) (domain.Organization, bool) {
	o, ok := v.state.organizations[id]
	return cloneOrganization(o), ok
}

func (v transactionView) FindSupplier(id string) (domain.Supplier, bool) {
	s, ok := v.state.suppliers[id]
	return s, ok
}

func (v transactionView) FindSeedBiology(id string) (domain.SeedBiology, bool) {
	b, ok := v.state.biologies[id]
	return cloneBiology(b), ok
}

func (v transactionView) ListSeedBiologies() []domain.SeedBiology {
	return sortedValues(v.state.biologies, cloneBiology, func(b domain.SeedBiology) (time.Time, string) { return baseKey(b.Base) })
}

func (v transactionView) FindSeedLot(id string) (domain.SeedLot, bool) {
	l, ok := v.state.lots[id]
	return l, ok
}

func (v transactionView) ListSeedLots() []domain.SeedLot {
	return sortedValues(v.state.lots, identity[domain.SeedLot], func(l domain.SeedLot) (time.Time, string) { return baseKey(l.Base) })
}

func (v transactionView) FindCertificate(id string) (domain.PhytosanitaryCertificate, bool) {
	c, ok := v.state.certificates[id]
	return cloneCertificate(c), ok
}

func (v transactionView) ListCertificates() []domain.PhytosanitaryCertificate {
	return sortedValues(v.state.certificates, cloneCertificate, func(c domain.PhytosanitaryCertificate) (time.Time, string) { return baseKey(c.Base) })
}

func (v transactionView) FindShipment(id string) (domain.Shipment, bool) {
	s, ok := v.state.shipments[id]
	return cloneShipment(s), ok
}

func (v transactionView) ListShipments() []domain.Shipment {
	return sortedValues(v.state.shipments, cloneShipment, func(s domain.Shipment) (time.Time, string) { return baseKey(s.Base) })
}

func (v transactionView) FindEvidence(id string) (domain.Evidence, bool) {
	e, ok := v.state.evidence[id]
	return cloneEvidence(e), ok
}

func (v transactionView) ListEvidence() []domain.Evidence {
	return sortedValues(v.state.evidence, cloneEvidence, func(e domain.Evidence) (time.Time, string) { return e.CreatedAt, e.ID })
}

func (v transactionView) ListEvidenceLinks() []domain.EvidenceLink {
	return sortedValues(v.state.links, identity[domain.EvidenceLink], func(l domain.EvidenceLink) (time.Time, string) { return l.CreatedAt, l.ID })
}

func (v transactionView) FindAssessment(id string) (domain.RegulatoryAssessment, bool) {
	a, ok := v.state.assessments[id]
	return cloneAssessment(a), ok
}

func (v transactionView) ListAssessments() []domain.RegulatoryAssessment {
	return sortedValues(v.state.assessments, cloneAssessment, func(a domain.RegulatoryAssessment) (time.Time, string) { return baseKey(a.Base) })
}

func (v transactionView) ListDecisionBasis(assessmentID string) []domain.DecisionBasis {
	rows := sortedValues(v.state.basis, identity[domain.DecisionBasis], func(b domain.DecisionBasis) (time.Time, string) { return b.CreatedAt, b.ID })
	out := rows[:0]
	for _, b := range rows {
		if b.AssessmentID == assessmentID {
			out = append(out, b)
		}
	}
	return out
}

func (v transactionView) FindPPQCompliance(id string) (domain.PPQ587Compliance, bool) {
	c, ok := v.state.compliance[id]
	return cloneCompliance(c), ok
}

// ListPPQCompliance returns the compliance records of one lot, oldest first.
func (v transactionView) ListPPQCompliance(seedLotID string) []domain.PPQ587Compliance {
	rows := sortedValues(v.state.compliance, cloneCompliance, func(c domain.PPQ587Compliance) (time.Time, string) { return baseKey(c.Base) })
	out := rows[:0]
	for _, c := range rows {
		if c.SeedLotID == seedLotID {
			out = append(out, c)
		}
	}
	return out
}
