package memory

import (
	"sort"
	"time"

	"seedlot/pkg/domain"
)

type memoryState struct {
	organizations map[string]domain.Organization
	suppliers     map[string]domain.Supplier
	biologies     map[string]domain.SeedBiology
	lots          map[string]domain.SeedLot
	certificates  map[string]domain.PhytosanitaryCertificate
	shipments     map[string]domain.Shipment
	evidence      map[string]domain.Evidence
	links         map[string]domain.EvidenceLink
	assessments   map[string]domain.RegulatoryAssessment
	basis         map[string]domain.DecisionBasis
	compliance    map[string]domain.PPQ587Compliance
}

// Snapshot captures a point-in-time clone of the store state. Each field is
// persisted as one bucket by the durable stores.
type Snapshot struct {
	Organizations map[string]domain.Organization             `json:"organizations"`
	Suppliers     map[string]domain.Supplier                 `json:"suppliers"`
	Biologies     map[string]domain.SeedBiology              `json:"biologies"`
	SeedLots      map[string]domain.SeedLot                  `json:"seed_lots"`
	Certificates  map[string]domain.PhytosanitaryCertificate `json:"certificates"`
	Shipments     map[string]domain.Shipment                 `json:"shipments"`
	Evidence      map[string]domain.Evidence                 `json:"evidence"`
	EvidenceLinks map[string]domain.EvidenceLink             `json:"evidence_links"`
	Assessments   map[string]domain.RegulatoryAssessment     `json:"assessments"`
	DecisionBasis map[string]domain.DecisionBasis            `json:"decision_basis"`
	PPQCompliance map[string]domain.PPQ587Compliance         `json:"ppq_compliance"`
}

func newMemoryState() memoryState {
	return memoryState{
		organizations: make(map[string]domain.Organization),
		suppliers:     make(map[string]domain.Supplier),
		biologies:     make(map[string]domain.SeedBiology),
		lots:          make(map[string]domain.SeedLot),
		certificates:  make(map[string]domain.PhytosanitaryCertificate),
		shipments:     make(map[string]domain.Shipment),
		evidence:      make(map[string]domain.Evidence),
		links:         make(map[string]domain.EvidenceLink),
		assessments:   make(map[string]domain.RegulatoryAssessment),
		basis:         make(map[string]domain.DecisionBasis),
		compliance:    make(map[string]domain.PPQ587Compliance),
	}
}

func cloneMap[T any](in map[string]T, clone func(T) T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}
	return out
}

func (s memoryState) clone() memoryState {
	return memoryState{
		organizations: cloneMap(s.organizations, cloneOrganization),
		suppliers:     cloneMap(s.suppliers, identity[domain.Supplier]),
		biologies:     cloneMap(s.biologies, cloneBiology),
		lots:          cloneMap(s.lots, identity[domain.SeedLot]),
		certificates:  cloneMap(s.certificates, cloneCertificate),
		shipments:     cloneMap(s.shipments, cloneShipment),
		evidence:      cloneMap(s.evidence, cloneEvidence),
		links:         cloneMap(s.links, identity[domain.EvidenceLink]),
		assessments:   cloneMap(s.assessments, cloneAssessment),
		basis:         cloneMap(s.basis, identity[domain.DecisionBasis]),
		compliance:    cloneMap(s.compliance, cloneCompliance),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Organizations: c.organizations,
		Suppliers:     c.suppliers,
		Biologies:     c.biologies,
		SeedLots:      c.lots,
		Certificates:  c.certificates,
		Shipments:     c.shipments,
		Evidence:      c.evidence,
		EvidenceLinks: c.links,
		Assessments:   c.assessments,
		DecisionBasis: c.basis,
		PPQCompliance: c.compliance,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		organizations: s.Organizations,
		suppliers:     s.Suppliers,
		biologies:     s.Biologies,
		lots:          s.SeedLots,
		certificates:  s.Certificates,
		shipments:     s.Shipments,
		evidence:      s.Evidence,
		links:         s.EvidenceLinks,
		assessments:   s.Assessments,
		basis:         s.DecisionBasis,
		compliance:    s.PPQCompliance,
	}
	empty := newMemoryState()
	if state.organizations == nil {
		state.organizations = empty.organizations
	}
	if state.suppliers == nil {
		state.suppliers = empty.suppliers
	}
	if state.biologies == nil {
		state.biologies = empty.biologies
	}
	if state.lots == nil {
		state.lots = empty.lots
	}
	if state.certificates == nil {
		state.certificates = empty.certificates
	}
	if state.shipments == nil {
		state.shipments = empty.shipments
	}
	if state.evidence == nil {
		state.evidence = empty.evidence
	}
	if state.links == nil {
		state.links = empty.links
	}
	if state.assessments == nil {
		state.assessments = empty.assessments
	}
	if state.basis == nil {
		state.basis = empty.basis
	}
	if state.compliance == nil {
		state.compliance = empty.compliance
	}
	return state.clone()
}

func identity[T any](v T) T { return v }

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneOrganization(o domain.Organization) domain.Organization {
	o.Flags.RestrictedMarkets = cloneStrings(o.Flags.RestrictedMarkets)
	return o
}

func cloneBiology(b domain.SeedBiology) domain.SeedBiology {
	b.KnownPathogens = cloneStrings(b.KnownPathogens)
	return b
}

func cloneCertificate(c domain.PhytosanitaryCertificate) domain.PhytosanitaryCertificate {
	c.SeedLotIDs = cloneStrings(c.SeedLotIDs)
	c.Treatments = cloneStrings(c.Treatments)
	c.ValidUntil = cloneTime(c.ValidUntil)
	return c
}

func cloneShipment(s domain.Shipment) domain.Shipment {
	s.SeedLotIDs = cloneStrings(s.SeedLotIDs)
	s.ShippedAt = cloneTime(s.ShippedAt)
	s.DeliveredAt = cloneTime(s.DeliveredAt)
	return s
}

func cloneEvidence(e domain.Evidence) domain.Evidence {
	if e.Claims != nil {
		claims := make(map[string]string, len(e.Claims))
		for k, v := range e.Claims {
			claims[k] = v
		}
		e.Claims = claims
	}
	return e
}

func cloneAssessment(a domain.RegulatoryAssessment) domain.RegulatoryAssessment {
	if a.MissingAspects != nil {
		a.MissingAspects = append([]domain.Aspect(nil), a.MissingAspects...)
	}
	a.ArchivedAt = cloneTime(a.ArchivedAt)
	a.InvalidatedAt = cloneTime(a.InvalidatedAt)
	return a
}

func cloneCompliance(c domain.PPQ587Compliance) domain.PPQ587Compliance {
	c.LabelVerifiedAt = cloneTime(c.LabelVerifiedAt)
	return c
}

// sortedValues returns cloned map values ordered by creation time then id so
// that listings are deterministic.
func sortedValues[T any](in map[string]T, clone func(T) T, key func(T) (time.Time, string)) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		out = append(out, clone(v))
	}
	sort.Slice(out, func(i, j int) bool {
		ti, idi := key(out[i])
		tj, idj := key(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
	return out
}

// BucketNames lists the snapshot buckets in the order durable stores write them.
var BucketNames = []string{
	"organizations",
	"suppliers",
	"biologies",
	"seed_lots",
	"certificates",
	"shipments",
	"evidence",
	"evidence_links",
	"assessments",
	"decision_basis",
	"ppq_compliance",
}

// Buckets returns a pointer to each bucket of s keyed by its name, for
// encoding and decoding one bucket at a time.
func (s *Snapshot) Buckets() map[string]any {
	return map[string]any{
		"organizations":  &s.Organizations,
		"suppliers":      &s.Suppliers,
		"biologies":      &s.Biologies,
		"seed_lots":      &s.SeedLots,
		"certificates":   &s.Certificates,
		"shipments":      &s.Shipments,
		"evidence":       &s.Evidence,
		"evidence_links": &s.EvidenceLinks,
		"assessments":    &s.Assessments,
		"decision_basis": &s.DecisionBasis,
		"ppq_compliance": &s.PPQCompliance,
	}
}
