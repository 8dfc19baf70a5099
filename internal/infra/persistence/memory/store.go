// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments and as the working set of the
// durable stores.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"seedlot/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
	_ domain.TransactionView = transactionView{}
)

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the transaction clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

func newID() string { return uuid.NewString() }

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Registered rules are evaluated over the recorded changes before commit; a
// blocking result, an error from fn, or a cancelled context discards the copy.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.Result{}, fmt.Errorf("transaction abandoned before commit: %w", err)
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

type transaction struct {
	state   memoryState
	changes []domain.Change
	now     time.Time
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() domain.TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp stamped on every record written by tx.
func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) stamp(b *domain.Base) {
	if b.ID == "" {
		b.ID = newID()
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
}

func (tx *transaction) CreateOrganization(o domain.Organization) (domain.Organization, error) {
	tx.stamp(&o.Base)
	if _, exists := tx.state.organizations[o.ID]; exists {
		return domain.Organization{}, fmt.Errorf("organization %q already exists", o.ID)
	}
	tx.state.organizations[o.ID] = cloneOrganization(o)
	tx.recordChange(domain.Change{Entity: domain.EntityOrganization, Action: domain.ActionCreate, After: cloneOrganization(o)})
	return cloneOrganization(o), nil
}

func (tx *transaction) UpdateOrganization(id string, mutator func(*domain.Organization) error) (domain.Organization, error) {
	current, ok := tx.state.organizations[id]
	if !ok {
		return domain.Organization{}, domain.NotFoundError{Entity: domain.EntityOrganization, ID: id}
	}
	before := cloneOrganization(current)
	if err := mutator(&current); err != nil {
		return domain.Organization{}, err
	}
	current.ID, current.CreatedAt, current.UpdatedAt = before.ID, before.CreatedAt, tx.now
	tx.state.organizations[id] = cloneOrganization(current)
	tx.recordChange(domain.Change{Entity: domain.EntityOrganization, Action: domain.ActionUpdate, Before: before, After: cloneOrganization(current)})
	return cloneOrganization(current), nil
}

func (tx *transaction) CreateSupplier(s domain.Supplier) (domain.Supplier, error) {
	tx.stamp(&s.Base)
	if _, exists := tx.state.suppliers[s.ID]; exists {
		return domain.Supplier{}, fmt.Errorf("supplier %q already exists", s.ID)
	}
	tx.state.suppliers[s.ID] = s
	tx.recordChange(domain.Change{Entity: domain.EntitySupplier, Action: domain.ActionCreate, After: s})
	return s, nil
}

func (tx *transaction) UpdateSupplier(id string, mutator func(*domain.Supplier) error) (domain.Supplier, error) {
	current, ok := tx.state.suppliers[id]
	if !ok {
		return domain.Supplier{}, domain.NotFoundError{Entity: domain.EntitySupplier, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Supplier{}, err
	}
	current.ID, current.CreatedAt, current.UpdatedAt = before.ID, before.CreatedAt, tx.now
	tx.state.suppliers[id] = current
	tx.recordChange(domain.Change{Entity: domain.EntitySupplier, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) CreateSeedBiology(b domain.SeedBiology) (domain.SeedBiology, error) {
	tx.stamp(&b.Base)
	if _, exists := tx.state.biologies[b.ID]; exists {
		return domain.SeedBiology{}, fmt.Errorf("seed biology %q already exists", b.ID)
	}
	if b.LineageID == "" {
		b.LineageID = b.ID
	}
	if b.Version == 0 {
		b.Version = 1
	}
	tx.state.biologies[b.ID] = cloneBiology(b)
	tx.recordChange(domain.Change{Entity: domain.EntitySeedBiology, Action: domain.ActionCreate, After: cloneBiology(b)})
	return cloneBiology(b), nil
}

func (tx *transaction) UpdateSeedBiology(id string, mutator func(*domain.SeedBiology) error) (domain.SeedBiology, error) {
	current, ok := tx.state.biologies[id]
	if !ok {
		return domain.SeedBiology{}, domain.NotFoundError{Entity: domain.EntitySeedBiology, ID: id}
	}
	before := cloneBiology(current)
	if err := mutator(&current); err != nil {
		return domain.SeedBiology{}, err
	}
	current.ID, current.CreatedAt, current.UpdatedAt = before.ID, before.CreatedAt, tx.now
	current.LineageID, current.Version = before.LineageID, before.Version
	tx.state.biologies[id] = cloneBiology(current)
	tx.recordChange(domain.Change{Entity: domain.EntitySeedBiology, Action: domain.ActionUpdate, Before: before, After: cloneBiology(current)})
	return cloneBiology(current), nil
}

func (tx *transaction) CreateSeedLot(l domain.SeedLot) (domain.SeedLot, error) {
	tx.stamp(&l.Base)
	if _, exists := tx.state.lots[l.ID]; exists {
		return domain.SeedLot{}, fmt.Errorf("seed lot %q already exists", l.ID)
	}
	if _, ok := tx.state.biologies[l.Biology.ID]; !ok {
		return domain.SeedLot{}, domain.NotFoundError{Entity: domain.EntitySeedBiology, ID: l.Biology.ID}
	}
	tx.state.lots[l.ID] = l
	tx.recordChange(domain.Change{Entity: domain.EntitySeedLot, Action: domain.ActionCreate, After: l})
	return l, nil
}

func (tx *transaction) UpdateSeedLot(id string, mutator func(*domain.SeedLot) error) (domain.SeedLot, error) {
	current, ok := tx.state.lots[id]
	if !ok {
		return domain.SeedLot{}, domain.NotFoundError{Entity: domain.EntitySeedLot, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.SeedLot{}, err
	}
	current.ID, current.CreatedAt, current.UpdatedAt = before.ID, before.CreatedAt, tx.now
	if _, ok := tx.state.biologies[current.Biology.ID]; !ok {
		return domain.SeedLot{}, domain.NotFoundError{Entity: domain.EntitySeedBiology, ID: current.Biology.ID}
	}
	tx.state.lots[id] = current
	tx.recordChange(domain.Change{Entity: domain.EntitySeedLot, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) CreateCertificate(c domain.PhytosanitaryCertificate) (domain.PhytosanitaryCertificate, error) {
	tx.stamp(&c.Base)
	if _, exists := tx.state.certificates[c.ID]; exists {
		return domain.PhytosanitaryCertificate{}, fmt.Errorf("certificate %q already exists", c.ID)
	}
	for _, lotID := range c.SeedLotIDs {
		if _, ok := tx.state.lots[lotID]; !ok {
			return domain.PhytosanitaryCertificate{}, domain.NotFoundError{Entity: domain.EntitySeedLot, ID: lotID}
		}
	}
	tx.state.certificates[c.ID] = cloneCertificate(c)
	tx.recordChange(domain.Change{Entity: domain.EntityCertificate, Action: domain.ActionCreate, After: cloneCertificate(c)})
	return cloneCertificate(c), nil
}

func (tx *transaction) UpdateCertificate(id string, mutator func(*domain.PhytosanitaryCertificate) error) (domain.PhytosanitaryCertificate, error) {
	current, ok := tx.state.certificates[id]
	if !ok {
		return domain.PhytosanitaryCertificate{}, domain.NotFoundError{Entity: domain.EntityCertificate, ID: id}
	}
	before := cloneCertificate(current)
	if err := mutator(&current); err != nil {
		return domain.PhytosanitaryCertificate{}, err
	}
	current.ID, current.CreatedAt, current.UpdatedAt = before.ID, before.CreatedAt, tx.now
	tx.state.certificates[id] = cloneCertificate(current)
	tx.recordChange(domain.Change{Entity: domain.EntityCertificate, Action: domain.ActionUpdate, Before: before, After: cloneCertificate(current)})
	return cloneCertificate(current), nil
}

func (tx *transaction) CreateShipment(s domain.Shipment) (domain.Shipment, error) {
	tx.stamp(&s.Base)
	if _, exists := tx.state.shipments[s.ID]; exists {
		return domain.Shipment{}, fmt.Errorf("shipment %q already exists", s.ID)
	}
	if err := tx.checkShipmentRefs(s); err != nil {
		return domain.Shipment{}, err
	}
	tx.state.shipments[s.ID] = cloneShipment(s)
	tx.recordChange(domain.Change{Entity: domain.EntityShipment, Action: domain.ActionCreate, After: cloneShipment(s)})
	return cloneShipment(s), nil
}

func (tx *transaction) UpdateShipment(id string, mutator func(*domain.Shipment) error) (domain.Shipment, error) {
	current, ok := tx.state.shipments[id]
	if !ok {
		return domain.Shipment{}, domain.NotFoundError{Entity: domain.EntityShipment, ID: id}
	}
	before := cloneShipment(current)
	if err := mutator(&current); err != nil {
		return domain.Shipment{}, err
	}
	current.ID, current.CreatedAt, current.UpdatedAt = before.ID, before.CreatedAt, tx.now
	if err := tx.checkShipmentRefs(current); err != nil {
		return domain.Shipment{}, err
	}
	tx.state.shipments[id] = cloneShipment(current)
	tx.recordChange(domain.Change{Entity: domain.EntityShipment, Action: domain.ActionUpdate, Before: before, After: cloneShipment(current)})
	return cloneShipment(current), nil
}

func (tx *transaction) checkShipmentRefs(s domain.Shipment) error {
	for _, lotID := range s.SeedLotIDs {
		if _, ok := tx.state.lots[lotID]; !ok {
			return domain.NotFoundError{Entity: domain.EntitySeedLot, ID: lotID}
		}
	}
	if s.CertificateID != "" {
		if _, ok := tx.state.certificates[s.CertificateID]; !ok {
			return domain.NotFoundError{Entity: domain.EntityCertificate, ID: s.CertificateID}
		}
	}
	return nil
}

func (tx *transaction) AppendEvidence(e domain.Evidence) (domain.Evidence, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if _, exists := tx.state.evidence[e.ID]; exists {
		return domain.Evidence{}, fmt.Errorf("evidence %q already exists", e.ID)
	}
	if !e.Active || e.SupersededByEvidenceID != "" {
		return domain.Evidence{}, fmt.Errorf("evidence %q must be appended active", e.ID)
	}
	e.CreatedAt = tx.now
	tx.state.evidence[e.ID] = cloneEvidence(e)
	tx.recordChange(domain.Change{Entity: domain.EntityEvidence, Action: domain.ActionCreate, After: cloneEvidence(e)})
	return cloneEvidence(e), nil
}

func (tx *transaction) SupersedeEvidence(oldID, newID string) error {
	if oldID == newID {
		return fmt.Errorf("evidence %q cannot supersede itself", oldID)
	}
	old, ok := tx.state.evidence[oldID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityEvidence, ID: oldID}
	}
	successor, ok := tx.state.evidence[newID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityEvidence, ID: newID}
	}
	if !old.Active {
		return domain.SupersessionConflictError{EvidenceID: oldID, SupersededBy: old.SupersededByEvidenceID}
	}
	if !successor.Active {
		return domain.InactiveEvidenceError{EvidenceID: newID}
	}
	before := cloneEvidence(old)
	old.Active = false
	old.SupersededByEvidenceID = newID
	tx.state.evidence[oldID] = old
	tx.recordChange(domain.Change{Entity: domain.EntityEvidence, Action: domain.ActionUpdate, Before: before, After: cloneEvidence(old)})
	return nil
}

func (tx *transaction) CreateEvidenceLink(l domain.EvidenceLink) (domain.EvidenceLink, error) {
	if l.ID == "" {
		l.ID = newID()
	}
	if _, exists := tx.state.links[l.ID]; exists {
		return domain.EvidenceLink{}, fmt.Errorf("evidence link %q already exists", l.ID)
	}
	if _, ok := tx.state.evidence[l.EvidenceID]; !ok {
		return domain.EvidenceLink{}, domain.NotFoundError{Entity: domain.EntityEvidence, ID: l.EvidenceID}
	}
	l.CreatedAt = tx.now
	tx.state.links[l.ID] = l
	tx.recordChange(domain.Change{Entity: domain.EntityEvidenceLink, Action: domain.ActionCreate, After: l})
	return l, nil
}

func (tx *transaction) CreateAssessment(a domain.RegulatoryAssessment) (domain.RegulatoryAssessment, error) {
	tx.stamp(&a.Base)
	if _, exists := tx.state.assessments[a.ID]; exists {
		return domain.RegulatoryAssessment{}, fmt.Errorf("assessment %q already exists", a.ID)
	}
	if _, ok := tx.state.lots[a.SeedLotID]; !ok {
		return domain.RegulatoryAssessment{}, domain.NotFoundError{Entity: domain.EntitySeedLot, ID: a.SeedLotID}
	}
	tx.state.assessments[a.ID] = cloneAssessment(a)
	tx.recordChange(domain.Change{Entity: domain.EntityAssessment, Action: domain.ActionCreate, After: cloneAssessment(a)})
	return cloneAssessment(a), nil
}

func (tx *transaction) UpdateAssessment(id string, mutator func(*domain.RegulatoryAssessment) error) (domain.RegulatoryAssessment, error) {
	current, ok := tx.state.assessments[id]
	if !ok {
		return domain.RegulatoryAssessment{}, domain.NotFoundError{Entity: domain.EntityAssessment, ID: id}
	}
	before := cloneAssessment(current)
	if err := mutator(&current); err != nil {
		return domain.RegulatoryAssessment{}, err
	}
	current.ID, current.CreatedAt, current.UpdatedAt = before.ID, before.CreatedAt, tx.now
	current.SeedLotID, current.DestinationCountry = before.SeedLotID, before.DestinationCountry
	tx.state.assessments[id] = cloneAssessment(current)
	tx.recordChange(domain.Change{Entity: domain.EntityAssessment, Action: domain.ActionUpdate, Before: before, After: cloneAssessment(current)})
	return cloneAssessment(current), nil
}

func (tx *transaction) CreateDecisionBasis(b domain.DecisionBasis) (domain.DecisionBasis, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	if _, ok := tx.state.assessments[b.AssessmentID]; !ok {
		return domain.DecisionBasis{}, domain.NotFoundError{Entity: domain.EntityAssessment, ID: b.AssessmentID}
	}
	if _, ok := tx.state.evidence[b.EvidenceID]; !ok {
		return domain.DecisionBasis{}, domain.NotFoundError{Entity: domain.EntityEvidence, ID: b.EvidenceID}
	}
	b.CreatedAt = tx.now
	tx.state.basis[b.ID] = b
	tx.recordChange(domain.Change{Entity: domain.EntityDecisionBasis, Action: domain.ActionCreate, After: b})
	return b, nil
}

func (tx *transaction) CreatePPQCompliance(c domain.PPQ587Compliance) (domain.PPQ587Compliance, error) {
	tx.stamp(&c.Base)
	if _, exists := tx.state.compliance[c.ID]; exists {
		return domain.PPQ587Compliance{}, fmt.Errorf("compliance record %q already exists", c.ID)
	}
	if _, ok := tx.state.lots[c.SeedLotID]; !ok {
		return domain.PPQ587Compliance{}, domain.NotFoundError{Entity: domain.EntitySeedLot, ID: c.SeedLotID}
	}
	if _, ok := tx.state.assessments[c.AssessmentID]; !ok {
		return domain.PPQ587Compliance{}, domain.NotFoundError{Entity: domain.EntityAssessment, ID: c.AssessmentID}
	}
	tx.state.compliance[c.ID] = cloneCompliance(c)
	tx.recordChange(domain.Change{Entity: domain.EntityPPQCompliance, Action: domain.ActionCreate, After: cloneCompliance(c)})
	return cloneCompliance(c), nil
}

func (tx *transaction) UpdatePPQCompliance(id string, mutator func(*domain.PPQ587Compliance) error) (domain.PPQ587Compliance, error) {
	current, ok := tx.state.compliance[id]
	if !ok {
		return domain.PPQ587Compliance{}, domain.NotFoundError{Entity: domain.EntityPPQCompliance, ID: id}
	}
	before := cloneCompliance(current)
	if err := mutator(&current); err != nil {
		return domain.PPQ587Compliance{}, err
	}
	current.ID, current.CreatedAt, current.UpdatedAt = before.ID, before.CreatedAt, tx.now
	current.SeedLotID, current.AssessmentID = before.SeedLotID, before.AssessmentID
	tx.state.compliance[id] = cloneCompliance(current)
	tx.recordChange(domain.Change{Entity: domain.EntityPPQCompliance, Action: domain.ActionUpdate, Before: before, After: cloneCompliance(current)})
	return cloneCompliance(current), nil
}
