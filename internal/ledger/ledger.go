// Package ledger implements the append-only evidence ledger: content-hashed
// appends, atomic supersession, entity links and active-evidence resolution.
// Every operation runs inside a caller-supplied domain.Transaction so that it
// commits or rolls back together with whatever else the caller writes.
package ledger

import (
	"fmt"
	"sort"

	"seedlot/pkg/domain"
)

// AppendOptions tunes a single append.
type AppendOptions struct {
	// Correction allows the new record to share its content hash with an
	// active record.
	Correction bool
}

// Append validates e, assigns its content hash and stores it as active.
func Append(tx domain.Transaction, e domain.Evidence, opts AppendOptions) (domain.Evidence, error) {
	prepared, err := prepare(tx.Snapshot(), e, opts, "")
	if err != nil {
		return domain.Evidence{}, err
	}
	return tx.AppendEvidence(prepared)
}

// AppendOrReuse appends e unless an active record with identical content
// already exists, in which case that record is returned with reused=true.
func AppendOrReuse(tx domain.Transaction, e domain.Evidence) (domain.Evidence, bool, error) {
	normalized, err := domain.ValidateEvidence(e)
	if err != nil {
		return domain.Evidence{}, false, err
	}
	hash, err := ContentHash(normalized)
	if err != nil {
		return domain.Evidence{}, false, err
	}
	if existing, ok := findActiveByHash(tx.Snapshot(), hash, ""); ok {
		return existing, true, nil
	}
	created, err := Append(tx, normalized, AppendOptions{})
	return created, false, err
}

// Supersede appends next and retires oldID in the same transaction. It fails
// with domain.SupersessionConflictError when oldID is no longer active.
func Supersede(tx domain.Transaction, oldID string, next domain.Evidence, opts AppendOptions) (domain.Evidence, error) {
	view := tx.Snapshot()
	old, ok := view.FindEvidence(oldID)
	if !ok {
		return domain.Evidence{}, domain.NotFoundError{Entity: domain.EntityEvidence, ID: oldID}
	}
	if !old.Active {
		return domain.Evidence{}, domain.SupersessionConflictError{EvidenceID: oldID, SupersededBy: old.SupersededByEvidenceID}
	}
	next.SupersedesEvidenceID = oldID
	prepared, err := prepare(view, next, opts, oldID)
	if err != nil {
		return domain.Evidence{}, err
	}
	created, err := tx.AppendEvidence(prepared)
	if err != nil {
		return domain.Evidence{}, err
	}
	if err := tx.SupersedeEvidence(oldID, created.ID); err != nil {
		return domain.Evidence{}, err
	}
	return created, nil
}

func prepare(view domain.TransactionView, e domain.Evidence, opts AppendOptions, replacing string) (domain.Evidence, error) {
	normalized, err := domain.ValidateEvidence(e)
	if err != nil {
		return domain.Evidence{}, err
	}
	hash, err := ContentHash(normalized)
	if err != nil {
		return domain.Evidence{}, err
	}
	if existing, ok := findActiveByHash(view, hash, replacing); ok && !opts.Correction {
		return domain.Evidence{}, domain.ContentHashConflictError{ContentHash: hash, ExistingID: existing.ID}
	}
	normalized.ContentHash = hash
	normalized.Active = true
	normalized.Correction = opts.Correction
	normalized.SupersededByEvidenceID = ""
	return normalized, nil
}

func findActiveByHash(view domain.TransactionView, hash, exclude string) (domain.Evidence, bool) {
	for _, e := range view.ListEvidence() {
		if e.Active && e.ContentHash == hash && e.ID != exclude {
			return e, true
		}
	}
	return domain.Evidence{}, false
}

// Link binds evidence to an entity. Only CONTRADICTORY links may point at
// inactive evidence.
func Link(tx domain.Transaction, l domain.EvidenceLink) (domain.EvidenceLink, error) {
	normalized, err := domain.ValidateEvidenceLink(l)
	if err != nil {
		return domain.EvidenceLink{}, err
	}
	view := tx.Snapshot()
	ev, ok := view.FindEvidence(normalized.EvidenceID)
	if !ok {
		return domain.EvidenceLink{}, domain.NotFoundError{Entity: domain.EntityEvidence, ID: normalized.EvidenceID}
	}
	if !ev.Active && normalized.Role != domain.RoleContradictory {
		return domain.EvidenceLink{}, domain.InactiveEvidenceError{EvidenceID: ev.ID}
	}
	if !targetExists(view, normalized.EntityType, normalized.EntityID) {
		return domain.EvidenceLink{}, domain.NotFoundError{Entity: normalized.EntityType, ID: normalized.EntityID}
	}
	return tx.CreateEvidenceLink(normalized)
}

func targetExists(view domain.TransactionView, t domain.EntityType, id string) bool {
	var ok bool
	switch t {
	case domain.EntitySeedLot:
		_, ok = view.FindSeedLot(id)
	case domain.EntitySupplier:
		_, ok = view.FindSupplier(id)
	case domain.EntityShipment:
		_, ok = view.FindShipment(id)
	case domain.EntityCertificate:
		_, ok = view.FindCertificate(id)
	case domain.EntityAssessment:
		_, ok = view.FindAssessment(id)
	case domain.EntitySeedBiology:
		_, ok = view.FindSeedBiology(id)
	case domain.EntityPPQCompliance:
		_, ok = view.FindPPQCompliance(id)
	}
	return ok
}

// Resolved is an active evidence item reached from an entity link.
type Resolved struct {
	Evidence domain.Evidence
	// Link is the link through which the evidence was reached. When the linked
	// item was superseded, Link.EvidenceID names the original item.
	Link domain.EvidenceLink
}

// Superseded reports whether the link pointed at an older item in the chain.
func (r Resolved) Superseded() bool { return r.Link.EvidenceID != r.Evidence.ID }

// ChainError reports a supersession chain that does not end in exactly one
// active item.
type ChainError struct {
	EvidenceID string
	Kind       string
	At         string
}

func (e ChainError) Error() string {
	return fmt.Sprintf("evidence chain from %q is broken: %s at %q", e.EvidenceID, e.Kind, e.At)
}

// Terminus walks the supersession chain from id to its active end.
func Terminus(view domain.RuleView, id string) (domain.Evidence, error) {
	seen := make(map[string]struct{})
	current := id
	for {
		if _, loop := seen[current]; loop {
			return domain.Evidence{}, ChainError{EvidenceID: id, Kind: ViolationCycle, At: current}
		}
		seen[current] = struct{}{}
		ev, ok := view.FindEvidence(current)
		if !ok {
			return domain.Evidence{}, ChainError{EvidenceID: id, Kind: ViolationDanglingSuccessor, At: current}
		}
		if ev.Active {
			return ev, nil
		}
		if ev.SupersededByEvidenceID == "" {
			return domain.Evidence{}, ChainError{EvidenceID: id, Kind: ViolationInactiveTerminus, At: current}
		}
		current = ev.SupersededByEvidenceID
	}
}

// ResolveActive returns the evidence linked to the given entity, optionally
// filtered by role. Supporting links follow the supersession chain to the
// active item; CONTRADICTORY links keep the exact item they cite, withdrawn
// or not. Each fact appears once per side: links that reach the same item
// with the same stance collapse onto the heaviest link, and a contradictory
// link never displaces a supporting one.
func ResolveActive(view domain.TransactionView, entityType domain.EntityType, entityID string, role *domain.LinkRole) ([]Resolved, error) {
	type key struct {
		evidenceID    string
		contradictory bool
	}
	byTerminus := make(map[key]Resolved)
	for _, link := range view.ListEvidenceLinks() {
		if link.EntityType != entityType || link.EntityID != entityID {
			continue
		}
		if role != nil && link.Role != *role {
			continue
		}
		var ev domain.Evidence
		if link.Role == domain.RoleContradictory {
			found, ok := view.FindEvidence(link.EvidenceID)
			if !ok {
				return nil, ChainError{EvidenceID: link.EvidenceID, Kind: ViolationDanglingSuccessor, At: link.EvidenceID}
			}
			ev = found
		} else {
			var err error
			if ev, err = Terminus(view, link.EvidenceID); err != nil {
				return nil, err
			}
		}
		k := key{evidenceID: ev.ID, contradictory: link.Role == domain.RoleContradictory}
		if prev, ok := byTerminus[k]; ok && prev.Link.Weight >= link.Weight {
			continue
		}
		byTerminus[k] = Resolved{Evidence: ev, Link: link}
	}
	out := make([]Resolved, 0, len(byTerminus))
	for _, r := range byTerminus {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Evidence.CreatedAt.Equal(out[j].Evidence.CreatedAt) {
			return out[i].Evidence.CreatedAt.Before(out[j].Evidence.CreatedAt)
		}
		if out[i].Evidence.ID != out[j].Evidence.ID {
			return out[i].Evidence.ID < out[j].Evidence.ID
		}
		return out[i].Link.Role < out[j].Link.Role
	})
	return out, nil
}
