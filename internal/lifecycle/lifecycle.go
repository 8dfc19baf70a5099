// Package lifecycle holds the seed lot and shipment state machines, the
// READY_TO_SHIP gate and the drift detection that invalidates assessments.
package lifecycle

import (
	"fmt"

	"seedlot/pkg/domain"
)

var shipmentEdges = map[domain.ShipmentStatus][]domain.ShipmentStatus{
	domain.ShipmentDraft:              {domain.ShipmentAwaitingInspection, domain.ShipmentAwaitingDocuments},
	domain.ShipmentAwaitingInspection: {domain.ShipmentAwaitingDocuments},
	domain.ShipmentAwaitingDocuments:  {domain.ShipmentReadyToShip},
	domain.ShipmentReadyToShip:        {domain.ShipmentShipped},
	domain.ShipmentShipped:            {domain.ShipmentInTransit},
	domain.ShipmentInTransit: {
		domain.ShipmentHeldAtBorder, domain.ShipmentDelivered, domain.ShipmentRejected,
		domain.ShipmentReturned, domain.ShipmentDestroyed,
	},
	domain.ShipmentHeldAtBorder: {
		domain.ShipmentDelivered, domain.ShipmentRejected, domain.ShipmentReturned, domain.ShipmentDestroyed,
	},
	// Remediation loops back for new documents.
	domain.ShipmentRejected:  {domain.ShipmentAwaitingDocuments},
	domain.ShipmentReturned:  {domain.ShipmentAwaitingDocuments},
	domain.ShipmentDelivered: nil,
	domain.ShipmentDestroyed: nil,
}

var lotEdges = map[domain.SubmissionStatus][]domain.SubmissionStatus{
	domain.SubmissionPending:   {domain.SubmissionValidated},
	domain.SubmissionValidated: {domain.SubmissionApproved, domain.SubmissionRejected},
	domain.SubmissionApproved:  nil,
	domain.SubmissionRejected:  nil,
}

// TransitionError reports an edge missing from a state machine.
type TransitionError struct {
	Entity domain.EntityType
	ID     string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// BindingFrozenError reports an attempt to change the certificate binding of
// a shipment that has already passed the READY_TO_SHIP gate.
type BindingFrozenError struct {
	ID     string
	Status domain.ShipmentStatus
}

func (e BindingFrozenError) Error() string {
	return fmt.Sprintf("shipment %s is %s and its certificate binding can no longer change", e.ID, e.Status)
}

// ValidShipmentStatus reports whether s is a known shipment state.
func ValidShipmentStatus(s domain.ShipmentStatus) bool {
	_, ok := shipmentEdges[s]
	return ok
}

// ValidLotStatus reports whether s is a known seed lot state.
func ValidLotStatus(s domain.SubmissionStatus) bool {
	_, ok := lotEdges[s]
	return ok
}

// ShipmentTerminal reports whether no edge leaves s.
func ShipmentTerminal(s domain.ShipmentStatus) bool {
	next, ok := shipmentEdges[s]
	return ok && len(next) == 0
}

// ShipmentBindable reports whether a certificate may be attached to a
// shipment in state s. Only states before the READY_TO_SHIP gate qualify.
func ShipmentBindable(s domain.ShipmentStatus) bool {
	switch s {
	case domain.ShipmentDraft, domain.ShipmentAwaitingInspection, domain.ShipmentAwaitingDocuments:
		return true
	}
	return false
}

// CheckBindable returns a BindingFrozenError when the shipment's binding is
// fixed.
func CheckBindable(s domain.Shipment) error {
	if ShipmentBindable(s.Status) {
		return nil
	}
	return BindingFrozenError{ID: s.ID, Status: s.Status}
}

// NextShipmentStates lists the states reachable from s in one step.
func NextShipmentStates(s domain.ShipmentStatus) []domain.ShipmentStatus {
	return append([]domain.ShipmentStatus(nil), shipmentEdges[s]...)
}

// CanTransitionShipment reports whether from -> to is an edge. Staying in the
// same state is always allowed.
func CanTransitionShipment(from, to domain.ShipmentStatus) bool {
	if !ValidShipmentStatus(to) {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range shipmentEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionLot reports whether from -> to is an edge.
func CanTransitionLot(from, to domain.SubmissionStatus) bool {
	if !ValidLotStatus(to) {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range lotEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckShipmentTransition returns a TransitionError for an illegal edge.
func CheckShipmentTransition(s domain.Shipment, to domain.ShipmentStatus) error {
	if CanTransitionShipment(s.Status, to) {
		return nil
	}
	return TransitionError{Entity: domain.EntityShipment, ID: s.ID, From: string(s.Status), To: string(to)}
}

// CheckLotTransition returns a TransitionError for an illegal edge.
func CheckLotTransition(lot domain.SeedLot, to domain.SubmissionStatus) error {
	if CanTransitionLot(lot.Status, to) {
		return nil
	}
	return TransitionError{Entity: domain.EntitySeedLot, ID: lot.ID, From: string(lot.Status), To: string(to)}
}
