package core

import (
	"context"
	"fmt"

	"seedlot/internal/lifecycle"
	"seedlot/pkg/domain"
)

// LifecycleTransitionRule blocks invalid states and edges missing from the
// shipment and seed lot state machines.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	label     string
	valid     func(state string) bool
	allowed   func(from, to string) bool
	extractor func(v any) (id string, state string, ok bool)
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityShipment: {
		label: "shipment",
		valid: func(s string) bool { return lifecycle.ValidShipmentStatus(domain.ShipmentStatus(s)) },
		allowed: func(from, to string) bool {
			return lifecycle.CanTransitionShipment(domain.ShipmentStatus(from), domain.ShipmentStatus(to))
		},
		extractor: func(v any) (string, string, bool) {
			s, ok := v.(domain.Shipment)
			return s.ID, string(s.Status), ok
		},
	},
	domain.EntitySeedLot: {
		label: "seed lot",
		valid: func(s string) bool { return lifecycle.ValidLotStatus(domain.SubmissionStatus(s)) },
		allowed: func(from, to string) bool {
			return lifecycle.CanTransitionLot(domain.SubmissionStatus(from), domain.SubmissionStatus(to))
		},
		extractor: func(v any) (string, string, bool) {
			l, ok := v.(domain.SeedLot)
			return l.ID, string(l.Status), ok
		},
	},
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (r lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(entity domain.EntityType, id, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   entity,
			EntityID: id,
		})
	}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}
		afterID, afterState, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		if !machine.valid(afterState) {
			block(change.Entity, afterID, "%s %s is set to invalid state %s", machine.label, afterID, afterState)
			continue
		}
		_, beforeState, ok := machine.extractor(change.Before)
		if !ok || beforeState == afterState {
			continue
		}
		if !machine.allowed(beforeState, afterState) {
			block(change.Entity, afterID, "cannot move %s %s from %s to %s", machine.label, afterID, beforeState, afterState)
		}
	}
	return res, nil
}
