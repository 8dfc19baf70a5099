package core

import (
	"time"

	"seedlot/pkg/domain"
)

// NewRulesEngine constructs an engine with no rules.
func NewRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	return NewRulesEngineWithInspectionAge(0)
}

// NewRulesEngineWithInspectionAge is NewDefaultRulesEngine with an explicit
// inspection window for the READY_TO_SHIP gate. Zero selects the default.
func NewRulesEngineWithInspectionAge(maxInspectionAge time.Duration) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(ReadyToShipRule(maxInspectionAge))
	engine.Register(SingleAuthoritativeAssessmentRule())
	engine.Register(CertificateConsignmentRule())
	engine.Register(BiologyImmutabilityRule())
	return engine
}
