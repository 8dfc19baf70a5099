package domain

import "context"

// RuleView provides read-only access to domain entities for rule evaluation.
type RuleView interface {
	FindSeedBiology(id string) (SeedBiology, bool)
	FindSeedLot(id string) (SeedLot, bool)
	FindShipment(id string) (Shipment, bool)
	FindCertificate(id string) (PhytosanitaryCertificate, bool)
	FindEvidence(id string) (Evidence, bool)
	ListShipments() []Shipment
	ListEvidence() []Evidence
	ListAssessments() []RegulatoryAssessment
	ListPPQCompliance(seedLotID string) []PPQ587Compliance
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// Change describes a mutation applied to an entity within a transaction.
// Before and After hold entity values (not pointers) of the matching type.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock aborts the transaction.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but does not abort.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a single rule failure.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates rule violations.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge folds other's violations into r.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if any violation blocks the transaction.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
