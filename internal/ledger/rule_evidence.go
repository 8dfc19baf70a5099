package ledger

import (
	"fmt"

	"seedlot/pkg/domain"
)

// RuleClause is one ruleset clause that shaped a decision.
type RuleClause struct {
	Source  string
	Version string
	Clause  string
	Aspect  domain.Aspect
	Text    string
	Claims  map[string]string
}

// Reference renders the stable citation string for c.
func (c RuleClause) Reference() string {
	return fmt.Sprintf("ruleset:%s@%s#%s", c.Source, c.Version, c.Clause)
}

// EnsureRuleEvidence returns the REGULATORY_RULE evidence recording c,
// appending it the first time the clause is cited.
func EnsureRuleEvidence(tx domain.Transaction, c RuleClause) (domain.Evidence, error) {
	ev, _, err := AppendOrReuse(tx, domain.Evidence{
		Type:            domain.EvidenceRegulatoryRule,
		Aspect:          c.Aspect,
		Title:           fmt.Sprintf("Ruleset %s %s clause %s", c.Source, c.Version, c.Clause),
		Summary:         c.Text,
		SourceReference: c.Reference(),
		Claims:          c.Claims,
		Confidence:      1,
		Authoritative:   true,
		RecordedBy:      "ruleset",
	})
	return ev, err
}
