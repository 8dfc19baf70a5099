package core

import (
	"context"
	"fmt"

	"seedlot/pkg/domain"
)

// BiologyImmutabilityRule refuses in-place edits to a biology version once an
// assessment has been made against it. Changes go through a revision.
func BiologyImmutabilityRule() domain.Rule {
	return biologyImmutabilityRule{}
}

type biologyImmutabilityRule struct{}

func (biologyImmutabilityRule) Name() string { return "biology_version_immutable" }

func (r biologyImmutabilityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySeedBiology || change.Action != domain.ActionUpdate {
			continue
		}
		after, ok := change.After.(domain.SeedBiology)
		if !ok {
			continue
		}
		for _, a := range view.ListAssessments() {
			if a.BiologyID != after.ID {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("seed biology %s v%d is referenced by assessment %s; create a revision instead", after.ID, after.Version, a.ID),
				Entity:   domain.EntitySeedBiology,
				EntityID: after.ID,
			})
			break
		}
	}
	return res, nil
}
