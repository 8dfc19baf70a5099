package core

import (
	"context"
	"fmt"
	"sort"

	"seedlot/pkg/domain"
)

// SingleAuthoritativeAssessmentRule ensures at most one non-archived
// assessment exists per (seed lot, destination) after every commit that
// touches assessments.
func SingleAuthoritativeAssessmentRule() domain.Rule {
	return singleAuthoritativeAssessmentRule{}
}

type singleAuthoritativeAssessmentRule struct{}

func (singleAuthoritativeAssessmentRule) Name() string { return "single_authoritative_assessment" }

func (r singleAuthoritativeAssessmentRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[string]bool)
	for _, change := range changes {
		if change.Entity != domain.EntityAssessment {
			continue
		}
		if a, ok := change.After.(domain.RegulatoryAssessment); ok {
			touched[domain.AssessmentKey(a.SeedLotID, a.DestinationCountry)] = true
		}
	}
	if len(touched) == 0 {
		return domain.Result{}, nil
	}
	live := make(map[string][]string)
	for _, a := range view.ListAssessments() {
		key := domain.AssessmentKey(a.SeedLotID, a.DestinationCountry)
		if touched[key] && a.Authoritative() {
			live[key] = append(live[key], a.ID)
		}
	}
	keys := make([]string, 0, len(live))
	for key := range live {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	res := domain.Result{}
	for _, key := range keys {
		ids := live[key]
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%d authoritative assessments for %s: %v", len(ids), key, ids),
			Entity:   domain.EntityAssessment,
			EntityID: ids[len(ids)-1],
		})
	}
	return res, nil
}
