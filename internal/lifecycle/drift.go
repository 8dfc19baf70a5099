package lifecycle

import (
	"strings"
	"time"

	"seedlot/pkg/domain"
)

// MaterialChanges names the lot fields that changed between before and after
// and that an assessment depends on.
func MaterialChanges(before, after domain.SeedLot) []string {
	var changed []string
	if before.Biology.ID != after.Biology.ID || before.Biology.Version != after.Biology.Version {
		changed = append(changed, "biology")
	}
	if !strings.EqualFold(strings.TrimSpace(before.OriginCountry), strings.TrimSpace(after.OriginCountry)) {
		changed = append(changed, "origin_country")
	}
	if before.Use != after.Use {
		changed = append(changed, "use")
	}
	if before.PedigreeStatus != after.PedigreeStatus {
		changed = append(changed, "pedigree_status")
	}
	if before.Quantity != after.Quantity {
		changed = append(changed, "quantity")
	}
	return changed
}

// InvalidationReason renders the reason recorded on drifted assessments.
func InvalidationReason(changed []string) string {
	return "seed lot changed: " + strings.Join(changed, ", ")
}

// Invalidate marks a live assessment as pending re-evaluation. It reports
// false for archived assessments, which are history and stay untouched.
func Invalidate(a *domain.RegulatoryAssessment, reason string, at time.Time) bool {
	if !a.Authoritative() {
		return false
	}
	a.Status = domain.AssessmentPendingReevaluation
	a.InvalidatedAt = &at
	a.InvalidationReason = reason
	return true
}
