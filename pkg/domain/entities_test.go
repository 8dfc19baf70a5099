package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPathRankOrdersRestrictiveness(t *testing.T) {
	order := []RegulatoryPath{PathSmallLot, PathBulkDomestic, PathPhytosanitary, PathProhibited}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should be more restrictive than %s", order[i], order[i-1])
		}
	}
	if got := MoreRestrictive(PathSmallLot, PathPhytosanitary); got != PathPhytosanitary {
		t.Fatalf("expected phytosanitary, got %s", got)
	}
	if RegulatoryPath("X").Valid() {
		t.Fatalf("unknown path must be invalid")
	}
}

func TestRiskClassAtLeast(t *testing.T) {
	if got := RiskLow.AtLeast(RiskMedium); got != RiskMedium {
		t.Fatalf("expected medium, got %s", got)
	}
	if got := RiskHigh.AtLeast(RiskMedium); got != RiskHigh {
		t.Fatalf("expected high, got %s", got)
	}
	if got := RiskHigh.AtLeast(RiskUnknown); got != RiskUnknown {
		t.Fatalf("unknown outranks high, got %s", got)
	}
}

func TestAssessmentReliability(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := RegulatoryAssessment{Status: AssessmentCompleted, ValidUntil: now.Add(time.Hour)}
	if !a.Reliable(now) {
		t.Fatalf("expected reliable assessment")
	}
	if a.Reliable(now.Add(time.Hour)) {
		t.Fatalf("expected expiry at ValidUntil")
	}
	a.RequiresReview = true
	if a.Reliable(now) {
		t.Fatalf("review-flagged assessment must not be reliable")
	}
	a.HumanReviewed = true
	if !a.Reliable(now) {
		t.Fatalf("reviewed assessment should be reliable")
	}
	archived := now
	a.ArchivedAt = &archived
	if a.Reliable(now) {
		t.Fatalf("archived assessment must not be reliable")
	}
}

func TestAssessmentKeyNormalizesDestination(t *testing.T) {
	if AssessmentKey("lot", " us ") != AssessmentKey("lot", "US") {
		t.Fatalf("expected destination normalization")
	}
}

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	err := error(NotFoundError{Entity: EntitySeedLot, ID: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound match")
	}
}

func TestEvidenceClaimNormalizes(t *testing.T) {
	e := Evidence{Claims: map[string]string{"pathogen_status": " detected "}}
	if e.Claim("pathogen_status") != "DETECTED" || e.Claim("missing") != "" {
		t.Fatalf("unexpected claim normalization")
	}
}
