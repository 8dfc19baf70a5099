package assessment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seedlot/internal/ruleset"
	"seedlot/pkg/domain"
)

var assessedAt = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func testRuleset(t *testing.T) *ruleset.Ruleset {
	t.Helper()
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	rs, err := ruleset.New(ruleset.Document{
		Source:        "usda-aphis-ppq",
		Version:       "2026.1.0",
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:     &expires,
		Destinations: map[string]ruleset.Program{
			"US": {SmallLotProgram: true, SmallLotMaxSeeds: 50, BulkMinimumSeeds: 10000},
			"*":  {PhytosanitaryByDefault: true},
		},
		Taxa: []ruleset.TaxonRule{
			{Taxon: "Solanum lycopersicum", Destination: "US", RiskClass: domain.RiskMedium, SmallLotExcluded: true,
				ExclusionReason: "regulated pest host", PhytosanitaryRequired: true},
			{Taxon: "Capsicum", Destination: "US", RiskClass: domain.RiskLow, MaxSeeds: 50,
				AllowedUses: []domain.SeedUse{domain.UseResearch, domain.UseHobby}, PhytosanitaryRequired: true, PhytosanitaryOrigins: []string{"CN"}},
			{Taxon: "Oryza sativa", Destination: "*", RiskClass: domain.RiskHigh, ProhibitWhen: `lot.origin == "XX" || lot.quantity > 100000`},
			{Taxon: "Cannabis", Destination: "*", RiskClass: domain.RiskHigh, Prohibited: true},
		},
	})
	require.NoError(t, err)
	return rs
}

func biology(name, genus string) domain.SeedBiology {
	return domain.SeedBiology{Base: domain.Base{ID: "bio-1"}, LineageID: "lin-1", Version: 1, ScientificName: name, Genus: genus}
}

func lotFor(bio domain.SeedBiology, quantity int, use domain.SeedUse) domain.SeedLot {
	return domain.SeedLot{
		Base:           domain.Base{ID: "lot-1"},
		LotCode:        "KR-2026-001",
		Biology:        bio.Ref(),
		OriginCountry:  "KR",
		Use:            use,
		PedigreeStatus: domain.PedigreeNonPedigreed,
		Quantity:       quantity,
	}
}

func item(id string, aspect domain.Aspect, claims map[string]string) EvidenceItem {
	return EvidenceItem{
		Evidence: domain.Evidence{ID: id, Type: domain.EvidenceOfficialDocument, Aspect: aspect, Title: id,
			Claims: claims, Confidence: 0.9, Authoritative: true, Active: true},
		Role:   domain.RoleSupporting,
		Weight: 1,
	}
}

// fullEvidence covers every required aspect consistently with lot and bio.
func fullEvidence(bio domain.SeedBiology, lot domain.SeedLot) []EvidenceItem {
	return []EvidenceItem{
		item("ev-identity", domain.AspectBiologicalIdentity, map[string]string{"scientific_name": bio.ScientificName}),
		item("ev-pathogen", domain.AspectPathogenStatus, map[string]string{"pathogen_status": "free"}),
		item("ev-origin", domain.AspectOriginCountry, map[string]string{"country": lot.OriginCountry}),
		item("ev-use", domain.AspectIntendedUse, map[string]string{"use": string(lot.Use)}),
	}
}

func input(t *testing.T, bio domain.SeedBiology, lot domain.SeedLot, dest string, ev []EvidenceItem) Input {
	return Input{Lot: lot, Biology: bio, Destination: dest, Evidence: ev, Ruleset: testRuleset(t), Now: assessedAt}
}

func basisFor(d Decision, key string) (BasisEntry, bool) {
	for _, b := range d.Basis {
		if b.EvidenceID == key || b.CitationKey == key {
			return b, true
		}
	}
	return BasisEntry{}, false
}

func TestEvaluate_ExcludedTaxonNeedsCertificate(t *testing.T) {
	bio := biology("Solanum lycopersicum", "Solanum")
	lot := lotFor(bio, 20, domain.UseHobby)
	d, err := Evaluate(input(t, bio, lot, "us", fullEvidence(bio, lot)))
	require.NoError(t, err)

	assert.Equal(t, domain.PathPhytosanitary, d.Path)
	assert.GreaterOrEqual(t, d.RiskClass.Rank(), domain.RiskMedium.Rank())
	assert.False(t, d.InsufficientEvidence)
	assert.False(t, d.RequiresReview)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, "usda-aphis-ppq", d.RuleSource)
	assert.Equal(t, "2026.1.0", d.RulesetVersion)
	assert.Equal(t, assessedAt.Add(DefaultValidity), d.ValidUntil)

	exclusion, ok := basisFor(d, "rule:taxa[0]:Solanum lycopersicum/US#small_lot_excluded")
	require.True(t, ok, "exclusion clause missing from basis: %+v", d.Basis)
	assert.True(t, exclusion.Decisive)
	assert.Equal(t, domain.AspectLegalExclusion, exclusion.Aspect)

	identity, ok := basisFor(d, "ev-identity")
	require.True(t, ok)
	assert.False(t, identity.Decisive)

	var cited []string
	for _, c := range d.Citations {
		cited = append(cited, c.Clause.Reference())
	}
	assert.Contains(t, cited, "ruleset:usda-aphis-ppq@2026.1.0#taxa[0]:Solanum lycopersicum/US#small_lot_excluded")
	assert.Contains(t, d.Justification, "path: PHYTOSANITARY_REQUIRED")
	assert.Contains(t, d.Justification, "regulated pest host")
}

func TestEvaluate_SmallLotByGenus(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	lot := lotFor(bio, 20, domain.UseHobby)
	d, err := Evaluate(input(t, bio, lot, "US", fullEvidence(bio, lot)))
	require.NoError(t, err)
	assert.Equal(t, domain.PathSmallLot, d.Path)
	assert.Equal(t, domain.RiskLow, d.RiskClass)

	lot.Quantity = 80
	d, err = Evaluate(input(t, bio, lot, "US", fullEvidence(bio, lot)))
	require.NoError(t, err)
	assert.NotEqual(t, domain.PathSmallLot, d.Path)
	entry, ok := basisFor(d, "rule:taxa[1]:Capsicum/US#max_seeds")
	require.True(t, ok)
	assert.True(t, entry.Decisive)

	lot.Quantity = 20
	lot.Use = domain.UseCommercial
	d, err = Evaluate(input(t, bio, lot, "US", fullEvidence(bio, lot)))
	require.NoError(t, err)
	assert.NotEqual(t, domain.PathSmallLot, d.Path)
}

func TestEvaluate_MissingAspectsCapConfidence(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	lot := lotFor(bio, 20, domain.UseHobby)
	ev := fullEvidence(bio, lot)[:2]
	d, err := Evaluate(input(t, bio, lot, "US", ev))
	require.NoError(t, err)
	assert.True(t, d.InsufficientEvidence)
	assert.True(t, d.RequiresReview)
	assert.LessOrEqual(t, d.Confidence, 0.3)
	assert.GreaterOrEqual(t, d.Path.Rank(), domain.PathPhytosanitary.Rank())
	assert.Equal(t, []domain.Aspect{domain.AspectOriginCountry, domain.AspectIntendedUse}, d.MissingAspects)
}

func TestEvaluate_SmallLotEvaluation(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	lot := lotFor(bio, 20, domain.UseHobby)
	d, err := Evaluate(input(t, bio, lot, "US", fullEvidence(bio, lot)))
	require.NoError(t, err)
	require.NotNil(t, d.SmallLot)
	assert.Equal(t, SmallLotEvaluation{Eligible: true, MaxAllowedSeeds: 50, QuantityWithinLimit: true}, *d.SmallLot)

	record, ok := d.Compliance(lot, domain.RegulatoryAssessment{Base: domain.Base{ID: "as-1"}, DestinationCountry: "US"})
	require.True(t, ok)
	assert.Equal(t, "lot-1", record.SeedLotID)
	assert.Equal(t, "as-1", record.AssessmentID)
	assert.True(t, record.Eligible)
	assert.Equal(t, 20, record.PacketSeedCount)
	assert.Equal(t, 50, record.MaxAllowedSeedCount)
	assert.Equal(t, domain.RiskLow, record.RiskClass)
	assert.Equal(t, assessedAt, record.EvaluatedAt)
	assert.False(t, record.LabelVerified)

	lot.Quantity = 80
	d, err = Evaluate(input(t, bio, lot, "US", fullEvidence(bio, lot)))
	require.NoError(t, err)
	require.NotNil(t, d.SmallLot)
	assert.False(t, d.SmallLot.Eligible)
	assert.False(t, d.SmallLot.QuantityWithinLimit)
	assert.Contains(t, d.SmallLot.ExclusionReason, "exceeds the small-lot maximum of 50 seeds")

	tomato := biology("Solanum lycopersicum", "Solanum")
	lot = lotFor(tomato, 20, domain.UseHobby)
	d, err = Evaluate(input(t, tomato, lot, "US", fullEvidence(tomato, lot)))
	require.NoError(t, err)
	require.NotNil(t, d.SmallLot)
	assert.False(t, d.SmallLot.Eligible)
	assert.Contains(t, d.SmallLot.ExclusionReason, "regulated pest host")

	lot = lotFor(bio, 20, domain.UseHobby)
	d, err = Evaluate(input(t, bio, lot, "US", fullEvidence(bio, lot)[:2]))
	require.NoError(t, err)
	require.NotNil(t, d.SmallLot)
	assert.False(t, d.SmallLot.Eligible)
	assert.Equal(t, "evidence does not establish eligibility", d.SmallLot.ExclusionReason)

	d, err = Evaluate(input(t, bio, lot, "CA", fullEvidence(bio, lot)))
	require.NoError(t, err)
	assert.Nil(t, d.SmallLot, "destination without a small-lot program")
	_, ok = d.Compliance(lot, domain.RegulatoryAssessment{})
	assert.False(t, ok)
}

func TestEvaluate_UnknownTaxonIsConservative(t *testing.T) {
	bio := biology("Quercus robur", "Quercus")
	lot := lotFor(bio, 10, domain.UseResearch)
	d, err := Evaluate(input(t, bio, lot, "US", fullEvidence(bio, lot)))
	require.NoError(t, err)
	assert.True(t, d.UnknownTaxon)
	assert.Equal(t, domain.PathPhytosanitary, d.Path)
	assert.Equal(t, domain.RiskUnknown, d.RiskClass)
	assert.LessOrEqual(t, d.Confidence, 0.5)
	assert.True(t, d.RequiresReview)
	assert.Empty(t, d.Citations)
}

func TestEvaluate_PathogenDetectedRaisesRisk(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	lot := lotFor(bio, 20, domain.UseHobby)
	ev := fullEvidence(bio, lot)
	ev[1].Evidence.Claims = map[string]string{"pathogen_status": "DETECTED"}
	d, err := Evaluate(input(t, bio, lot, "US", ev))
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, d.RiskClass)
	assert.NotEqual(t, domain.PathSmallLot, d.Path)
}

func TestEvaluate_KnownPathogensWithoutClearance(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	bio.KnownPathogens = []string{"Tobamovirus"}
	lot := lotFor(bio, 20, domain.UseHobby)
	ev := fullEvidence(bio, lot)
	ev[1].Evidence.Claims = map[string]string{"pathogen_status": "tested"}
	d, err := Evaluate(input(t, bio, lot, "US", ev))
	require.NoError(t, err)
	assert.Equal(t, domain.RiskMedium, d.RiskClass)
}

func TestEvaluate_Prohibitions(t *testing.T) {
	rice := biology("Oryza sativa", "Oryza")
	lot := lotFor(rice, 200000, domain.UseCommercial)
	d, err := Evaluate(input(t, rice, lot, "JP", fullEvidence(rice, lot)))
	require.NoError(t, err)
	assert.Equal(t, domain.PathProhibited, d.Path)
	assert.Equal(t, domain.RiskHigh, d.RiskClass)

	lot.Quantity = 500
	d, err = Evaluate(input(t, rice, lot, "JP", fullEvidence(rice, lot)))
	require.NoError(t, err)
	assert.Equal(t, domain.PathPhytosanitary, d.Path, "wildcard program requires certification")

	hemp := biology("Cannabis sativa", "Cannabis")
	lot = lotFor(hemp, 10, domain.UseResearch)
	d, err = Evaluate(input(t, hemp, lot, "US", fullEvidence(hemp, lot)))
	require.NoError(t, err)
	assert.Equal(t, domain.PathProhibited, d.Path)
}

func TestEvaluate_ContradictionsAndInactiveEvidence(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	lot := lotFor(bio, 20, domain.UseHobby)
	ev := fullEvidence(bio, lot)
	ev[2].Evidence.Claims = map[string]string{"country": "CN"}
	d, err := Evaluate(input(t, bio, lot, "US", ev))
	require.NoError(t, err)
	assert.Contains(t, d.MissingAspects, domain.AspectOriginCountry)
	entry, ok := basisFor(d, "ev-origin")
	require.True(t, ok)
	assert.Contains(t, entry.Explanation, "CN")

	ev = fullEvidence(bio, lot)
	retired := ev[3]
	retired.Evidence.Active = false
	ev[3] = retired
	d, err = Evaluate(input(t, bio, lot, "US", ev))
	require.NoError(t, err)
	assert.Contains(t, d.MissingAspects, domain.AspectIntendedUse)

	ev = fullEvidence(bio, lot)
	contra := item("ev-contra", domain.AspectBiologicalIdentity, nil)
	contra.Role = domain.RoleContradictory
	contra.Evidence.Active = false
	ev = append(ev, contra)
	d, err = Evaluate(input(t, bio, lot, "US", ev))
	require.NoError(t, err)
	assert.Less(t, d.Confidence, 0.9)
	_, ok = basisFor(d, "ev-contra")
	assert.True(t, ok)
}

func TestEvaluate_NonAuthoritativeEvidenceLowersConfidence(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	lot := lotFor(bio, 20, domain.UseHobby)
	ev := fullEvidence(bio, lot)
	for i := range ev {
		ev[i].Evidence.Authoritative = false
		ev[i].Evidence.Confidence = 0.8
	}
	d, err := Evaluate(input(t, bio, lot, "US", ev))
	require.NoError(t, err)
	assert.Equal(t, 0.64, d.Confidence)
	assert.True(t, d.RequiresReview)
	assert.True(t, strings.Contains(d.Justification, "human review required"))
}

func TestEvaluate_InputErrors(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	lot := lotFor(bio, 20, domain.UseHobby)
	_, err := Evaluate(Input{Lot: lot, Biology: bio, Destination: "US"})
	assert.ErrorIs(t, err, ErrNoRuleset)
	_, err = Evaluate(input(t, bio, lot, " ", nil))
	var verrs domain.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestDecision_Assessment(t *testing.T) {
	bio := biology("Capsicum annuum", "Capsicum")
	lot := lotFor(bio, 20, domain.UseHobby)
	d, err := Evaluate(input(t, bio, lot, "us", fullEvidence(bio, lot)))
	require.NoError(t, err)
	a := d.Assessment(lot, "us")
	assert.Equal(t, "US", a.DestinationCountry)
	assert.Equal(t, "lot-1", a.SeedLotID)
	assert.Equal(t, "bio-1", a.BiologyID)
	assert.Equal(t, domain.AssessmentCompleted, a.Status)
	assert.True(t, a.Reliable(assessedAt))
}
