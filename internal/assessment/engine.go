// Package assessment implements the regulatory decision engine. Evaluate is a
// pure function of its Input: the caller resolves evidence and the ruleset
// beforehand and persists the Decision afterwards.
package assessment

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"seedlot/internal/ledger"
	"seedlot/internal/ruleset"
	"seedlot/pkg/domain"
)

const (
	// DefaultReviewThreshold is the confidence below which a decision must be
	// reviewed by a person before shipments may rely on it.
	DefaultReviewThreshold = 0.7
	// DefaultValidity is how long a decision stays valid.
	DefaultValidity = 90 * 24 * time.Hour

	insufficientConfidenceCap = 0.3
	unknownTaxonConfidenceCap = 0.5
	nonAuthoritativeFactor    = 0.8
	contradictionDamping      = 0.5
)

// EvidenceItem is one resolved evidence item with the link through which it
// reached the lot.
type EvidenceItem struct {
	Evidence domain.Evidence
	Role     domain.LinkRole
	Weight   float64
}

// Input carries everything a decision depends on.
type Input struct {
	Lot             domain.SeedLot
	Biology         domain.SeedBiology
	Destination     string
	Evidence        []EvidenceItem
	Ruleset         *ruleset.Ruleset
	Now             time.Time
	ReviewThreshold float64
	Validity        time.Duration
}

// Citation is a ruleset clause that shaped the decision.
type Citation struct {
	Key    string
	Aspect domain.Aspect
	Clause ledger.RuleClause
}

// BasisEntry explains how one evidence item or ruleset clause bore on the
// decision. Exactly one of EvidenceID and CitationKey is set.
type BasisEntry struct {
	EvidenceID  string
	CitationKey string
	Aspect      domain.Aspect
	Decisive    bool
	Explanation string
}

// Decision is the engine output for one (lot, destination) pair.
type Decision struct {
	Path                 domain.RegulatoryPath
	RiskClass            domain.RiskClass
	Confidence           float64
	RequiresReview       bool
	InsufficientEvidence bool
	UnknownTaxon         bool
	MissingAspects       []domain.Aspect
	Justification        string
	RuleSource           string
	RulesetVersion       string
	ValidFrom            time.Time
	ValidUntil           time.Time
	Basis                []BasisEntry
	Citations            []Citation
	// SmallLot is set when the taxon is known and the destination runs a
	// small-lot permit program.
	SmallLot             *SmallLotEvaluation
}

// SmallLotEvaluation is the small-lot permit check behind a decision.
type SmallLotEvaluation struct {
	Eligible            bool
	ExclusionReason     string
	MaxAllowedSeeds     int
	QuantityWithinLimit bool
}

// Compliance renders the small-lot evaluation of d as an unsaved PPQ-587
// record for the given assessment. ok is false when d has no evaluation.
func (d Decision) Compliance(lot domain.SeedLot, assessment domain.RegulatoryAssessment) (domain.PPQ587Compliance, bool) {
	if d.SmallLot == nil {
		return domain.PPQ587Compliance{}, false
	}
	return domain.PPQ587Compliance{
		SeedLotID:            lot.ID,
		AssessmentID:         assessment.ID,
		DestinationCountry:   assessment.DestinationCountry,
		Eligible:             d.SmallLot.Eligible,
		ExclusionReason:      d.SmallLot.ExclusionReason,
		SeedUse:              lot.Use,
		NonPedigreedDeclared: lot.NonPedigreedDeclared,
		PacketSeedCount:      lot.Quantity,
		MaxAllowedSeedCount:  d.SmallLot.MaxAllowedSeeds,
		QuantityWithinLimit:  d.SmallLot.QuantityWithinLimit,
		RiskClass:            d.RiskClass,
		EvaluatedAt:          d.ValidFrom,
		EvaluatedBy:          string(domain.LinkedBySystem),
	}, true
}

// Assessment renders d as an unsaved assessment record.
func (d Decision) Assessment(lot domain.SeedLot, destination string) domain.RegulatoryAssessment {
	return domain.RegulatoryAssessment{
		SeedLotID:            lot.ID,
		DestinationCountry:   normalizeDestination(destination),
		BiologyID:            lot.Biology.ID,
		Path:                 d.Path,
		RiskClass:            d.RiskClass,
		Justification:        d.Justification,
		RuleSource:           d.RuleSource,
		RulesetVersion:       d.RulesetVersion,
		Confidence:           d.Confidence,
		RequiresReview:       d.RequiresReview,
		InsufficientEvidence: d.InsufficientEvidence,
		MissingAspects:       append([]domain.Aspect(nil), d.MissingAspects...),
		Status:               domain.AssessmentCompleted,
		ValidFrom:            d.ValidFrom,
		ValidUntil:           d.ValidUntil,
	}
}

// ErrNoRuleset is returned when Input.Ruleset is nil.
var ErrNoRuleset = errors.New("assessment requires a ruleset")

// Evaluate computes the decision for in. Identical inputs, in any evidence
// order, produce identical decisions.
func Evaluate(in Input) (Decision, error) {
	if in.Ruleset == nil {
		return Decision{}, ErrNoRuleset
	}
	if strings.TrimSpace(in.Destination) == "" {
		return Decision{}, domain.ValidationErrors{{Field: "destination_country", Message: "is required"}}
	}
	in = normalizeInput(in)

	base, err := decide(in, nil)
	if err != nil {
		return Decision{}, err
	}
	basis := make([]BasisEntry, 0, len(base.contributors))
	for _, c := range base.contributors {
		alt, err := decide(in, map[string]bool{c.key: true})
		if err != nil {
			return Decision{}, err
		}
		entry := BasisEntry{
			Aspect:      c.aspect,
			Decisive:    alt.path != base.path || alt.risk != base.risk,
			Explanation: c.explanation,
		}
		if c.citation {
			entry.CitationKey = c.key
		} else {
			entry.EvidenceID = c.key
		}
		basis = append(basis, entry)
	}
	sort.SliceStable(basis, func(i, j int) bool {
		if basis[i].Aspect != basis[j].Aspect {
			return basis[i].Aspect < basis[j].Aspect
		}
		return basis[i].EvidenceID+basis[i].CitationKey < basis[j].EvidenceID+basis[j].CitationKey
	})

	requiresReview := base.insufficient || base.unknownTaxon || base.confidence < in.ReviewThreshold
	return Decision{
		Path:                 base.path,
		RiskClass:            base.risk,
		Confidence:           base.confidence,
		RequiresReview:       requiresReview,
		InsufficientEvidence: base.insufficient,
		UnknownTaxon:         base.unknownTaxon,
		MissingAspects:       base.missing,
		Justification:        justify(in, base, requiresReview),
		RuleSource:           in.Ruleset.Source(),
		RulesetVersion:       in.Ruleset.Version(),
		ValidFrom:            in.Now,
		ValidUntil:           in.Now.Add(in.Validity),
		Basis:                basis,
		Citations:            base.citations,
		SmallLot:             base.smallLot,
	}, nil
}

func normalizeInput(in Input) Input {
	in.Destination = normalizeDestination(in.Destination)
	if in.ReviewThreshold <= 0 {
		in.ReviewThreshold = DefaultReviewThreshold
	}
	if in.Validity <= 0 {
		in.Validity = DefaultValidity
	}
	items := append([]EvidenceItem(nil), in.Evidence...)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Evidence.ID != items[j].Evidence.ID {
			return items[i].Evidence.ID < items[j].Evidence.ID
		}
		return items[i].Role < items[j].Role
	})
	in.Evidence = items
	return in
}

func normalizeDestination(d string) string { return strings.ToUpper(strings.TrimSpace(d)) }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func justify(in Input, o outcome, requiresReview bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", o.path)
	fmt.Fprintf(&b, "risk class: %s\n", o.risk)
	fmt.Fprintf(&b, "confidence: %.4f\n", o.confidence)
	fmt.Fprintf(&b, "ruleset: %s@%s\n", in.Ruleset.Source(), in.Ruleset.Version())
	fmt.Fprintf(&b, "taxon: %s -> %s\n", in.Biology.ScientificName, in.Destination)
	if requiresReview {
		b.WriteString("human review required\n")
	}
	reasons := append([]string(nil), o.reasons...)
	sort.Strings(reasons)
	last := ""
	for _, r := range reasons {
		if r == last {
			continue
		}
		last = r
		b.WriteString("- ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
