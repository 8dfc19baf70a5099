package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"seedlot/internal/assessment"
	"seedlot/internal/ledger"
	"seedlot/internal/lifecycle"
	"seedlot/internal/ruleset"
	"seedlot/pkg/domain"
)

// AssessmentOutcome is a stored assessment with the basis rows written for it.
type AssessmentOutcome struct {
	Assessment domain.RegulatoryAssessment
	Basis      []domain.DecisionBasis
	// Superseded names the assessments archived by this one.
	Superseded []string
	// Compliance is the PPQ-587 record written for destinations that run a
	// small-lot program.
	Compliance *domain.PPQ587Compliance
}

// Override is a reviewer's replacement decision. Empty Path or RiskClass keep
// the prior value.
type Override struct {
	Path       domain.RegulatoryPath
	RiskClass  domain.RiskClass
	Reason     string
	ReviewedBy string
}

// Assess evaluates a seed lot for a destination against the configured
// ruleset and stores the result as the new authoritative assessment.
// Assessments of the same (lot, destination) pair are serialized; every
// previous authoritative assessment for the pair is archived in the same
// transaction.
func (s *Service) Assess(ctx context.Context, seedLotID, destination string) (AssessmentOutcome, error) {
	var out AssessmentOutcome
	err := s.run(ctx, "assess", func(ctx context.Context) (string, error) {
		destination = strings.ToUpper(strings.TrimSpace(destination))
		release, err := s.locker.Lock(ctx, "assessment:"+domain.AssessmentKey(seedLotID, destination))
		if err != nil {
			return seedLotID, err
		}
		defer release()

		now := s.now()
		rs, err := ruleset.Acquire(ctx, s.opts.rulesets, s.opts.rulesetVersion, now)
		if err != nil {
			return seedLotID, err
		}
		// Inputs are read and evaluated inside the committing transaction so a
		// concurrent lot edit or supersession cannot leave a stale decision
		// authoritative.
		_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			in, err := assessmentInput(tx.Snapshot(), seedLotID)
			if err != nil {
				return err
			}
			in.Destination = destination
			in.Ruleset = rs
			in.Now = now
			in.ReviewThreshold = s.opts.reviewThreshold
			in.Validity = s.opts.validity
			decision, err := assessment.Evaluate(in)
			if err != nil {
				return err
			}
			citations := make(map[string]string, len(decision.Citations))
			for _, c := range decision.Citations {
				ev, err := ledger.EnsureRuleEvidence(tx, c.Clause)
				if err != nil {
					return err
				}
				citations[c.Key] = ev.ID
			}
			record := decision.Assessment(in.Lot, destination)
			created, superseded, err := s.replaceAuthoritative(tx, record)
			if err != nil {
				return err
			}
			rows := make([]domain.DecisionBasis, 0, len(decision.Basis))
			for _, entry := range decision.Basis {
				evidenceID := entry.EvidenceID
				if entry.CitationKey != "" {
					evidenceID = citations[entry.CitationKey]
				}
				row, err := tx.CreateDecisionBasis(domain.DecisionBasis{
					AssessmentID: created.ID,
					EvidenceID:   evidenceID,
					Aspect:       entry.Aspect,
					Decisive:     entry.Decisive,
					Explanation:  entry.Explanation,
				})
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
			if err := cacheDecision(tx, seedLotID, created); err != nil {
				return err
			}
			out = AssessmentOutcome{Assessment: created, Basis: rows, Superseded: superseded}
			if draft, ok := decision.Compliance(in.Lot, created); ok {
				record, err := createCompliance(tx, draft)
				if err != nil {
					return err
				}
				out.Compliance = &record
			}
			return nil
		})
		if err != nil {
			return seedLotID, err
		}
		if rec, ok := s.metrics.(DecisionRecorder); ok {
			rec.ObserveAssessment(ctx, out.Assessment.Path, out.Assessment.RiskClass)
		}
		if out.Assessment.RequiresReview {
			s.logger.Info("assessment queued for review", "assessment_id", out.Assessment.ID, "seed_lot_id", seedLotID, "destination", destination, "confidence", out.Assessment.Confidence)
		}
		return out.Assessment.ID, nil
	})
	return out, err
}

// assessmentInput gathers the lot, its biology version and the active
// evidence linked to either of them.
func assessmentInput(view TransactionView, seedLotID string) (assessment.Input, error) {
	lot, ok := view.FindSeedLot(seedLotID)
	if !ok {
		return assessment.Input{}, domain.NotFoundError{Entity: domain.EntitySeedLot, ID: seedLotID}
	}
	biology, ok := view.FindSeedBiology(lot.Biology.ID)
	if !ok {
		return assessment.Input{}, domain.NotFoundError{Entity: domain.EntitySeedBiology, ID: lot.Biology.ID}
	}
	fromLot, err := ledger.ResolveActive(view, domain.EntitySeedLot, lot.ID, nil)
	if err != nil {
		return assessment.Input{}, err
	}
	fromBiology, err := ledger.ResolveActive(view, domain.EntitySeedBiology, biology.ID, nil)
	if err != nil {
		return assessment.Input{}, err
	}
	type stance struct {
		evidenceID    string
		contradictory bool
	}
	merged := make(map[stance]assessment.EvidenceItem)
	for _, r := range append(fromLot, fromBiology...) {
		k := stance{evidenceID: r.Evidence.ID, contradictory: r.Link.Role == domain.RoleContradictory}
		if prev, ok := merged[k]; ok && prev.Weight >= r.Link.Weight {
			continue
		}
		merged[k] = assessment.EvidenceItem{Evidence: r.Evidence, Role: r.Link.Role, Weight: r.Link.Weight}
	}
	items := make([]assessment.EvidenceItem, 0, len(merged))
	for _, item := range merged {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Evidence.ID != items[j].Evidence.ID {
			return items[i].Evidence.ID < items[j].Evidence.ID
		}
		return items[i].Role < items[j].Role
	})
	return assessment.Input{Lot: lot, Biology: biology, Evidence: items}, nil
}

// replaceAuthoritative stores record and archives every other authoritative
// assessment of the same pair.
func (s *Service) replaceAuthoritative(tx Transaction, record domain.RegulatoryAssessment) (domain.RegulatoryAssessment, []string, error) {
	key := domain.AssessmentKey(record.SeedLotID, record.DestinationCountry)
	var prior []domain.RegulatoryAssessment
	for _, a := range tx.Snapshot().ListAssessments() {
		if a.Authoritative() && domain.AssessmentKey(a.SeedLotID, a.DestinationCountry) == key {
			prior = append(prior, a)
		}
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].CreatedAt.After(prior[j].CreatedAt) })
	if record.SupersedesAssessmentID == "" && len(prior) > 0 {
		record.SupersedesAssessmentID = prior[0].ID
	}
	created, err := tx.CreateAssessment(record)
	if err != nil {
		return domain.RegulatoryAssessment{}, nil, err
	}
	superseded := make([]string, 0, len(prior))
	for _, p := range prior {
		if _, err := tx.UpdateAssessment(p.ID, func(a *domain.RegulatoryAssessment) error {
			at := tx.Now()
			a.ArchivedAt = &at
			a.ArchiveReason = "superseded by " + created.ID
			return nil
		}); err != nil {
			return domain.RegulatoryAssessment{}, nil, err
		}
		superseded = append(superseded, p.ID)
	}
	return created, superseded, nil
}

func cacheDecision(tx Transaction, seedLotID string, a domain.RegulatoryAssessment) error {
	_, err := tx.UpdateSeedLot(seedLotID, func(lot *domain.SeedLot) error {
		lot.CachedPath = a.Path
		lot.CachedRiskClass = a.RiskClass
		return nil
	})
	return err
}

// OverrideAssessment replaces an authoritative assessment with a reviewer's
// decision. The automated output is preserved as AUTOMATED_ASSESSMENT
// evidence, the reviewer's note is recorded as HUMAN_NOTE evidence and cited
// as the decisive basis of the new assessment. Assessments invalidated by a
// seed lot change must be re-run before they can be overridden.
func (s *Service) OverrideAssessment(ctx context.Context, assessmentID string, override Override) (AssessmentOutcome, error) {
	var out AssessmentOutcome
	err := s.run(ctx, "override_assessment", func(ctx context.Context) (string, error) {
		override.Reason = strings.TrimSpace(override.Reason)
		override.ReviewedBy = strings.TrimSpace(override.ReviewedBy)
		if err := validateOverride(override); err != nil {
			return assessmentID, err
		}
		var key string
		if err := s.store.View(ctx, func(view TransactionView) error {
			a, ok := view.FindAssessment(assessmentID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityAssessment, ID: assessmentID}
			}
			key = domain.AssessmentKey(a.SeedLotID, a.DestinationCountry)
			return nil
		}); err != nil {
			return assessmentID, err
		}
		release, err := s.locker.Lock(ctx, "assessment:"+key)
		if err != nil {
			return assessmentID, err
		}
		defer release()

		_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			prior, ok := tx.Snapshot().FindAssessment(assessmentID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityAssessment, ID: assessmentID}
			}
			if !prior.Authoritative() {
				return domain.ValidationErrors{{Field: "assessment_id", Message: "archived assessments cannot be overridden"}}
			}
			if prior.Status == domain.AssessmentPendingReevaluation {
				return domain.ValidationErrors{{Field: "assessment_id", Message: "the seed lot changed after this assessment; assess it again before overriding"}}
			}
			snapshot, _, err := ledger.AppendOrReuse(tx, automatedSnapshot(prior))
			if err != nil {
				return err
			}
			path := override.Path
			if path == "" {
				path = prior.Path
			}
			risk := override.RiskClass
			if risk == "" {
				risk = prior.RiskClass
			}
			note, _, err := ledger.AppendOrReuse(tx, domain.Evidence{
				Type:          domain.EvidenceHumanNote,
				Aspect:        domain.AspectPermitEligibility,
				Title:         "Assessment override by " + override.ReviewedBy,
				Summary:       override.Reason,
				Claims:        map[string]string{"path": string(path), "risk_class": string(risk), "overrides": prior.ID},
				Confidence:    1,
				Authoritative: true,
				RecordedBy:    override.ReviewedBy,
			})
			if err != nil {
				return err
			}

			now := tx.Now()
			record := prior
			record.Base = domain.Base{}
			record.Path = path
			record.RiskClass = risk
			record.HumanReviewed = true
			record.ReviewedBy = override.ReviewedBy
			record.OverrideReason = override.Reason
			record.SupersedesAssessmentID = prior.ID
			record.Status = domain.AssessmentCompleted
			record.MissingAspects = append([]domain.Aspect(nil), prior.MissingAspects...)
			record.Justification = fmt.Sprintf("Overridden by %s: %s. Automated decision was %s/%s.", override.ReviewedBy, override.Reason, prior.Path, prior.RiskClass)
			record.ValidFrom = now
			record.ValidUntil = now.Add(s.opts.validity)
			record.ArchivedAt = nil
			record.ArchiveReason = ""
			record.InvalidatedAt = nil
			record.InvalidationReason = ""
			created, superseded, err := s.replaceAuthoritative(tx, record)
			if err != nil {
				return err
			}

			rows := make([]domain.DecisionBasis, 0, 3)
			for _, b := range []domain.DecisionBasis{
				{EvidenceID: note.ID, Aspect: domain.AspectPermitEligibility, Decisive: true, Explanation: "reviewer selected " + string(path)},
				{EvidenceID: note.ID, Aspect: domain.AspectRiskClassification, Decisive: true, Explanation: "reviewer selected " + string(risk)},
				{EvidenceID: snapshot.ID, Aspect: domain.AspectPermitEligibility, Explanation: "automated decision under review"},
			} {
				b.AssessmentID = created.ID
				row, err := tx.CreateDecisionBasis(b)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
			for _, evidenceID := range []string{note.ID, snapshot.ID} {
				if _, err := ledger.Link(tx, domain.EvidenceLink{
					EvidenceID: evidenceID,
					EntityType: domain.EntityAssessment,
					EntityID:   created.ID,
					Role:       domain.RoleReference,
					Weight:     1,
					LinkedBy:   domain.LinkedByHuman,
				}); err != nil {
					return err
				}
			}
			if err := cacheDecision(tx, created.SeedLotID, created); err != nil {
				return err
			}
			out = AssessmentOutcome{Assessment: created, Basis: rows, Superseded: superseded}
			if prev, ok := lifecycle.ComplianceFor(tx.Snapshot(), prior); ok {
				carried := carryCompliance(prev, created, override)
				record, err := createCompliance(tx, carried)
				if err != nil {
					return err
				}
				out.Compliance = &record
			}
			return nil
		})
		if err != nil {
			return assessmentID, err
		}
		if rec, ok := s.metrics.(DecisionRecorder); ok {
			rec.ObserveAssessment(ctx, out.Assessment.Path, out.Assessment.RiskClass)
		}
		return out.Assessment.ID, nil
	})
	return out, err
}

func validateOverride(o Override) error {
	var errs domain.ValidationErrors
	if o.Reason == "" {
		errs = append(errs, domain.ValidationError{Field: "reason", Message: "is required"})
	}
	if o.ReviewedBy == "" {
		errs = append(errs, domain.ValidationError{Field: "reviewed_by", Message: "is required"})
	}
	if o.Path != "" && !o.Path.Valid() {
		errs = append(errs, domain.ValidationError{Field: "regulatory_path", Message: fmt.Sprintf("unknown regulatory path %q", o.Path)})
	}
	if o.RiskClass != "" && !o.RiskClass.Valid() {
		errs = append(errs, domain.ValidationError{Field: "risk_class", Message: fmt.Sprintf("unknown risk class %q", o.RiskClass)})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func automatedSnapshot(a domain.RegulatoryAssessment) domain.Evidence {
	return domain.Evidence{
		Type:            domain.EvidenceAutomatedAssessment,
		Aspect:          domain.AspectPermitEligibility,
		Title:           "Automated assessment " + a.ID,
		Summary:         a.Justification,
		SourceReference: "assessment:" + a.ID,
		Claims: map[string]string{
			"assessment_id":   a.ID,
			"path":            string(a.Path),
			"risk_class":      string(a.RiskClass),
			"confidence":      strconv.FormatFloat(a.Confidence, 'f', 4, 64),
			"ruleset_version": a.RulesetVersion,
		},
		Confidence: a.Confidence,
		RecordedBy: "assessment-engine",
	}
}

// PendingReview lists authoritative assessments that need a reviewer, oldest
// first.
func (s *Service) PendingReview(ctx context.Context) ([]domain.RegulatoryAssessment, error) {
	var out []domain.RegulatoryAssessment
	err := s.run(ctx, "pending_review", func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view TransactionView) error {
			for _, a := range view.ListAssessments() {
				if a.Authoritative() && a.RequiresReview && !a.HumanReviewed {
					out = append(out, a)
				}
			}
			sortAssessments(out)
			return nil
		})
	})
	return out, err
}

// AuthoritativeAssessment returns the live assessment for a pair.
func (s *Service) AuthoritativeAssessment(ctx context.Context, seedLotID, destination string) (domain.RegulatoryAssessment, error) {
	var out domain.RegulatoryAssessment
	err := s.run(ctx, "authoritative_assessment", func(ctx context.Context) (string, error) {
		err := s.store.View(ctx, func(view TransactionView) error {
			a, ok := lifecycle.Authoritative(view, seedLotID, destination)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityAssessment, ID: domain.AssessmentKey(seedLotID, destination)}
			}
			out = a
			return nil
		})
		return out.ID, err
	})
	return out, err
}

// ListAssessments returns the full assessment history of a lot, archived
// records included, oldest first. An empty destination selects every
// destination.
func (s *Service) ListAssessments(ctx context.Context, seedLotID, destination string) ([]domain.RegulatoryAssessment, error) {
	var out []domain.RegulatoryAssessment
	destination = strings.ToUpper(strings.TrimSpace(destination))
	err := s.run(ctx, "list_assessments", func(ctx context.Context) (string, error) {
		return seedLotID, s.store.View(ctx, func(view TransactionView) error {
			for _, a := range view.ListAssessments() {
				if a.SeedLotID != seedLotID {
					continue
				}
				if destination != "" && a.DestinationCountry != destination {
					continue
				}
				out = append(out, a)
			}
			sortAssessments(out)
			return nil
		})
	})
	return out, err
}

// AssessmentBasis returns the decision basis rows of an assessment.
func (s *Service) AssessmentBasis(ctx context.Context, assessmentID string) ([]domain.DecisionBasis, error) {
	var out []domain.DecisionBasis
	err := s.run(ctx, "assessment_basis", func(ctx context.Context) (string, error) {
		return assessmentID, s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindAssessment(assessmentID); !ok {
				return domain.NotFoundError{Entity: domain.EntityAssessment, ID: assessmentID}
			}
			out = view.ListDecisionBasis(assessmentID)
			return nil
		})
	})
	return out, err
}

func sortAssessments(list []domain.RegulatoryAssessment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
