package core

import (
	"context"
	"strings"

	"seedlot/internal/lifecycle"
	"seedlot/pkg/domain"
)

// LabelVerification is an inspector's confirmation that a small-lot packet
// carries its import permit label.
type LabelVerification struct {
	PermitNumber string
	VerifiedBy   string
	Notes        string
}

func createCompliance(tx Transaction, c domain.PPQ587Compliance) (domain.PPQ587Compliance, error) {
	normalized, err := domain.ValidatePPQ587Compliance(c)
	if err != nil {
		return domain.PPQ587Compliance{}, err
	}
	return tx.CreatePPQCompliance(normalized)
}

// carryCompliance moves the permit and label state of prev onto the
// assessment that overrode it. Eligibility follows the reviewer's path.
func carryCompliance(prev domain.PPQ587Compliance, overriding domain.RegulatoryAssessment, override Override) domain.PPQ587Compliance {
	next := prev
	next.Base = domain.Base{}
	next.AssessmentID = overriding.ID
	next.RiskClass = overriding.RiskClass
	next.Eligible = overriding.Path == domain.PathSmallLot
	next.ExclusionReason = ""
	if !next.Eligible {
		next.ExclusionReason = "reviewer selected " + string(overriding.Path)
		next.LabelVerified = false
		next.LabelVerifiedAt = nil
		next.LabelVerifiedBy = ""
	}
	next.EvaluatedAt = overriding.ValidFrom
	next.EvaluatedBy = override.ReviewedBy
	next.AuditNotes = override.Reason
	return next
}

// VerifyPPQLabel records the permit number and label check on a PPQ-587
// record. Only eligible records of an authoritative assessment can be verified.
func (s *Service) VerifyPPQLabel(ctx context.Context, complianceID string, v LabelVerification) (domain.PPQ587Compliance, Result, error) {
	var updated domain.PPQ587Compliance
	var res Result
	err := s.run(ctx, "verify_ppq_label", func(ctx context.Context) (string, error) {
		v.PermitNumber = strings.TrimSpace(v.PermitNumber)
		v.VerifiedBy = strings.TrimSpace(v.VerifiedBy)
		var problems domain.ValidationErrors
		if v.PermitNumber == "" {
			problems = append(problems, domain.ValidationError{Field: "permit_number", Message: "is required"})
		}
		if v.VerifiedBy == "" {
			problems = append(problems, domain.ValidationError{Field: "verified_by", Message: "is required"})
		}
		if len(problems) > 0 {
			return complianceID, problems
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			current, ok := view.FindPPQCompliance(complianceID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityPPQCompliance, ID: complianceID}
			}
			if a, ok := view.FindAssessment(current.AssessmentID); !ok || !a.Authoritative() {
				return domain.ValidationErrors{{Field: "compliance_id", Message: "record belongs to an archived assessment"}}
			}
			if !current.Eligible {
				return domain.ValidationErrors{{Field: "compliance_id", Message: "lot is not eligible for the small-lot program: " + current.ExclusionReason}}
			}
			now := tx.Now()
			var err error
			updated, err = tx.UpdatePPQCompliance(complianceID, func(c *domain.PPQ587Compliance) error {
				c.PermitNumber = v.PermitNumber
				c.LabelVerified = true
				c.LabelVerifiedAt = &now
				c.LabelVerifiedBy = v.VerifiedBy
				if v.Notes != "" {
					c.AuditNotes = strings.TrimSpace(strings.TrimSpace(c.AuditNotes) + "\n" + strings.TrimSpace(v.Notes))
				}
				normalized, err := domain.ValidatePPQ587Compliance(*c)
				if err != nil {
					return err
				}
				*c = normalized
				return nil
			})
			return err
		})
		return complianceID, err
	})
	return updated, res, err
}

// PPQCompliance returns the PPQ-587 record of the authoritative assessment for
// (seedLotID, destination).
func (s *Service) PPQCompliance(ctx context.Context, seedLotID, destination string) (domain.PPQ587Compliance, error) {
	var out domain.PPQ587Compliance
	err := s.run(ctx, "ppq_compliance", func(ctx context.Context) (string, error) {
		return seedLotID, s.store.View(ctx, func(view TransactionView) error {
			a, ok := lifecycle.Authoritative(view, seedLotID, destination)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityAssessment, ID: domain.AssessmentKey(seedLotID, destination)}
			}
			c, ok := lifecycle.ComplianceFor(view, a)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityPPQCompliance, ID: a.ID}
			}
			out = c
			return nil
		})
	})
	return out, err
}
