package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"seedlot/internal/core"
	"seedlot/pkg/domain"
)

const maxBodyBytes = 1 << 20

type assessRequest struct {
	DestinationCountry string `json:"destination_country"`
}

type overrideRequest struct {
	Path       domain.RegulatoryPath `json:"path,omitempty"`
	RiskClass  domain.RiskClass      `json:"risk_class,omitempty"`
	Reason     string                `json:"reason"`
	ReviewedBy string                `json:"reviewed_by"`
}

func (r overrideRequest) toOverride() core.Override {
	return core.Override{Path: r.Path, RiskClass: r.RiskClass, Reason: r.Reason, ReviewedBy: r.ReviewedBy}
}

type transitionRequest struct {
	Status domain.ShipmentStatus `json:"status"`
	Reason string                `json:"reason,omitempty"`
}

type evidenceRequest struct {
	Evidence   domain.Evidence       `json:"evidence"`
	Links      []domain.EvidenceLink `json:"links,omitempty"`
	Correction bool                  `json:"correction,omitempty"`
}

func (r evidenceRequest) toRecord() core.EvidenceRecord {
	return core.EvidenceRecord{Evidence: r.Evidence, Links: r.Links, Correction: r.Correction}
}

type assessmentResponse struct {
	Assessment domain.RegulatoryAssessment `json:"assessment"`
	Basis      []domain.DecisionBasis      `json:"basis"`
	Superseded []string                    `json:"superseded,omitempty"`
	Compliance *domain.PPQ587Compliance    `json:"ppq_compliance,omitempty"`
}

func fromOutcome(out core.AssessmentOutcome) assessmentResponse {
	return assessmentResponse{Assessment: out.Assessment, Basis: out.Basis, Superseded: out.Superseded, Compliance: out.Compliance}
}

type labelRequest struct {
	PermitNumber string `json:"permit_number"`
	VerifiedBy   string `json:"verified_by"`
	Notes        string `json:"notes,omitempty"`
}

func (r labelRequest) toVerification() core.LabelVerification {
	return core.LabelVerification{PermitNumber: r.PermitNumber, VerifiedBy: r.VerifiedBy, Notes: r.Notes}
}

type bindingResponse struct {
	ShipmentID string                    `json:"shipment_id"`
	Valid      bool                      `json:"valid"`
	Violations []domain.BindingViolation `json:"violations"`
}

// decode reads a JSON body into T, rejecting unknown fields and trailing data.
func decode[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, badRequestError{msg: fmt.Sprintf("invalid request body: %v", err)}
	}
	if dec.More() {
		return v, badRequestError{msg: "invalid request body: trailing data"}
	}
	return v, nil
}
