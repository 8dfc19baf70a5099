package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	blobcore "seedlot/internal/blob/core"
	"seedlot/internal/lifecycle"
	"seedlot/pkg/domain"
)

// Error codes returned in the "error" field of failed responses.
const (
	CodeBadRequest           = "bad_request"
	CodeValidationFailed     = "validation_failed"
	CodeNotFound             = "not_found"
	CodeBindingViolation     = "binding_violation"
	CodeRuleViolation        = "rule_violation"
	CodeSupersessionConflict = "supersession_conflict"
	CodeDuplicateContent     = "duplicate_content"
	CodeInactiveEvidence     = "inactive_evidence"
	CodeInvalidTransition    = "invalid_transition"
	CodeRulesetUnavailable   = "ruleset_unavailable"
	CodeUnsupported          = "unsupported"
	CodeInternal             = "internal_error"
)

type errorResponse struct {
	Error       string                    `json:"error"`
	Description string                    `json:"error_description,omitempty"`
	Fields      []domain.ValidationError  `json:"fields,omitempty"`
	Violations  []domain.BindingViolation `json:"violations,omitempty"`
	Rules       []domain.Violation        `json:"rules,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps service errors onto status codes. Internal errors never
// expose their message.
func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	var (
		validation domain.ValidationErrors
		bindingErr domain.BindingViolationError
		rule       domain.RuleViolationError
		expired    domain.RulesetExpiredError
		conflict   domain.SupersessionConflictError
		hash       domain.ContentHashConflictError
		inactive   domain.InactiveEvidenceError
		transition lifecycle.TransitionError
		frozen     lifecycle.BindingFrozenError
		bad        badRequestError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, errorResponse{Error: CodeBadRequest, Description: bad.msg}
	case errors.As(err, &validation):
		return http.StatusBadRequest, errorResponse{Error: CodeValidationFailed, Description: err.Error(), Fields: validation}
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, blobcore.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: CodeNotFound, Description: err.Error()}
	case errors.As(err, &bindingErr):
		return http.StatusConflict, errorResponse{Error: CodeBindingViolation, Description: err.Error(), Violations: bindingErr.Violations}
	case errors.As(err, &conflict):
		return http.StatusConflict, errorResponse{Error: CodeSupersessionConflict, Description: err.Error()}
	case errors.As(err, &hash):
		return http.StatusConflict, errorResponse{Error: CodeDuplicateContent, Description: err.Error()}
	case errors.As(err, &inactive):
		return http.StatusConflict, errorResponse{Error: CodeInactiveEvidence, Description: err.Error()}
	case errors.As(err, &transition):
		return http.StatusConflict, errorResponse{Error: CodeInvalidTransition, Description: err.Error()}
	case errors.As(err, &frozen):
		return http.StatusConflict, errorResponse{Error: CodeInvalidTransition, Description: err.Error()}
	case errors.As(err, &rule):
		return http.StatusConflict, errorResponse{Error: CodeRuleViolation, Description: err.Error(), Rules: rule.Result.Violations}
	case errors.As(err, &expired):
		return http.StatusPreconditionFailed, errorResponse{Error: CodeRulesetUnavailable, Description: err.Error()}
	case errors.Is(err, blobcore.ErrUnsupported):
		return http.StatusNotImplemented, errorResponse{Error: CodeUnsupported, Description: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: CodeInternal}
	}
}

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string { return e.msg }
