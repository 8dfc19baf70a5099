// Package httpapi exposes the review surface of the decision core over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"seedlot/internal/core"
	"seedlot/internal/ledger"
	"seedlot/pkg/domain"
)

// Service defines the operations the review surface calls.
type Service interface {
	Assess(ctx context.Context, seedLotID, destination string) (core.AssessmentOutcome, error)
	OverrideAssessment(ctx context.Context, assessmentID string, override core.Override) (core.AssessmentOutcome, error)
	PendingReview(ctx context.Context) ([]domain.RegulatoryAssessment, error)
	ListAssessments(ctx context.Context, seedLotID, destination string) ([]domain.RegulatoryAssessment, error)
	AssessmentBasis(ctx context.Context, assessmentID string) ([]domain.DecisionBasis, error)
	ValidateBinding(ctx context.Context, shipmentID string) ([]domain.BindingViolation, error)
	TransitionShipment(ctx context.Context, id string, to domain.ShipmentStatus, reason string) (domain.Shipment, core.Result, error)
	RecordEvidence(ctx context.Context, rec core.EvidenceRecord) (domain.Evidence, core.Result, error)
	SupersedeEvidence(ctx context.Context, oldID string, next core.EvidenceRecord) (domain.Evidence, core.Result, error)
	LinkEvidence(ctx context.Context, link domain.EvidenceLink) (domain.EvidenceLink, core.Result, error)
	VerifyLedger(ctx context.Context) ([]ledger.ChainViolation, error)
	DocumentURL(ctx context.Context, evidenceID string, expiry time.Duration) (string, error)
	PPQCompliance(ctx context.Context, seedLotID, destination string) (domain.PPQ587Compliance, error)
	VerifyPPQLabel(ctx context.Context, complianceID string, v core.LabelVerification) (domain.PPQ587Compliance, core.Result, error)
}

// Handler wires the review endpoints to the service.
type Handler struct {
	service Service
	logger  core.Logger
	metrics http.Handler
	timeout time.Duration
}

// Option customises a Handler.
type Option func(*Handler)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(handler *Handler) { handler.metrics = h }
}

// WithTimeout bounds each request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(handler *Handler) { handler.timeout = d }
}

// New constructs a handler. A nil logger discards output.
func New(service Service, logger core.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger, timeout: 30 * time.Second}
	if h.logger == nil {
		h.logger = discardLogger{}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the review endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		if h.timeout > 0 {
			r.Use(middleware.Timeout(h.timeout))
		}

		r.Post("/seed-lots/{id}/assessments", h.handleAssess)
		r.Get("/seed-lots/{id}/assessments", h.handleListAssessments)
		r.Get("/assessments/pending-review", h.handlePendingReview)
		r.Post("/assessments/{id}/override", h.handleOverride)
		r.Get("/assessments/{id}/basis", h.handleBasis)
		r.Get("/seed-lots/{id}/ppq-compliance", h.handlePPQCompliance)
		r.Post("/ppq-compliance/{id}/label", h.handleVerifyLabel)
		r.Get("/shipments/{id}/binding", h.handleBinding)
		r.Post("/shipments/{id}/transitions", h.handleTransition)
		r.Post("/evidence", h.handleRecordEvidence)
		r.Post("/evidence/{id}/supersede", h.handleSupersede)
		r.Post("/evidence/{id}/links", h.handleLink)
		r.Get("/evidence/{id}/document", h.handleDocument)
		r.Get("/ledger/verify", h.handleVerify)
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
}

// Router returns a fresh chi router with the endpoints registered.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) fail(r *http.Request, w http.ResponseWriter, op string, err error) {
	status, _ := classify(err)
	kv := []any{"request_id", middleware.GetReqID(r.Context()), "operation", op, "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", kv...)
	} else {
		h.logger.Warn("request rejected", kv...)
	}
	writeError(w, err)
}

func (h *Handler) handleAssess(w http.ResponseWriter, r *http.Request) {
	req, err := decode[assessRequest](r)
	if err == nil && strings.TrimSpace(req.DestinationCountry) == "" {
		err = badRequestError{msg: "destination_country is required"}
	}
	if err != nil {
		h.fail(r, w, "assess", err)
		return
	}
	out, err := h.service.Assess(r.Context(), chi.URLParam(r, "id"), req.DestinationCountry)
	if err != nil {
		h.fail(r, w, "assess", err)
		return
	}
	writeJSON(w, http.StatusCreated, fromOutcome(out))
}

func (h *Handler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListAssessments(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("destination"))
	if err != nil {
		h.fail(r, w, "list_assessments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": nonNil(list)})
}

func (h *Handler) handlePendingReview(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.PendingReview(r.Context())
	if err != nil {
		h.fail(r, w, "pending_review", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": nonNil(list)})
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	req, err := decode[overrideRequest](r)
	if err != nil {
		h.fail(r, w, "override_assessment", err)
		return
	}
	out, err := h.service.OverrideAssessment(r.Context(), chi.URLParam(r, "id"), req.toOverride())
	if err != nil {
		h.fail(r, w, "override_assessment", err)
		return
	}
	writeJSON(w, http.StatusCreated, fromOutcome(out))
}

func (h *Handler) handleBasis(w http.ResponseWriter, r *http.Request) {
	basis, err := h.service.AssessmentBasis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(r, w, "assessment_basis", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"basis": nonNil(basis)})
}

func (h *Handler) handlePPQCompliance(w http.ResponseWriter, r *http.Request) {
	destination := r.URL.Query().Get("destination")
	if strings.TrimSpace(destination) == "" {
		h.fail(r, w, "ppq_compliance", badRequestError{msg: "destination query parameter is required"})
		return
	}
	record, err := h.service.PPQCompliance(r.Context(), chi.URLParam(r, "id"), destination)
	if err != nil {
		h.fail(r, w, "ppq_compliance", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleVerifyLabel(w http.ResponseWriter, r *http.Request) {
	req, err := decode[labelRequest](r)
	if err != nil {
		h.fail(r, w, "verify_ppq_label", err)
		return
	}
	record, _, err := h.service.VerifyPPQLabel(r.Context(), chi.URLParam(r, "id"), req.toVerification())
	if err != nil {
		h.fail(r, w, "verify_ppq_label", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleBinding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	violations, err := h.service.ValidateBinding(r.Context(), id)
	if err != nil {
		h.fail(r, w, "validate_binding", err)
		return
	}
	writeJSON(w, http.StatusOK, bindingResponse{ShipmentID: id, Valid: len(violations) == 0, Violations: nonNil(violations)})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	req, err := decode[transitionRequest](r)
	if err == nil && req.Status == "" {
		err = badRequestError{msg: "status is required"}
	}
	if err != nil {
		h.fail(r, w, "transition_shipment", err)
		return
	}
	shipment, _, err := h.service.TransitionShipment(r.Context(), chi.URLParam(r, "id"), req.Status, req.Reason)
	if err != nil {
		h.fail(r, w, "transition_shipment", err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (h *Handler) handleRecordEvidence(w http.ResponseWriter, r *http.Request) {
	req, err := decode[evidenceRequest](r)
	if err != nil {
		h.fail(r, w, "record_evidence", err)
		return
	}
	ev, _, err := h.service.RecordEvidence(r.Context(), req.toRecord())
	if err != nil {
		h.fail(r, w, "record_evidence", err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleSupersede(w http.ResponseWriter, r *http.Request) {
	req, err := decode[evidenceRequest](r)
	if err != nil {
		h.fail(r, w, "supersede_evidence", err)
		return
	}
	ev, _, err := h.service.SupersedeEvidence(r.Context(), chi.URLParam(r, "id"), req.toRecord())
	if err != nil {
		h.fail(r, w, "supersede_evidence", err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request) {
	link, err := decode[domain.EvidenceLink](r)
	if err != nil {
		h.fail(r, w, "link_evidence", err)
		return
	}
	link.EvidenceID = chi.URLParam(r, "id")
	created, _, err := h.service.LinkEvidence(r.Context(), link)
	if err != nil {
		h.fail(r, w, "link_evidence", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	url, err := h.service.DocumentURL(r.Context(), chi.URLParam(r, "id"), 15*time.Minute)
	if err != nil {
		h.fail(r, w, "document_url", err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	violations, err := h.service.VerifyLedger(r.Context())
	if err != nil {
		h.fail(r, w, "verify_ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intact": len(violations) == 0, "violations": nonNil(violations)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
