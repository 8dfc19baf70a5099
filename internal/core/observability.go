package core

import (
	"context"
	"time"

	"seedlot/pkg/domain"
)

// Logger is the structured logging surface the service writes to. Arguments
// after msg are alternating keys and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time to the service.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus is the outcome recorded for an operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service operation for the audit trail.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    string
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives one entry per service operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes the duration and outcome of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// DecisionRecorder is implemented by metrics recorders that also count
// assessment outcomes and binding failures.
type DecisionRecorder interface {
	ObserveAssessment(ctx context.Context, path domain.RegulatoryPath, risk domain.RiskClass)
	ObserveBindingViolations(ctx context.Context, violations []domain.BindingViolation)
}

// Tracer opens one span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

type operationMeta struct {
	entity domain.EntityType
	action string
}

var operationMetadata = map[string]operationMeta{
	"create_organization":         {domain.EntityOrganization, "create"},
	"create_supplier":             {domain.EntitySupplier, "create"},
	"create_seed_biology":         {domain.EntitySeedBiology, "create"},
	"revise_seed_biology":         {domain.EntitySeedBiology, "revise"},
	"update_seed_biology":         {domain.EntitySeedBiology, "update"},
	"create_seed_lot":             {domain.EntitySeedLot, "create"},
	"update_seed_lot":             {domain.EntitySeedLot, "update"},
	"transition_seed_lot":         {domain.EntitySeedLot, "transition"},
	"create_certificate":          {domain.EntityCertificate, "create"},
	"void_certificate":            {domain.EntityCertificate, "void"},
	"create_shipment":             {domain.EntityShipment, "create"},
	"bind_certificate":            {domain.EntityShipment, "bind"},
	"validate_binding":            {domain.EntityShipment, "validate"},
	"transition_shipment":         {domain.EntityShipment, "transition"},
	"record_evidence":             {domain.EntityEvidence, "append"},
	"record_supplier_declaration": {domain.EntityEvidence, "intake"},
	"supersede_evidence":          {domain.EntityEvidence, "supersede"},
	"link_evidence":               {domain.EntityEvidenceLink, "create"},
	"resolve_active_evidence":     {domain.EntityEvidence, "resolve"},
	"verify_ledger":               {domain.EntityEvidence, "verify"},
	"document_url":                {domain.EntityEvidence, "presign"},
	"assess":                      {domain.EntityAssessment, "assess"},
	"override_assessment":         {domain.EntityAssessment, "override"},
	"pending_review":              {domain.EntityAssessment, "list"},
	"authoritative_assessment":    {domain.EntityAssessment, "read"},
	"list_assessments":            {domain.EntityAssessment, "list"},
	"assessment_basis":            {domain.EntityDecisionBasis, "list"},
	"verify_ppq_label":            {domain.EntityPPQCompliance, "verify"},
	"ppq_compliance":              {domain.EntityPPQCompliance, "read"},
}
