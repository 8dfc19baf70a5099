package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"seedlot/pkg/domain"
)

// PrometheusMetricsRecorder exports operation latency and outcomes together
// with assessment and binding counters. It implements both MetricsRecorder
// and DecisionRecorder.
type PrometheusMetricsRecorder struct {
	// Operation latency by operation and outcome
	OperationLatency *prometheus.HistogramVec

	// Operations by operation and outcome
	Operations *prometheus.CounterVec

	// Stored assessments by regulatory path and risk class
	Assessments *prometheus.CounterVec

	// Binding violations by code
	BindingViolations *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder creates the recorder and registers its
// collectors with reg. A nil reg selects prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetricsRecorder{
		OperationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seedlot_operation_duration_seconds",
			Help:    "Duration of service operations by operation and outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation", "outcome"}),

		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedlot_operations_total",
			Help: "Total service operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedlot_assessments_total",
			Help: "Total stored assessments by regulatory path and risk class",
		}, []string{"path", "risk_class"}),

		BindingViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedlot_binding_violations_total",
			Help: "Total certificate binding violations reported by code",
		}, []string{"code"}),
	}
	for _, c := range []prometheus.Collector{m.OperationLatency, m.Operations, m.Assessments, m.BindingViolations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe implements MetricsRecorder.
func (m *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if m == nil || operation == "" {
		return
	}
	outcome := outcomeLabel(success)
	m.OperationLatency.WithLabelValues(operation, outcome).Observe(duration.Seconds())
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveAssessment implements DecisionRecorder.
func (m *PrometheusMetricsRecorder) ObserveAssessment(_ context.Context, path domain.RegulatoryPath, risk domain.RiskClass) {
	if m != nil {
		m.Assessments.WithLabelValues(string(path), string(risk)).Inc()
	}
}

// ObserveBindingViolations implements DecisionRecorder.
func (m *PrometheusMetricsRecorder) ObserveBindingViolations(_ context.Context, violations []domain.BindingViolation) {
	if m == nil {
		return
	}
	for _, v := range violations {
		m.BindingViolations.WithLabelValues(v.Code).Inc()
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// OTelTracer opens an OpenTelemetry span per service operation.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer adapts an OpenTelemetry tracer, usually obtained from
// otel.Tracer("seedlot").
func NewOTelTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

// Start implements Tracer.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	attrs := []attribute.KeyValue{attribute.String("seedlot.operation", operation)}
	if meta, ok := operationMetadata[operation]; ok {
		attrs = append(attrs,
			attribute.String("seedlot.entity", string(meta.entity)),
			attribute.String("seedlot.action", meta.action),
		)
	}
	ctx, span := t.tracer.Start(ctx, "seedlot."+operation, trace.WithAttributes(attrs...))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// LoggerAuditRecorder writes audit entries to a structured logger, one line
// per operation.
type LoggerAuditRecorder struct {
	logger Logger
}

// NewLoggerAuditRecorder returns a recorder writing to logger.
func NewLoggerAuditRecorder(logger Logger) *LoggerAuditRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LoggerAuditRecorder{logger: logger}
}

// Record implements AuditRecorder.
func (r *LoggerAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	kv := []any{
		"operation", entry.Operation,
		"entity", string(entry.Entity),
		"action", entry.Action,
		"entity_id", entry.EntityID,
		"status", string(entry.Status),
		"duration", entry.Duration,
		"at", entry.Timestamp,
	}
	if entry.Status == AuditStatusError {
		r.logger.Warn("audit", append(kv, "error", entry.Error)...)
		return
	}
	r.logger.Info("audit", kv...)
}
