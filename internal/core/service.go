package core

import (
	"context"
	"errors"
	"time"

	"seedlot/internal/infra/persistence/memory"
	"seedlot/internal/lifecycle"
	"seedlot/pkg/domain"
)

// Service exposes the transactional operations of the decision core. Every
// operation is traced and audited.
type Service struct {
	store   PersistentStore
	clock   Clock
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	locker  Locker
	opts    serviceOptions
}

type clockSetter interface {
	SetNowFunc(func() time.Time)
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if setter, ok := store.(clockSetter); ok {
		setter.SetNowFunc(cfg.clock.Now)
	}
	return &Service{
		store:   store,
		clock:   cfg.clock,
		logger:  cfg.logger,
		audit:   cfg.audit,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
		locker:  cfg.locker,
		opts:    cfg,
	}
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine. A nil engine selects NewDefaultRulesEngine.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store exposes the underlying persistence implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// run wraps fn with tracing, metrics, audit and logging. fn returns the ID of
// the entity it acted on, or "" when the operation spans many.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, entityID, start, duration, err)
	s.logOutcome(op, entityID, duration, err)
	return err
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, at time.Time, duration time.Duration, err error) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: at.UTC(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

func (s *Service) logOutcome(op, entityID string, duration time.Duration, err error) {
	if err == nil {
		s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
		return
	}
	var conflict domain.SupersessionConflictError
	if errors.As(err, &conflict) {
		s.logger.Error("supersession conflict", "operation", op, "evidence_id", conflict.EvidenceID, "superseded_by", conflict.SupersededBy)
		return
	}
	if expected(err) {
		s.logger.Warn("operation rejected", "operation", op, "entity_id", entityID, "error", err)
		return
	}
	s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "error", err)
}

// expected reports errors caused by caller input or domain policy rather than
// by the service or its backends.
func expected(err error) bool {
	var (
		validation domain.ValidationErrors
		rule       domain.RuleViolationError
		binding    domain.BindingViolationError
		expired    domain.RulesetExpiredError
		hash       domain.ContentHashConflictError
		inactive   domain.InactiveEvidenceError
		transition lifecycle.TransitionError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.As(err, &validation),
		errors.As(err, &rule),
		errors.As(err, &binding),
		errors.As(err, &expired),
		errors.As(err, &hash),
		errors.As(err, &inactive),
		errors.As(err, &transition):
		return true
	}
	return false
}
