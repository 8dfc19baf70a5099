package core

import (
	"time"

	"seedlot/internal/assessment"
	"seedlot/internal/binding"
	blobcore "seedlot/internal/blob/core"
	"seedlot/internal/ruleset"
)

// ServiceOption configures optional behaviour for Service instances.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock            Clock
	logger           Logger
	audit            AuditRecorder
	metrics          MetricsRecorder
	tracer           Tracer
	locker           Locker
	rulesets         ruleset.Provider
	rulesetVersion   string
	blobs            blobcore.Store
	reviewThreshold  float64
	validity         time.Duration
	maxInspectionAge time.Duration
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:            ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:           noopLogger{},
		audit:            noopAuditRecorder{},
		metrics:          noopMetricsRecorder{},
		tracer:           noopTracer{},
		locker:           NewKeyedLocker(),
		rulesetVersion:   ruleset.Latest,
		reviewThreshold:  assessment.DefaultReviewThreshold,
		validity:         assessment.DefaultValidity,
		maxInspectionAge: binding.DefaultMaxInspectionAge,
	}
}

// WithClock overrides the service clock. A nil clock is ignored.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder records one entry per operation.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder observes operation outcomes. Recorders that also
// implement DecisionRecorder receive assessment and binding counts.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer opens a span per operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithLocker replaces the in-process assessment and supersession locks, for
// example with a Redis-backed locker shared by several replicas.
func WithLocker(locker Locker) ServiceOption {
	return func(o *serviceOptions) {
		if locker != nil {
			o.locker = locker
		}
	}
}

// WithRulesetProvider selects where rulesets come from and which version
// assessments run against. An empty version selects ruleset.Latest.
func WithRulesetProvider(provider ruleset.Provider, version string) ServiceOption {
	return func(o *serviceOptions) {
		o.rulesets = provider
		if version == "" {
			version = ruleset.Latest
		}
		o.rulesetVersion = version
	}
}

// WithBlobStore archives evidence documents in store.
func WithBlobStore(store blobcore.Store) ServiceOption {
	return func(o *serviceOptions) {
		o.blobs = store
	}
}

// WithReviewThreshold sets the confidence below which assessments need
// human review. Values outside (0, 1] are ignored.
func WithReviewThreshold(threshold float64) ServiceOption {
	return func(o *serviceOptions) {
		if threshold > 0 && threshold <= 1 {
			o.reviewThreshold = threshold
		}
	}
}

// WithAssessmentValidity sets how long new assessments stay valid.
func WithAssessmentValidity(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if d > 0 {
			o.validity = d
		}
	}
}

// WithMaxInspectionAge bounds how old a certificate inspection may be when a
// shipment becomes ready to ship.
func WithMaxInspectionAge(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if d > 0 {
			o.maxInspectionAge = d
		}
	}
}
