package core

import (
	"slices"

	"cveteval/internal/blob"
	"cveteval/internal/match"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger. Nil keeps the no-op logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for plans and audit entries.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder sets the recorder observing every operation.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer opening a span per operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the recorder notified of history writes.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithBlobStore enables ExportReport.
func WithBlobStore(store blob.Store) ServiceOption {
	return func(s *Service) {
		s.blobs = store
	}
}

// WithMatchers replaces the default matcher set used by Match and Plan.
func WithMatchers(matchers ...match.Matcher) ServiceOption {
	return func(s *Service) {
		s.matchers = slices.Clone(matchers)
	}
}

// WithRunIDs overrides the run id generator.
func WithRunIDs(next func() string) ServiceOption {
	return func(s *Service) {
		if next != nil {
			s.newRunID = next
		}
	}
}
