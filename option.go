package repoctx

import (
	"context"
	"errors"
	"fmt"
)

// Option mutates the Repository during construction.
type Option func(*Repository) error

// WithLogger installs the repository logger.
func WithLogger(logger Logger) Option {
	return func(r *Repository) error {
		if logger == nil {
			return errors.New("nil logger provided")
		}
		r.logger = logger
		return nil
	}
}

// WithMetrics installs the metrics collector. Nil restores the no-op.
func WithMetrics(metrics Metrics) Option {
	return func(r *Repository) error {
		if metrics == nil {
			metrics = NoopMetrics{}
		}
		r.metrics = metrics
		return nil
	}
}

// WithTracer installs the tracer wrapping provider calls. Nil restores the
// no-op.
func WithTracer(tracer Tracer) Option {
	return func(r *Repository) error {
		if tracer == nil {
			tracer = NoopTracer{}
		}
		r.tracer = tracer
		return nil
	}
}

// WithErrorReporter installs the reporter for context refresh failures.
func WithErrorReporter(reporter ErrorReporter) Option {
	return func(r *Repository) error {
		if reporter == nil {
			reporter = NoopErrorReporter{}
		}
		r.errors = reporter
		return nil
	}
}

// WithItemsPerPage sets the default page size for new contexts and for
// FindAll queries without a limit.
func WithItemsPerPage(n int) Option {
	return func(r *Repository) error {
		if n < 1 {
			return fmt.Errorf("items per page must be positive, got %d", n)
		}
		r.itemsPerPage = n
		return nil
	}
}

// WithMaxItemsPerPage caps the page size sent to the provider. Zero leaves
// it uncapped.
func WithMaxItemsPerPage(n int) Option {
	return func(r *Repository) error {
		if n < 0 {
			return fmt.Errorf("max items per page must not be negative, got %d", n)
		}
		r.maxPerPage = n
		return nil
	}
}

// WithBaseContext sets the parent of every background fetch. Close cancels a
// child of it.
func WithBaseContext(ctx context.Context) Option {
	return func(r *Repository) error {
		if ctx == nil {
			return errors.New("nil base context provided")
		}
		r.parent = ctx
		return nil
	}
}
