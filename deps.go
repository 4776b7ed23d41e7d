package repoctx

import (
	"context"
	"time"
)

// Deps bundles the cross-cutting collaborators handed to repositories,
// providers and the HTTP surface.
type Deps struct {
	Logger  Logger
	Config  *Config
	Metrics Metrics
	Tracer  Tracer
	Errors  ErrorReporter
}

// DefaultDeps returns a container filled with no-op implementations.
func DefaultDeps() *Deps {
	return &Deps{
		Logger:  NewNoopLogger(),
		Config:  NewConfig(),
		Metrics: NoopMetrics{},
		Tracer:  NoopTracer{},
		Errors:  NoopErrorReporter{},
	}
}

// Options turns the container into repository options. Nil members are
// skipped.
func (d *Deps) Options() []Option {
	if d == nil {
		return nil
	}
	var opts []Option
	if d.Logger != nil {
		opts = append(opts, WithLogger(d.Logger))
	}
	if d.Metrics != nil {
		opts = append(opts, WithMetrics(d.Metrics))
	}
	if d.Tracer != nil {
		opts = append(opts, WithTracer(d.Tracer))
	}
	if d.Errors != nil {
		opts = append(opts, WithErrorReporter(d.Errors))
	}
	return opts
}

// Metrics models a minimal counter emission interface with an HTTP request
// observation.
type Metrics interface {
	Counter(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHTTPRequest(path, method string, status int, duration time.Duration)
}

// Tracer creates spans around provider calls.
type Tracer interface {
	Start(ctx context.Context, name string, attrs map[string]any) (context.Context, Span)
}

// Span is the handle returned by Tracer.Start.
type Span interface {
	End(err error)
}

// ErrorReporter gets the failures nobody waits on, such as background
// context refreshes.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// ErrorReporterFunc lets a plain function act as an ErrorReporter. A nil
// func reports nothing.
type ErrorReporterFunc func(ctx context.Context, err error, fields map[string]any)

func (f ErrorReporterFunc) Report(ctx context.Context, err error, fields map[string]any) {
	if f != nil {
		f(ctx, err, fields)
	}
}

type NoopMetrics struct{}

type NoopTracer struct{}

type NoopSpan struct{}

type NoopErrorReporter struct{}

func (NoopMetrics) Counter(context.Context, string, float64, map[string]string) {}
func (NoopMetrics) ObserveHTTPRequest(string, string, int, time.Duration)       {}

func (NoopTracer) Start(ctx context.Context, _ string, _ map[string]any) (context.Context, Span) {
	return ctx, NoopSpan{}
}

func (NoopSpan) End(error) {}

func (NoopErrorReporter) Report(context.Context, error, map[string]any) {}
