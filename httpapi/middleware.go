package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aquamarinepk/repoctx"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// StackOptions configures the default middleware bundle.
type StackOptions struct {
	Logger        repoctx.Logger
	Metrics       repoctx.Metrics
	Tracer        repoctx.Tracer
	Errors        repoctx.ErrorReporter
	Timeout       time.Duration
	CompressLevel int
}

// DefaultStack is the middleware order every router uses.
func DefaultStack(opts StackOptions) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID,
		chimiddleware.RealIP,
		Compress(opts.CompressLevel),
		NewRequestLogger(opts.Logger),
		chimiddleware.Recoverer,
		ReportErrors(opts.Errors),
		Timeout(opts.Timeout),
		Trace(opts.Tracer),
		Metrics(opts.Metrics),
		chimiddleware.AllowContentType("application/json"),
	}
}

func Compress(level int) func(http.Handler) http.Handler {
	if level <= 0 {
		level = 5
	}
	return chimiddleware.Compress(level, "application/json")
}

func Timeout(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 60 * time.Second
	}
	return chimiddleware.Timeout(d)
}

// NewRequestLogger logs request lifecycle events through logger.
func NewRequestLogger(logger repoctx.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = repoctx.NewNoopLogger()
	}
	return chimiddleware.RequestLogger(&logFormatter{logger: logger})
}

type logFormatter struct {
	logger repoctx.Logger
}

func (f *logFormatter) NewLogEntry(r *http.Request) chimiddleware.LogEntry {
	entry := f.logger.With(
		"request_id", RequestIDFrom(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
	entry.Debug("request started", "remote_addr", r.RemoteAddr)
	return &logEntry{logger: entry}
}

type logEntry struct {
	logger repoctx.Logger
}

func (e *logEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	e.logger.Info("request completed",
		"status", status,
		"bytes", bytes,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func (e *logEntry) Panic(v any, stack []byte) {
	e.logger.Error("request panic", "panic", fmt.Sprint(v), "stack", string(stack))
}

// ReportErrors forwards 5xx responses and panics to reporter.
func ReportErrors(reporter repoctx.ErrorReporter) func(http.Handler) http.Handler {
	if reporter == nil {
		reporter = repoctx.NoopErrorReporter{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				if rec := recover(); rec != nil {
					reporter.Report(r.Context(), panicError(rec), errorFields(r, 0))
					panic(rec)
				}
			}()

			next.ServeHTTP(ww, r)

			if status := ww.Status(); status >= http.StatusInternalServerError {
				reporter.Report(r.Context(), fmt.Errorf("http %d", status), errorFields(r, status))
			}
		})
	}
}

// Trace opens one span per request.
func Trace(tracer repoctx.Tracer) func(http.Handler) http.Handler {
	if tracer == nil {
		tracer = repoctx.NoopTracer{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "http."+r.Method, map[string]any{
				"path":       r.URL.Path,
				"request_id": RequestIDFrom(r.Context()),
			})
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			var err error
			if ww.Status() >= http.StatusInternalServerError {
				err = fmt.Errorf("http %d", ww.Status())
			}
			span.End(err)
		})
	}
}

// Metrics reports every request by route pattern.
func Metrics(metrics repoctx.Metrics) func(http.Handler) http.Handler {
	if metrics == nil {
		metrics = repoctx.NoopMetrics{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.ObserveHTTPRequest(path, r.Method, status, time.Since(start))
		})
	}
}

func errorFields(r *http.Request, status int) map[string]any {
	fields := map[string]any{
		"request_id": RequestIDFrom(r.Context()),
		"path":       r.URL.Path,
		"method":     r.Method,
	}
	if status != 0 {
		fields["status"] = status
	}
	return fields
}

func panicError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", v)
}
