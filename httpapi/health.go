package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthCheck is a liveness or readiness probe.
type HealthCheck func(context.Context) error

// Pinger is implemented by providers backed by a remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthRegistry stores probes and serves them.
type HealthRegistry struct {
	mu        sync.RWMutex
	liveness  map[string]HealthCheck
	readiness map[string]HealthCheck
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{
		liveness:  map[string]HealthCheck{},
		readiness: map[string]HealthCheck{},
	}
}

func (hr *HealthRegistry) RegisterLiveness(name string, check HealthCheck) {
	hr.register(hr.liveness, name, check)
}

func (hr *HealthRegistry) RegisterReadiness(name string, check HealthCheck) {
	hr.register(hr.readiness, name, check)
}

func (hr *HealthRegistry) register(target map[string]HealthCheck, name string, check HealthCheck) {
	if check == nil || name == "" {
		return
	}
	hr.mu.Lock()
	target[name] = check
	hr.mu.Unlock()
}

// RegisterHealthEndpoints mounts /healthz, /livez, /readyz and /ping.
func RegisterHealthEndpoints(r chi.Router, registry *HealthRegistry) {
	if registry == nil {
		registry = NewHealthRegistry()
	}
	r.Get("/healthz", registry.handler(func() map[string]HealthCheck { return registry.liveness }))
	r.Get("/livez", registry.handler(func() map[string]HealthCheck { return registry.liveness }))
	r.Get("/readyz", registry.handler(func() map[string]HealthCheck { return registry.readiness }))
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
}

func (hr *HealthRegistry) handler(checks func() map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hr.mu.RLock()
		snapshot := make(map[string]HealthCheck, len(checks()))
		for name, check := range checks() {
			snapshot[name] = check
		}
		hr.mu.RUnlock()

		summary := runChecks(r.Context(), snapshot)
		status := http.StatusOK
		if summary.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(summary)
	}
}

func runChecks(ctx context.Context, checks map[string]HealthCheck) ProbeResponse {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	results := make([]HealthResult, 0, len(names))
	for _, name := range names {
		result := HealthResult{Name: name}
		if err := checks[name](ctx); err != nil {
			result.Error = err.Error()
			status = "degraded"
		}
		results = append(results, result)
	}
	return ProbeResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Results:   results,
	}
}

// HealthStatusOK always reports healthy.
func HealthStatusOK(context.Context) error { return nil }

type HealthResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

type ProbeResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Results   []HealthResult `json:"results,omitempty"`
}
