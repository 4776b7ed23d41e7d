package httpapi

import (
	"net/http"
	"time"

	"github.com/aquamarinepk/repoctx"
	"github.com/go-chi/chi/v5"
)

// RouterConfig bundles what NewRouter wires.
type RouterConfig struct {
	Handler *Handler
	Health  *HealthRegistry
	Logger  repoctx.Logger
	Metrics repoctx.Metrics
	Tracer  repoctx.Tracer
	Errors  repoctx.ErrorReporter
	Timeout time.Duration

	// AllowedNetworks restricts the collection routes to these CIDRs. Health
	// endpoints stay open.
	AllowedNetworks []string
}

// NewRouter builds the chi router with the default stack, the health
// endpoints and the collection routes.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	router := chi.NewRouter()
	router.Use(DefaultStack(StackOptions{
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
		Tracer:  cfg.Tracer,
		Errors:  cfg.Errors,
		Timeout: cfg.Timeout,
	})...)

	health := cfg.Health
	if health == nil {
		health = NewHealthRegistry()
	}
	health.RegisterLiveness("core", HealthStatusOK)
	RegisterHealthEndpoints(router, health)

	if cfg.Handler == nil {
		return router, nil
	}
	if pinger, ok := cfg.Handler.provider.(Pinger); ok {
		health.RegisterReadiness("provider", pinger.Ping)
	} else {
		health.RegisterReadiness("provider", HealthStatusOK)
	}

	if len(cfg.AllowedNetworks) == 0 {
		cfg.Handler.RegisterRoutes(router)
		return router, nil
	}
	allow, err := AllowFromNetworks(cfg.AllowedNetworks...)
	if err != nil {
		return nil, err
	}
	router.Group(func(r chi.Router) {
		r.Use(allow)
		cfg.Handler.RegisterRoutes(r)
	})
	return router, nil
}

// MustRouter panics when cfg is invalid.
func MustRouter(cfg RouterConfig) http.Handler {
	router, err := NewRouter(cfg)
	if err != nil {
		panic(err)
	}
	return router
}
