package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tasktrail.org/api/spec"
	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/obs"
	"tasktrail.org/internal/tasks"
)

const serviceName = "tasktrail-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is satisfied by the entity stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports ready once the store answers a ping.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Options wires the API to its services.
type Options struct {
	Auth    *auth.Service
	Tasks   *tasks.Service
	Ready   ReadyProbe
	Health  *GRPCServer
	Version string

	CORSOrigins  []string
	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64

	// Heartbeat is the interval of keep-alive comments on the audit stream.
	Heartbeat time.Duration
}

// API is the HTTP layer.
type API struct {
	router    chi.Router
	auth      *auth.Service
	tasks     *tasks.Service
	ready     readinessChecker
	health    *GRPCServer
	version   string
	heartbeat time.Duration
}

// New builds the router. Zero limits fall back to the configuration defaults.
func New(opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	a := &API{
		auth:      opts.Auth,
		tasks:     opts.Tasks,
		ready:     opts.Ready,
		health:    opts.Health,
		version:   opts.Version,
		heartbeat: opts.Heartbeat,
	}

	general := newLimiter(opts.RateBurst, opts.RatePerSec)
	strict := newLimiter(max(opts.RateBurst/5, 1), opts.RatePerSec/4)

	r := chi.NewRouter()
	r.Use(
		RequestID,
		middleware.RealIP,
		LoggingJSON,
		middleware.Recoverer,
		SecurityHeaders,
		cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Location"},
			AllowCredentials: false,
			MaxAge:           600,
		}),
		obs.Instrument,
		func(next http.Handler) http.Handler { return MaxBodyBytes(next, opts.MaxBodyBytes) },
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/info", a.Info)
	r.Get("/openapi.yaml", a.OpenAPISpec)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(general.middleware)

		r.Route("/auth", func(r chi.Router) {
			r.Use(strict.middleware)
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.With(a.withAuth).Get("/me", a.handleMe)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Use(a.withAuth)
			r.Post("/", a.createTask)
			r.Get("/", a.listTasks)
			r.Get("/audit-log", a.auditLog)
			r.Get("/audit-log/stream", a.streamAuditLog)
			r.Get("/{id}", a.getTask)
			r.Put("/{id}", a.updateTask)
			r.Delete("/{id}", a.deleteTask)
		})
	})

	a.router = r
	return a
}

// Handler returns the root handler with HTTP tracing applied.
func (a *API) Handler() http.Handler {
	return otelhttp.NewHandler(a.router, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + obs.CanonicalPath(r.URL.Path)
		}),
	)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	err := a.ready.Check(r.Context())
	if a.health != nil {
		a.health.SetServing(err == nil)
	} else {
		obs.SetReady(err == nil)
	}
	if err != nil {
		obs.Logger().WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
