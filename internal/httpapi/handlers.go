// Package httpapi exposes the environment, functional service and
// changes-since endpoints over HTTP with SIF XML payloads.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"sif3.org/internal/auth"
	"sif3.org/internal/changes"
	"sif3.org/internal/environment"
	"sif3.org/internal/jobs"
	"sif3.org/internal/model"
	"sif3.org/internal/obs"
	"sif3.org/internal/rights"
	"sif3.org/internal/store"
	"sif3.org/internal/stream"
)

// ReadyProbe checks the backing services the API depends on.
type ReadyProbe struct {
	DB     *sql.DB
	Checks []func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	for _, check := range rp.Checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the domain services served by the API.
type Deps struct {
	Environments *environment.Service
	Rights       *rights.Engine
	Jobs         *jobs.Manager
	Changes      *changes.Manager
	// Events enables the live change feed when set.
	Events *stream.Stream
}

type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

// WithPageSize sets the default navigationPageSize.
func WithPageSize(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// WithEventHeartbeat sets the keepalive interval of the change feed.
func WithEventHeartbeat(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.heartbeat = d
		}
	}
}

// WithMaxBodyBytes caps request bodies after decompression.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	envs    *environment.Service
	rights  *rights.Engine
	jobs    *jobs.Manager
	changes *changes.Manager
	events  *stream.Stream

	ratePerSec float64
	rateBurst  int
	pageSize   int
	maxBody    int64
	heartbeat  time.Duration
}

func New(rp ReadyProbe, version string, deps Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		envs:       deps.Environments,
		rights:     deps.Rights,
		jobs:       deps.Jobs,
		changes:    deps.Changes,
		events:     deps.Events,
		ratePerSec: 20,
		rateBurst:  40,
		pageSize:   100,
		maxBody:    1 << 20,
		heartbeat:  15 * time.Second,
	}
	if a.rights == nil && a.envs != nil {
		a.rights = rights.NewEngine(a.envs, a.envs.Verifier())
	}
	if a.changes == nil {
		a.changes = changes.NewManager(nil)
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// SIF infrastructure and functional services
	a.mux.HandleFunc("/api/environments/", a.handleEnvironments)
	a.mux.HandleFunc("/api/jobs/", a.handleJobs)
	a.mux.HandleFunc("/api/changes/", a.handleChanges)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "request", "resource not found", "")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MethodOverride(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = GunzipRequest(h)
	h = Compress(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.jobs != nil {
		info["functional_services"] = a.jobs.Registry().Names()
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

const xmlContentType = "application/xml; charset=utf-8"

func writeXML(w http.ResponseWriter, code int, v any) {
	body, err := model.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", xmlContentType)
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// writeError renders a SIF error document. The request id doubles as the
// error id so log lines and responses correlate.
func writeError(w http.ResponseWriter, r *http.Request, code int, scope, msg, description string) {
	doc := &model.Error{
		ID:          RequestIDFromContext(r.Context()),
		Code:        code,
		Scope:       scope,
		Message:     msg,
		Description: description,
	}
	writeXML(w, code, doc)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, scope string, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, scope, "method not allowed", "")
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidSession), errors.Is(err, changes.ErrInvalidMarker),
		errors.Is(err, jobs.ErrInvalidState), errors.Is(err, auth.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrUnsupported),
		errors.Is(err, environment.ErrNotProvisioned):
		return http.StatusUnauthorized
	case errors.Is(err, jobs.ErrActionNotSupported):
		return http.StatusMethodNotAllowed
	case errors.Is(err, jobs.ErrRejected), errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, jobs.ErrJobTimedOut):
		return http.StatusGone
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrUnknownDefinition):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err with its mapped status. Server errors hide the
// underlying message from the caller.
func handleError(w http.ResponseWriter, r *http.Request, scope string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		obs.Error(r.Context(), "request failed", map[string]any{"scope": scope, "error": err})
		writeError(w, r, code, scope, http.StatusText(code), "")
		return
	}
	writeError(w, r, code, scope, http.StatusText(code), err.Error())
}
