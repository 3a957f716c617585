package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"estatly.org/internal/audit"
	"estatly.org/internal/auth"
	"estatly.org/internal/obs"
	"estatly.org/internal/property"
)

const (
	serviceName     = "estatly-api"
	defaultMaxBody  = 1 << 20
	defaultRate     = 20
	defaultBurst    = 40
	heartbeatPeriod = 15 * time.Second
)

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is implemented by stores that can reach their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreReadiness pings the primary store. A nil store is always ready.
type StoreReadiness struct {
	Store Pinger
}

func (rp StoreReadiness) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Services are the domain entry points the handlers call.
type Services struct {
	Auth     *auth.Service
	Property *property.Service
	Audit    *audit.Query
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        Services
	readiness  ReadinessChecker
	version    string
	logger     *slog.Logger
	ratePerSec float64
	rateBurst  int
	maxBody    int64
	heartbeat  time.Duration
}

type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithRateLimit sets the per-client token bucket. A zero rate disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithHeartbeat sets the idle comment interval of the audit stream.
func WithHeartbeat(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.heartbeat = d
		}
	}
}

func New(svc Services, rp ReadinessChecker, opts ...Option) *API {
	if rp == nil {
		rp = StoreReadiness{}
	}
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readiness: rp,
		version:    "dev",
		ratePerSec: defaultRate,
		rateBurst:  defaultBurst,
		maxBody:    defaultMaxBody,
		heartbeat:  heartbeatPeriod,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// accounts and bindings
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/bindings/", a.handleBindingResource)

	// property data
	a.mux.HandleFunc("/v1/buildings", a.handleBuildings)
	a.mux.HandleFunc("/v1/buildings/", a.handleBuildingResource)
	a.mux.HandleFunc("/v1/apartments/", a.handleApartmentResource)
	a.mux.HandleFunc("/v1/expenses/", a.handleExpenseResource)
	a.mux.HandleFunc("/v1/payments/", a.handlePaymentResource)

	// audit ledger
	a.mux.HandleFunc("/v1/audit", a.handleAuditList)
	a.mux.HandleFunc("/v1/audit/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h, a.logger)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

type listResponse[T any] struct {
	Items     []T    `json:"items"`
	NextAfter string `json:"next_after,omitempty"`
}

// page wraps items, advertising a cursor when the page came back full.
func page[T any](items []T, limit int, id func(T) string) listResponse[T] {
	resp := listResponse[T]{Items: items}
	if resp.Items == nil {
		resp.Items = []T{}
	}
	if limit > 0 && len(items) == limit {
		resp.NextAfter = id(items[len(items)-1])
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, defaultMaxBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func parseBool(raw string) (bool, error) {
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// splitPath returns the segments after prefix, or nil when none remain.
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
