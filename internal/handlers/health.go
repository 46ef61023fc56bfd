package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/domen-source/storyweaver-consumer/internal/platform/httpx"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"
	defaultCheckTimeout  = 3 * time.Second
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	build   BuildInfo
	clock   func() time.Time
	checks  map[string]HealthCheck
	timeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs health handlers. Without checks /readyz always succeeds.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:   time.Now,
		checks:  make(map[string]HealthCheck),
		timeout: defaultCheckTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// WithHealthBuildInfo sets the version metadata reported by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, mostly for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthCheck registers a readiness check under name.
func WithHealthCheck(name string, check HealthCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && check != nil {
			h.checks[name] = check
		}
	}
}

// Healthz reports liveness and build metadata.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      healthStatusOK,
		"version":     h.build.Version,
		"commitSha":   h.build.CommitSHA,
		"environment": h.build.Environment,
		"uptime":      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp":   now.Format(time.RFC3339),
	})
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Readyz runs every registered check and answers 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := healthStatusOK
	results := make(map[string]checkResult, len(names))
	details := make([]string, 0)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		start := h.clock()
		err := h.checks[name](ctx)
		cancel()
		result := checkResult{Status: healthStatusOK, LatencyMS: h.clock().Sub(start).Milliseconds()}
		if err != nil {
			status = healthStatusDegraded
			result.Status = healthStatusDegraded
			result.Error = err.Error()
			details = append(details, name+": "+err.Error())
		}
		results[name] = result
	}

	code := http.StatusOK
	if status != healthStatusOK {
		code = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, map[string]any{
		"status":    status,
		"checks":    results,
		"details":   details,
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	})
}
