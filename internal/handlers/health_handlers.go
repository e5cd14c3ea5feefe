package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything whose reachability can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PendingCounter reports the size of the pending sync queue.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	local   Pinger
	remote  Pinger
	cache   Pinger
	pending PendingCounter
	version string
	started time.Time
	timeout time.Duration
}

// NewHealthHandlers creates a new health handlers instance. Any pinger may
// be nil when that component is not configured.
func NewHealthHandlers(local, remote, cache Pinger, pending PendingCounter, version string) *HealthHandlers {
	return &HealthHandlers{
		local:   local,
		remote:  remote,
		cache:   cache,
		pending: pending,
		version: version,
		started: time.Now(),
		timeout: 2 * time.Second,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
}

// CheckResult is the outcome of probing one component.
type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func (h *HealthHandlers) probe(ctx context.Context, p Pinger) CheckResult {
	if p == nil {
		return CheckResult{Status: "not_configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	result := CheckResult{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = "unhealthy"
		result.Message = err.Error()
	}
	return result
}

func (h *HealthHandlers) checks(ctx context.Context) map[string]CheckResult {
	return map[string]CheckResult{
		"local_store":  h.probe(ctx, h.local),
		"remote_store": h.probe(ctx, h.remote),
		"cache":        h.probe(ctx, h.cache),
	}
}

// overall is healthy when every configured component answers. A missing
// local store means the service runs remote-only.
func overall(checks map[string]CheckResult) string {
	for _, check := range checks {
		if check.Status == "unhealthy" {
			return "degraded"
		}
	}
	if checks["local_store"].Status == "not_configured" {
		return "degraded"
	}
	return "healthy"
}

// HealthCheck reports the state of every backing component
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	checks := h.checks(c.Request().Context())
	health := &HealthStatus{
		Status:    overall(checks),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]string, len(checks)),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Version:   h.version,
	}
	for name, check := range checks {
		health.Services[name] = check.Status
	}

	return c.JSON(http.StatusOK, health)
}

// ReadinessCheck determines if the application is ready to serve traffic.
// Either store is enough: the local one takes writes while offline and the
// remote one serves a degraded, online-only mode.
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	checks := h.checks(c.Request().Context())

	if checks["local_store"].Status == "healthy" {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ready",
			"message": "Local store available",
		})
	}
	if checks["remote_store"].Status == "healthy" {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ready",
			"message": "Local store unavailable, serving remote-only",
		})
	}

	return c.JSON(http.StatusServiceUnavailable, map[string]string{
		"status":  "not_ready",
		"message": "No invoice store available",
	})
}

// LivenessCheck determines if the application is running (basic liveness probe)
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// DetailedHealthCheck provides detailed health information
func (h *HealthHandlers) DetailedHealthCheck(c echo.Context) error {
	ctx := c.Request().Context()
	checks := h.checks(ctx)

	detailed := map[string]interface{}{
		"overall_status": overall(checks),
		"checks":         checks,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"version":        h.version,
		"goroutines":     runtime.NumGoroutine(),
		"uptime":         time.Since(h.started).Round(time.Second).String(),
	}

	if h.pending != nil && checks["local_store"].Status == "healthy" {
		if n, err := h.pending.PendingCount(ctx); err == nil {
			detailed["pending_sync"] = n
		}
	}

	return c.JSON(http.StatusOK, detailed)
}
