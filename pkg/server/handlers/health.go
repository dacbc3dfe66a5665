package handlers

import (
	"context"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/newsdedup"
)

// Set with -ldflags "-X .../handlers.Version=..." at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const serviceName = "newsdedup"

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// Check probes a dependency; a nil error means healthy.
type Check func(ctx context.Context) error

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// EngineStatus summarizes the partitions held by the engine.
type EngineStatus struct {
	Status     string            `json:"status"`
	Partitions int               `json:"partitions"`
	Records    int               `json:"records"`
	Corrupted  map[string]string `json:"corrupted,omitempty"`
}

// HealthResponse is returned by every health endpoint; optional sections are
// filled by the readiness and detailed probes.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Engine    *EngineStatus          `json:"engine,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Runtime   *RuntimeStats          `json:"runtime,omitempty"`
}

// RuntimeStats is a snapshot of process resources.
type RuntimeStats struct {
	Uptime      string `json:"uptime"`
	GoVersion   string `json:"go_version"`
	GitCommit   string `json:"git_commit"`
	BuildTime   string `json:"build_time"`
	Goroutines  int    `json:"goroutines"`
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
	HeapObjects uint64 `json:"heap_objects"`
	GCCycles    uint32 `json:"gc_cycles"`
}

// HealthHandler serves liveness, readiness and diagnostics.
type HealthHandler struct {
	dedup   newsdedup.Deduplicator
	checks  map[string]Check
	started time.Time
}

func NewHealthHandler(d newsdedup.Deduplicator, checks map[string]Check) *HealthHandler {
	return &HealthHandler{dedup: d, checks: checks, started: time.Now()}
}

func newResponse(status string) HealthResponse {
	return HealthResponse{
		Status:    status,
		Service:   serviceName,
		Version:   Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, newResponse(statusHealthy))
}

// LivenessCheck handles GET /live
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, newResponse("alive"))
}

// ReadinessCheck handles GET /ready. The service is ready when the engine is
// up and every registered check passes. Corrupted partitions only degrade it;
// other tickers keep accepting news.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp, ok := h.probe(ctx)
	if resp.Status == statusHealthy {
		resp.Status = "ready"
	}
	if !ok {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DetailedHealthCheck handles GET /health/detailed
func (h *HealthHandler) DetailedHealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	resp, ok := h.probe(ctx)
	resp.Runtime = h.runtimeStats()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HealthHandler) probe(ctx context.Context) (HealthResponse, bool) {
	resp := newResponse(statusHealthy)
	resp.Engine = h.engineStatus()
	ok := resp.Engine.Status != statusUnhealthy
	if resp.Engine.Status == statusDegraded {
		resp.Status = statusDegraded
	}

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]CheckResult, len(h.checks))
	}
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		start := time.Now()
		res := CheckResult{Status: statusHealthy}
		if err := h.checks[name](ctx); err != nil {
			res.Status, res.Error = statusUnhealthy, err.Error()
			ok = false
		}
		res.DurationMS = time.Since(start).Milliseconds()
		resp.Checks[name] = res
	}
	if !ok {
		resp.Status = statusUnhealthy
	}
	return resp, ok
}

func (h *HealthHandler) engineStatus() *EngineStatus {
	if h.dedup == nil {
		return &EngineStatus{Status: statusUnhealthy}
	}
	st := &EngineStatus{Status: statusHealthy}
	pe, _ := h.dedup.(partitionErrer)
	for _, t := range h.dedup.Partitions() {
		st.Partitions++
		st.Records += h.dedup.PartitionSize(t)
		if pe == nil {
			continue
		}
		if err := pe.PartitionErr(t); err != nil {
			if st.Corrupted == nil {
				st.Corrupted = map[string]string{}
			}
			st.Corrupted[t] = err.Error()
			st.Status = statusDegraded
		}
	}
	return st
}

func (h *HealthHandler) runtimeStats() *RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &RuntimeStats{
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		GoVersion:   runtime.Version(),
		GitCommit:   GitCommit,
		BuildTime:   BuildTime,
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: m.HeapAlloc >> 20,
		HeapObjects: m.HeapObjects,
		GCCycles:    m.NumGC,
	}
}
