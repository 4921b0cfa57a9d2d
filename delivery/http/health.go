package http

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/isectech/risk-posture-engine/pkg/logging"
)

// CheckFunc checks one dependency
type CheckFunc func(ctx context.Context) error

// InfoFunc reports a status value that is shown by readiness but never fails it
type InfoFunc func() string

// HealthResponse is returned by the health endpoints
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks,omitempty"`
	Info      map[string]string      `json:"info,omitempty"`
}

// HealthCheck is the outcome of one readiness check
type HealthCheck struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// HealthHandler serves liveness and readiness checks
type HealthHandler struct {
	service   string
	version   string
	startTime time.Time
	timeout   time.Duration
	logger    *logging.Logger

	mu     sync.RWMutex
	checks map[string]CheckFunc
	info   map[string]InfoFunc
}

// NewHealthHandler creates a handler with no readiness checks
func NewHealthHandler(service, version string, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		service:   service,
		version:   version,
		startTime: time.Now(),
		timeout:   2 * time.Second,
		logger:    logger.WithComponent("health"),
		checks:    make(map[string]CheckFunc),
		info:      make(map[string]InfoFunc),
	}
}

// AddCheck registers a readiness check under name
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// AddInfo registers an informational readiness field under name
func (h *HealthHandler) AddInfo(name string, fn InfoFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info[name] = fn
}

// Liveness reports that the process is serving
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.response("alive", nil))
}

// Readiness runs every registered check and answers 503 if any fails
func (h *HealthHandler) Readiness(c *gin.Context) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	results := make(map[string]HealthCheck, len(names))
	ready := true
	for _, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()

		start := time.Now()
		err := check(ctx)
		result := HealthCheck{Status: "healthy", Duration: time.Since(start).String()}
		if err != nil {
			ready = false
			result.Status = "unhealthy"
			result.Message = err.Error()
			h.logger.Warn("Readiness check failed", logging.String("check", name), logging.Error(err))
		}
		results[name] = result
	}

	h.mu.RLock()
	var info map[string]string
	if len(h.info) > 0 {
		info = make(map[string]string, len(h.info))
		for name, fn := range h.info {
			info[name] = fn()
		}
	}
	h.mu.RUnlock()

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	resp := h.response(status, results)
	resp.Info = info
	c.JSON(code, resp)
}

func (h *HealthHandler) response(status string, checks map[string]HealthCheck) HealthResponse {
	return HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Service:   h.service,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    checks,
	}
}
