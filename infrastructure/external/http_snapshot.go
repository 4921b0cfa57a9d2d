package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/shared/common"
)

const maxSnapshotBytes = 8 << 20

// HTTPSnapshotCollector fetches configuration snapshots from a collector agent API:
// GET {base}/systems/{id}/configuration returning a ConfigurationState document.
type HTTPSnapshotCollector struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
	now     func() time.Time
}

// NewHTTPSnapshotCollector creates a rate-limited, circuit-broken collector client
func NewHTTPSnapshotCollector(cfg config.CollectorConfig, clock common.Clock, logger *logging.Logger) (*HTTPSnapshotCollector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("collector base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid collector base URL: %w", err)
	}
	if clock == nil {
		clock = common.SystemClock{}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	logger = logger.WithComponent("snapshot_collector")
	return &HTTPSnapshotCollector{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: newCircuitBreaker("snapshot-collector", cfg.Breaker, logger),
		logger:  logger,
		now:     clock.Now,
	}, nil
}

// Snapshot fetches the current configuration of systemID. A 404 from the collector
// maps to service.ErrSnapshotUnavailable and does not count against the breaker.
func (c *HTTPSnapshotCollector) Snapshot(ctx context.Context, systemID string) (*entity.ConfigurationSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("snapshot rate limiter: %w", err)
	}

	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, systemID)
	})
	if err != nil {
		c.logger.Warn("Snapshot collection failed", logging.String("system_id", systemID), logging.Error(err))
		return nil, common.ErrExternalService("snapshot-collector", err)
	}

	state, _ := res.(*entity.ConfigurationState)
	if state == nil {
		return nil, service.ErrSnapshotUnavailable
	}

	c.logger.Debug("Snapshot collected", logging.String("system_id", systemID), logging.Duration("duration", time.Since(start)))
	return entity.NewSnapshot(systemID, *state, c.now())
}

func (c *HTTPSnapshotCollector) fetch(ctx context.Context, systemID string) (*entity.ConfigurationState, error) {
	endpoint := fmt.Sprintf("%s/systems/%s/configuration", c.baseURL, url.PathEscape(systemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("collector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var state entity.ConfigurationState
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSnapshotBytes)).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &state, nil
}

var _ service.SnapshotProvider = (*HTTPSnapshotCollector)(nil)
