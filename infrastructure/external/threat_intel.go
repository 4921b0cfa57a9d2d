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

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/cache"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/shared/common"
)

const (
	intelCacheTTL     = 10 * time.Minute
	intelCacheEntries = 4096
)

type vulnerabilityIntel struct {
	ThreatScore    float64 `json:"threat_score"`
	Exploitability float64 `json:"exploitability"`
}

type exposureIntel struct {
	BaseExposure float64 `json:"base_exposure"`
}

// FeedThreatIntel queries a threat-intel feed and falls back to static scoring
// whenever the feed is unreachable or the breaker is open.
//
//	GET {feed}/vulnerabilities/{cve}      -> {"threat_score", "exploitability"}
//	GET {feed}/systems/{id}/exposure      -> {"base_exposure"}
//	GET {feed}/landscape?industry={name}  -> ThreatLandscape
type FeedThreatIntel struct {
	feedURL   string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	fallback  *service.StaticThreatIntel
	exploit   service.StaticExploitability
	vulns     *cache.TTLCache[vulnerabilityIntel]
	exposure  *cache.TTLCache[float64]
	landscape *cache.TTLCache[service.ThreatLandscape]
	logger    *logging.Logger
}

// NewFeedThreatIntel creates a feed client
func NewFeedThreatIntel(cfg config.IntelConfig, clock common.Clock, logger *logging.Logger) (*FeedThreatIntel, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("threat intel feed URL is required")
	}

	logger = logger.WithComponent("threat_intel")
	vulns, err := cache.NewTTLCache[vulnerabilityIntel]("intel_vulnerability", intelCacheEntries, clock)
	if err != nil {
		return nil, err
	}
	exposure, err := cache.NewTTLCache[float64]("intel_exposure", intelCacheEntries, clock)
	if err != nil {
		return nil, err
	}
	landscape, err := cache.NewTTLCache[service.ThreatLandscape]("intel_landscape", intelCacheEntries, clock)
	if err != nil {
		return nil, err
	}

	return &FeedThreatIntel{
		feedURL:   strings.TrimRight(cfg.FeedURL, "/"),
		client:    &http.Client{Timeout: cfg.Timeout},
		breaker:   newCircuitBreaker("threat-intel", cfg.Breaker, logger),
		fallback:  service.NewStaticThreatIntel(),
		vulns:     vulns,
		exposure:  exposure,
		landscape: landscape,
		logger:    logger,
	}, nil
}

func (f *FeedThreatIntel) vulnerability(ctx context.Context, vuln *entity.Vulnerability) (*vulnerabilityIntel, error) {
	if vuln.CVE == "" {
		return nil, fmt.Errorf("vulnerability %s has no CVE", vuln.ID)
	}
	v, _, err := f.vulns.GetOrCompute(ctx, vuln.CVE, intelCacheTTL, false, func(ctx context.Context) (vulnerabilityIntel, error) {
		var out vulnerabilityIntel
		err := f.get(ctx, "/vulnerabilities/"+url.PathEscape(vuln.CVE), &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ThreatContext returns the feed's threat score for the CVE
func (f *FeedThreatIntel) ThreatContext(ctx context.Context, vuln *entity.Vulnerability) (float64, error) {
	intel, err := f.vulnerability(ctx, vuln)
	if err != nil {
		f.logger.Debug("Using static threat context", logging.String("vulnerability_id", vuln.ID), logging.Error(err))
		return f.fallback.ThreatContext(ctx, vuln)
	}
	return entity.ClampScore(intel.ThreatScore), nil
}

// Exploitability returns the feed's exploitability score for the CVE
func (f *FeedThreatIntel) Exploitability(ctx context.Context, vuln *entity.Vulnerability) (float64, error) {
	if vuln.KnownExploited {
		return f.exploit.Exploitability(ctx, vuln)
	}
	intel, err := f.vulnerability(ctx, vuln)
	if err != nil {
		return f.exploit.Exploitability(ctx, vuln)
	}
	return entity.ClampScore(intel.Exploitability), nil
}

func (f *FeedThreatIntel) BaseExposure(ctx context.Context, system *entity.System) (float64, error) {
	base, _, err := f.exposure.GetOrCompute(ctx, system.ID, intelCacheTTL, false, func(ctx context.Context) (float64, error) {
		var out exposureIntel
		if err := f.get(ctx, "/systems/"+url.PathEscape(system.ID)+"/exposure", &out); err != nil {
			return 0, err
		}
		return entity.ClampScore(out.BaseExposure), nil
	})
	if err != nil {
		f.logger.Warn("Threat feed exposure lookup failed, using static base", logging.String("system_id", system.ID), logging.Error(err))
		return f.fallback.BaseExposure(ctx, system)
	}
	return base, nil
}

func (f *FeedThreatIntel) Landscape(ctx context.Context, system *entity.System) (*service.ThreatLandscape, error) {
	l, _, err := f.landscape.GetOrCompute(ctx, system.Industry, intelCacheTTL, false, func(ctx context.Context) (service.ThreatLandscape, error) {
		var out service.ThreatLandscape
		err := f.get(ctx, "/landscape?industry="+url.QueryEscape(system.Industry), &out)
		return out, err
	})
	if err != nil {
		f.logger.Warn("Threat feed landscape lookup failed, using static landscape", logging.String("industry", system.Industry), logging.Error(err))
		return f.fallback.Landscape(ctx, system)
	}
	return &l, nil
}

func (f *FeedThreatIntel) get(ctx context.Context, path string, out interface{}) error {
	_, err := f.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("threat feed returned %d for %s", resp.StatusCode, path)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		return common.ErrExternalService("threat-intel", err)
	}
	return nil
}

var (
	_ service.ThreatIntelService    = (*FeedThreatIntel)(nil)
	_ service.ExploitabilityService = (*FeedThreatIntel)(nil)
)
