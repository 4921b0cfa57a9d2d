package external

import (
	"github.com/sony/gobreaker"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/pkg/logging"
)

const defaultFailureThreshold = 5

func newCircuitBreaker(name string, cfg config.CircuitBreakerConfig, logger *logging.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.String("name", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()))
		},
	})
}
