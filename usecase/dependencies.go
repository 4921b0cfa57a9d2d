package usecase

import (
	"context"
	"time"

	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/messaging"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// Dependencies are the collaborators shared by the use cases
type Dependencies struct {
	Inventory      repository.InventoryRepository
	Baselines      repository.BaselineRepository
	Drifts         repository.DriftRepository
	Postures       repository.PostureRepository
	Snapshots      service.SnapshotProvider
	Exploitability service.ExploitabilityService
	ThreatIntel    service.ThreatIntelService
	Publisher      messaging.Publisher
	Collector      *metrics.Collector
	Clock          common.Clock
	Logger         *logging.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Exploitability == nil {
		d.Exploitability = service.StaticExploitability{}
	}
	if d.ThreatIntel == nil {
		d.ThreatIntel = service.NewStaticThreatIntel()
	}
	if d.Publisher == nil {
		d.Publisher = messaging.NopPublisher{}
	}
	if d.Collector == nil {
		d.Collector = metrics.NewCollector("risk_posture")
	}
	if d.Clock == nil {
		d.Clock = common.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	return d
}

// storeError passes AppErrors through and marks anything else as a store outage
func storeError(operation string, err error) error {
	if common.GetAppError(err) != nil {
		return err
	}
	return common.ErrStoreUnavailable(operation, err)
}

// publish sends an event. Delivery failures never fail the caller.
func publish(ctx context.Context, p messaging.Publisher, logger *logging.Logger, eventType, systemID string, at time.Time, payload interface{}) {
	event, err := messaging.NewEvent(eventType, systemID, at, payload)
	if err != nil {
		logger.Error("Failed to build event", logging.String("event_type", eventType), logging.Error(err))
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Debug("Event not delivered", logging.String("event_type", eventType), logging.Error(err))
	}
}
