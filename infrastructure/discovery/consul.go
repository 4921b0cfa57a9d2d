package discovery

import (
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/pkg/logging"
)

const (
	defaultCheckInterval = 10 * time.Second
	defaultCheckTimeout  = 2 * time.Second
	deregisterAfter      = time.Minute
)

// Registrar registers the engine's HTTP endpoint with a Consul agent
type Registrar struct {
	client *api.Client
	reg    *api.AgentServiceRegistration
	logger *logging.Logger
}

// NewRegistrar creates a Consul client for the configured agent
func NewRegistrar(cfg config.DiscoveryConfig, service config.ServiceConfig, host string, port int, logger *logging.Logger) (*Registrar, error) {
	consulCfg := api.DefaultConfig()
	if cfg.ConsulAddress != "" {
		consulCfg.Address = cfg.ConsulAddress
	}

	client, err := api.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &Registrar{
		client: client,
		reg:    BuildRegistration(cfg, service, host, port),
		logger: logger.WithComponent("discovery"),
	}, nil
}

// BuildRegistration describes the service and its readiness check
func BuildRegistration(cfg config.DiscoveryConfig, service config.ServiceConfig, host string, port int) *api.AgentServiceRegistration {
	id := cfg.ServiceID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", service.Name, host, port)
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	var tags []string
	if service.Environment != "" {
		tags = append(tags, service.Environment)
	}
	tags = append(tags, cfg.Tags...)

	return &api.AgentServiceRegistration{
		ID:      id,
		Name:    service.Name,
		Tags:    tags,
		Address: host,
		Port:    port,
		Meta: map[string]string{
			"version": service.Version,
		},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health/ready", host, port),
			Interval:                       interval.String(),
			Timeout:                        timeout.String(),
			DeregisterCriticalServiceAfter: deregisterAfter.String(),
		},
	}
}

// Register registers the service with the local agent
func (r *Registrar) Register() error {
	if err := r.client.Agent().ServiceRegister(r.reg); err != nil {
		return fmt.Errorf("failed to register service %s: %w", r.reg.ID, err)
	}
	r.logger.Info("Service registered with consul",
		logging.String("service_id", r.reg.ID),
		logging.String("address", r.reg.Address),
		logging.Int("port", r.reg.Port))
	return nil
}

// Deregister removes the service from the local agent
func (r *Registrar) Deregister() error {
	if err := r.client.Agent().ServiceDeregister(r.reg.ID); err != nil {
		return fmt.Errorf("failed to deregister service %s: %w", r.reg.ID, err)
	}
	r.logger.Info("Service deregistered from consul", logging.String("service_id", r.reg.ID))
	return nil
}
