package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/subledger/internal/config"
	"github.com/jmylchreest/subledger/internal/gateway"
	"github.com/jmylchreest/subledger/internal/lock"
	"github.com/jmylchreest/subledger/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Events       *EventHandlers
	Renewal      *RenewalService
	Subscription *SubscriptionService
	Storage      *StorageService
	Plans        *config.PlanLoader
}

// NewServices creates all service instances. gw may be nil when no gateway
// API key is configured; webhooks still apply but renewals are unavailable.
func NewServices(cfg *config.Config, repos *repository.Repositories, gw gateway.Gateway, locker lock.Locker, logger *slog.Logger) (*Services, error) {
	storageSvc, err := NewStorageService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	// Plan prices come from env, optionally overridden by a JSON file in the bucket.
	var planS3 *config.S3Loader
	if cfg.PlansKey != "" && storageSvc.IsEnabled() {
		planS3 = config.NewS3Loader(config.S3LoaderConfig{
			S3Client: storageSvc.Client(),
			Bucket:   storageSvc.Bucket(),
			Key:      cfg.PlansKey,
			Logger:   logger,
		})
	}
	plans := config.NewPlanLoader(cfg.Plans, planS3, logger)
	plans.Refresh(context.Background())

	events := NewEventHandlers(repos.Subscription, gw, EventHandlersConfig{
		GatewayTimeout: cfg.GatewayTimeout,
		StoreTimeout:   cfg.StoreTimeout,
	}, logger)

	renewal := NewRenewalService(repos.Subscription, gw, plans, locker, RenewalServiceConfig{
		LockTTL:        cfg.RenewalLockTTL,
		GatewayTimeout: cfg.GatewayTimeout,
		StoreTimeout:   cfg.StoreTimeout,
	}, logger)

	return &Services{
		Events:       events,
		Renewal:      renewal,
		Subscription: NewSubscriptionService(repos.Subscription, gw, cfg.GatewayTimeout, logger),
		Storage:      storageSvc,
		Plans:        plans,
	}, nil
}
