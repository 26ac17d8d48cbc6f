package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/jmylchreest/subledger/internal/constants"
)

// PlansFile is the JSON document stored in S3 to override plan prices without
// a redeploy, e.g. {"currency": "usd", "tiers": {"tier1": 1900}}.
type PlansFile struct {
	Currency string           `json:"currency"`
	Tiers    map[string]int64 `json:"tiers"`
}

// PlanLoader serves plan prices, refreshing them from S3 in the background
// when a bucket key is configured. Env/defaults are used until then.
type PlanLoader struct {
	loader *S3Loader
	logger *slog.Logger

	mu    sync.RWMutex
	plans PlanConfig
}

// NewPlanLoader creates a loader seeded with static plans. loader may be nil.
func NewPlanLoader(static PlanConfig, loader *S3Loader, logger *slog.Logger) *PlanLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanLoader{loader: loader, plans: static, logger: logger}
}

// Plans returns the current plan prices and triggers a background refresh
// when the cache is stale.
func (p *PlanLoader) Plans(ctx context.Context) PlanConfig {
	p.mu.RLock()
	plans := p.plans
	p.mu.RUnlock()

	if p.loader != nil && p.loader.IsEnabled() && p.loader.NeedsRefresh() {
		go p.Refresh(context.WithoutCancel(ctx))
	}
	return plans
}

// Refresh fetches plan prices from S3 synchronously.
func (p *PlanLoader) Refresh(ctx context.Context) {
	if p.loader == nil {
		return
	}
	result, err := p.loader.Fetch(ctx)
	if err != nil || result == nil {
		return // Error already logged by S3Loader
	}
	if result.NotChanged {
		return
	}

	var file PlansFile
	if err := json.Unmarshal(result.Data, &file); err != nil {
		p.logger.Error("failed to parse plans JSON", "error", err)
		return
	}

	p.mu.Lock()
	// S3 values override the static ones tier by tier.
	merged := PlanConfig{Currency: p.plans.Currency, TierAmounts: make(map[string]int64, len(p.plans.TierAmounts))}
	for k, v := range p.plans.TierAmounts {
		merged.TierAmounts[k] = v
	}
	if file.Currency != "" {
		merged.Currency = strings.ToLower(file.Currency)
	}
	for tier, amount := range file.Tiers {
		if !constants.IsValidTier(tier) {
			p.logger.Warn("ignoring unknown tier in plans file", "tier", tier)
			continue
		}
		if amount < 0 {
			p.logger.Warn("ignoring negative plan amount", "tier", tier, "amount", amount)
			continue
		}
		merged.TierAmounts[tier] = amount
	}
	p.plans = merged
	p.mu.Unlock()

	stats := p.loader.Stats()
	p.logger.Info("plans loaded from S3",
		"bucket", stats.Bucket,
		"key", stats.Key,
		"etag", result.Etag,
		"tier_count", len(merged.TierAmounts),
	)
}
