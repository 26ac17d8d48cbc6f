package config

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/subledger/internal/constants"
)

// PlanConfig holds the price charged per tier on renewal.
type PlanConfig struct {
	// Currency is the ISO currency code charged, lower case.
	Currency string

	// TierAmounts is the renewal price per tier in minor units (cents).
	TierAmounts map[string]int64
}

// DefaultPlanConfig returns the default plan prices.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Currency: "usd",
		TierAmounts: map[string]int64{
			constants.Tier1: 1900, // $19
			constants.Tier2: 4900, // $49
		},
	}
}

// Amount returns the renewal price for a tier. Tiers without a positive price
// (none, trial, unknown) cannot be renewed by charge.
func (c *PlanConfig) Amount(tier string) (int64, bool) {
	amount, ok := c.TierAmounts[tier]
	if !ok || amount <= 0 {
		return 0, false
	}
	return amount, true
}

// loadPlanConfig applies PLAN_CURRENCY and PLAN_<TIER>_AMOUNT overrides.
func loadPlanConfig() (PlanConfig, error) {
	plans := DefaultPlanConfig()
	plans.Currency = strings.ToLower(getEnv("PLAN_CURRENCY", plans.Currency))

	for _, tier := range []string{constants.TierTrial, constants.Tier1, constants.Tier2} {
		key := "PLAN_" + strings.ToUpper(tier) + "_AMOUNT"
		amount := getEnvInt64(key, plans.TierAmounts[tier])
		if amount < 0 {
			return PlanConfig{}, fmt.Errorf("%s must not be negative", key)
		}
		if amount > 0 {
			plans.TierAmounts[tier] = amount
		}
	}
	return plans, nil
}
