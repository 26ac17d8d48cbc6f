// Package routes provides shared route registration for the subledger API.
// The server and the OpenAPI generator register the same definitions so the
// published OpenAPI document cannot drift from what is served.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/subledger/internal/http/mw"
	"github.com/jmylchreest/subledger/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("Subledger API", version.Get().Short())
	cfg.Info.Description = "Subscription state for accounts billed through a payment gateway: status, renewal, cancellation and history."

	// No $schema field in responses
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Account token. The `sub` claim is the account id.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Subscription", Description: "Subscription status, renewal and cancellation", Extensions: map[string]any{"x-displayName": "Subscription"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
