package routes

import (
	"context"

	"github.com/jmylchreest/subledger/internal/http/handlers"
)

// SubscriptionHandlers defines the account-facing subscription operations.
type SubscriptionHandlers interface {
	GetStatus(ctx context.Context, input *struct{}) (*handlers.GetStatusOutput, error)
	Renew(ctx context.Context, input *handlers.RenewInput) (*handlers.RenewOutput, error)
	Cancel(ctx context.Context, input *struct{}) (*handlers.CancelOutput, error)
	History(ctx context.Context, input *handlers.HistoryInput) (*handlers.HistoryOutput, error)
	ListEvents(ctx context.Context, input *handlers.ListEventsInput) (*handlers.ListEventsOutput, error)
}

// Handlers aggregates all handlers for route registration.
// For the main server, pass real handler implementations.
// For OpenAPI generation, pass stub implementations.
type Handlers struct {
	HealthCheck func(ctx context.Context, input *struct{}) (*handlers.HealthCheckOutput, error)

	// Probes (hidden from docs)
	Livez  func(ctx context.Context, input *struct{}) (*handlers.LivezOutput, error)
	Readyz func(ctx context.Context, input *struct{}) (*handlers.ReadyzOutput, error)

	Subscription SubscriptionHandlers
}
