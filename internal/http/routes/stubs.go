package routes

import (
	"context"

	"github.com/jmylchreest/subledger/internal/http/handlers"
)

// StubHandlers returns a Handlers instance with stub implementations.
// Huma only needs the signatures to build the OpenAPI document.
func StubHandlers() *Handlers {
	return &Handlers{
		HealthCheck:  handlers.HealthCheck,
		Livez:        handlers.Livez,
		Readyz:       handlers.NewReadyzHandler(nil).Readyz,
		Subscription: stubSubscriptionHandlers{},
	}
}

type stubSubscriptionHandlers struct{}

func (stubSubscriptionHandlers) GetStatus(_ context.Context, _ *struct{}) (*handlers.GetStatusOutput, error) {
	return nil, nil
}

func (stubSubscriptionHandlers) Renew(_ context.Context, _ *handlers.RenewInput) (*handlers.RenewOutput, error) {
	return nil, nil
}

func (stubSubscriptionHandlers) Cancel(_ context.Context, _ *struct{}) (*handlers.CancelOutput, error) {
	return nil, nil
}

func (stubSubscriptionHandlers) History(_ context.Context, _ *handlers.HistoryInput) (*handlers.HistoryOutput, error) {
	return nil, nil
}

func (stubSubscriptionHandlers) ListEvents(_ context.Context, _ *handlers.ListEventsInput) (*handlers.ListEventsOutput, error) {
	return nil, nil
}
