package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/subledger/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
func Register(api huma.API, h *Handlers) {
	// =========================================================================
	// Public Routes (no auth required)
	// =========================================================================

	mw.PublicGet(api, "/api/v1/health", h.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	// Probes (hidden from docs)
	mw.HiddenGet(api, "/healthz", h.Livez)
	mw.HiddenGet(api, "/readyz", h.Readyz)

	// =========================================================================
	// Protected Routes (require bearer auth)
	// =========================================================================

	mw.ProtectedGet(api, "/api/v1/subscription/status", h.Subscription.GetStatus,
		mw.WithTags("Subscription"),
		mw.WithSummary("Get subscription status"),
		mw.WithDescription("Returns the current subscription record with derived expiry and grace period fields."),
		mw.WithOperationID("getSubscriptionStatus"))
	mw.ProtectedPost(api, "/api/v1/subscription/renew", h.Subscription.Renew,
		mw.WithTags("Subscription"),
		mw.WithSummary("Renew subscription"),
		mw.WithDescription("Charges the saved payment method and reactivates the subscription. A declined charge returns 200 with payment_failed set."),
		mw.WithOperationID("renewSubscription"),
		mw.WithErrors(http.StatusConflict, http.StatusNotFound, http.StatusServiceUnavailable))
	mw.ProtectedPost(api, "/api/v1/subscription/cancel", h.Subscription.Cancel,
		mw.WithTags("Subscription"),
		mw.WithSummary("Cancel subscription"),
		mw.WithDescription("Cancels at the end of the current period. Access continues until then. Repeating the call is a no-op."),
		mw.WithOperationID("cancelSubscription"),
		mw.WithErrors(http.StatusConflict, http.StatusNotFound))
	mw.ProtectedGet(api, "/api/v1/subscription/history", h.Subscription.History,
		mw.WithTags("Subscription"),
		mw.WithSummary("List subscription history"),
		mw.WithOperationID("listSubscriptionHistory"))
	mw.ProtectedGet(api, "/api/v1/subscription/events", h.Subscription.ListEvents,
		mw.WithTags("Subscription"),
		mw.WithSummary("List billing events"),
		mw.WithDescription("Recent gateway webhook deliveries for the account and how each was handled."),
		mw.WithOperationID("listBillingEvents"))
}
