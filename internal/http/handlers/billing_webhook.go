package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/subledger/internal/billing"
	"github.com/jmylchreest/subledger/internal/metrics"
	"github.com/jmylchreest/subledger/internal/models"
	"github.com/jmylchreest/subledger/internal/service"
	"github.com/jmylchreest/subledger/internal/webhook"
)

const maxWebhookBodySize = 65536 // 64KB

// EventHandler applies a parsed billing event.
type EventHandler interface {
	Handle(ctx context.Context, ev *billing.Event) billing.Result
}

// EventRecorder keeps a log of verified deliveries.
type EventRecorder interface {
	Create(ctx context.Context, event *models.BillingEvent) error
	CountByGatewayID(ctx context.Context, gatewayID string) (int, error)
}

// EventArchive stores raw payloads.
type EventArchive interface {
	StoreEvent(ctx context.Context, ev service.ArchivedEvent) (string, error)
}

// BillingWebhookConfig holds optional collaborators of the webhook handler.
type BillingWebhookConfig struct {
	Recorder     EventRecorder // Optional
	Archive      EventArchive  // Optional
	StoreTimeout time.Duration
}

// BillingWebhookHandler is the ingress for gateway webhooks.
type BillingWebhookHandler struct {
	verifier     webhook.Verifier
	events       EventHandler
	recorder     EventRecorder
	archive      EventArchive
	storeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewBillingWebhookHandler creates a new webhook handler.
func NewBillingWebhookHandler(verifier webhook.Verifier, events EventHandler, cfg BillingWebhookConfig, logger *slog.Logger) *BillingWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &BillingWebhookHandler{
		verifier:     verifier,
		events:       events,
		recorder:     cfg.Recorder,
		archive:      cfg.Archive,
		storeTimeout: cfg.StoreTimeout,
		logger:       logger.With("component", "billing-webhook"),
		now:          time.Now,
	}
}

// HandleWebhook processes an incoming webhook.
// This is a raw HTTP handler since huma doesn't handle raw body verification well.
// Any event that parses is acknowledged with 200 whatever the handler outcome,
// so the gateway does not retry deliveries we already failed to apply.
func (h *BillingWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		status = http.StatusBadRequest
		writeJSONError(w, status, "failed to read body")
		return
	}

	if err := h.verifier.Verify(payload, r.Header); err != nil {
		h.logger.Warn("rejected webhook", "error", err)
		status = http.StatusBadRequest
		writeJSONError(w, status, "invalid signature")
		return
	}

	receivedAt := h.now()
	ev, err := billing.ParseEvent(payload, receivedAt)
	if err != nil {
		h.logger.Error("failed to parse webhook body", "error", err)
		status = http.StatusInternalServerError
		writeJSONError(w, status, "unparseable event")
		return
	}
	if ev.Type != "" {
		eventType = ev.Type
	}

	h.archiveEvent(r.Context(), ev, payload, receivedAt)

	result := h.events.Handle(r.Context(), ev)
	h.logResult(ev, result)
	metrics.WebhookOutcomesTotal.WithLabelValues(eventType, string(result.Outcome)).Inc()
	h.recordEvent(r.Context(), ev, result, receivedAt)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

func (h *BillingWebhookHandler) logResult(ev *billing.Event, result billing.Result) {
	attrs := []any{
		"event_id", ev.ID,
		"event_type", ev.Type,
		"outcome", result.Outcome,
	}
	if result.AccountID != "" {
		attrs = append(attrs, "account_id", result.AccountID)
	}
	if result.Reason != "" {
		attrs = append(attrs, "reason", result.Reason)
	}

	switch result.Outcome {
	case billing.OutcomeFailed:
		h.logger.Error("billing event not applied", append(attrs, "error", result.Err)...)
	case billing.OutcomeIgnored:
		h.logger.Debug("billing event ignored", attrs...)
	default:
		h.logger.Info("billing event handled", attrs...)
	}
}

// recordEvent writes the delivery log entry. Failures are logged only.
func (h *BillingWebhookHandler) recordEvent(ctx context.Context, ev *billing.Event, result billing.Result, receivedAt time.Time) {
	if h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.storeTimeout)
	defer cancel()

	if ev.ID != "" {
		if prior, err := h.recorder.CountByGatewayID(ctx, ev.ID); err == nil && prior > 0 {
			metrics.WebhookRedeliveriesTotal.WithLabelValues(ev.Type).Inc()
			h.logger.Info("billing event redelivered",
				"event_id", ev.ID,
				"event_type", ev.Type,
				"previous_deliveries", prior,
			)
		}
	}

	err := h.recorder.Create(ctx, &models.BillingEvent{
		ID:         ulid.Make().String(),
		GatewayID:  ev.ID,
		Type:       ev.Type,
		AccountID:  result.AccountID,
		Outcome:    string(result.Outcome),
		Error:      result.ErrorString(),
		ReceivedAt: receivedAt,
	})
	if err != nil {
		h.logger.Warn("failed to record billing event", "event_id", ev.ID, "error", err)
	}
}

// archiveEvent stores the raw payload. Failures are logged only.
func (h *BillingWebhookHandler) archiveEvent(ctx context.Context, ev *billing.Event, payload []byte, receivedAt time.Time) {
	if h.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.storeTimeout)
	defer cancel()

	if _, err := h.archive.StoreEvent(ctx, service.ArchivedEvent{
		GatewayID:  ev.ID,
		Type:       ev.Type,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}); err != nil {
		h.logger.Warn("failed to archive billing event", "event_id", ev.ID, "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

