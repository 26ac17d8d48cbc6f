// Package billing turns gateway webhook payloads into subscription state changes.
// Nothing here performs I/O; the service layer wraps it with lookups and store writes.
package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/subledger/internal/constants"
	"github.com/jmylchreest/subledger/internal/period"
)

// Kind classifies gateway event types into the transitions we act on.
type Kind string

const (
	KindUnknown              Kind = ""
	KindChargeSucceeded      Kind = "charge_succeeded"
	KindInvoicePaid          Kind = "invoice_paid"
	KindInvoicePaymentFailed Kind = "invoice_payment_failed"
	KindSubscriptionCreated  Kind = "subscription_created"
	KindSubscriptionUpdated  Kind = "subscription_updated"
	KindSubscriptionDeleted  Kind = "subscription_deleted"
)

var kindsByType = map[string]Kind{
	"payment_intent.succeeded":      KindChargeSucceeded,
	"charge.succeeded":              KindChargeSucceeded,
	"invoice.paid":                  KindInvoicePaid,
	"invoice.payment_succeeded":     KindInvoicePaid,
	"invoice.payment_failed":        KindInvoicePaymentFailed,
	"customer.subscription.created": KindSubscriptionCreated,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
}

// KindOf maps a gateway event type to its Kind.
func KindOf(eventType string) Kind {
	return kindsByType[eventType]
}

// ErrMalformedEnvelope is returned when the body is not a JSON object.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// correlationKeys are the metadata keys checked, in order, for the account id.
var correlationKeys = []string{"account_id", "accountId", "user_id", "userId"}

// Event is a parsed webhook delivery with the fields handlers need.
type Event struct {
	ID       string
	Type     string
	Kind     Kind
	ObjectID string
	Object   map[string]any

	AccountID      string // Correlation id, empty when the payload carries none
	Tier           string // Normalized tier, empty when absent or unknown
	CustomerID     string
	SubscriptionID string
	GatewayStatus  string // Gateway-side subscription status, subscription events only
	// CancelAtPeriodEnd is set when the gateway subscription is scheduled to end.
	CancelAtPeriodEnd bool

	AmountMinor   *int64
	Currency      string
	PaymentMethod string

	Period period.Period
}

type envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a webhook body. Only a body that is not a JSON object is
// an error; unknown or missing types produce an Event with KindUnknown.
func ParseEvent(body []byte, now time.Time) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	obj := map[string]any{}
	if len(env.Data) > 0 {
		var data map[string]any
		dec := json.NewDecoder(bytes.NewReader(env.Data))
		dec.UseNumber()
		// data may legitimately be null or a scalar for events we ignore.
		if err := dec.Decode(&data); err == nil && data != nil {
			if inner, ok := data["object"].(map[string]any); ok {
				obj = inner
			} else {
				obj = data
			}
		}
	}

	ev := &Event{
		ID:     env.ID,
		Type:   env.Type,
		Kind:   KindOf(env.Type),
		Object: obj,
	}
	ev.ObjectID = str(obj, "id")
	ev.AccountID = correlationID(obj)
	ev.Tier = tierFrom(obj)
	ev.CustomerID = idOf(obj["customer"])
	ev.SubscriptionID = subscriptionIDOf(obj)
	ev.Currency = strings.ToLower(str(obj, "currency"))
	ev.AmountMinor = amountOf(obj)
	ev.PaymentMethod = paymentMethodOf(obj)
	if str(obj, "object") == "subscription" {
		ev.GatewayStatus = str(obj, "status")
		ev.CancelAtPeriodEnd, _ = obj["cancel_at_period_end"].(bool)
	}
	ev.Period = period.Resolve(period.FieldsFromObject(obj), now)

	return ev, nil
}

// AmountMajor converts the minor-unit amount to major units.
func (e *Event) AmountMajor() *float64 {
	if e.AmountMinor == nil {
		return nil
	}
	v := float64(*e.AmountMinor) / 100
	return &v
}

func correlationID(obj map[string]any) string {
	if id := fromMetadata(obj["metadata"]); id != "" {
		return id
	}
	if details, ok := obj["subscription_details"].(map[string]any); ok {
		if id := fromMetadata(details["metadata"]); id != "" {
			return id
		}
	}
	if parent, ok := obj["parent"].(map[string]any); ok {
		if details, ok := parent["subscription_details"].(map[string]any); ok {
			if id := fromMetadata(details["metadata"]); id != "" {
				return id
			}
		}
	}
	if line := firstLine(obj); line != nil {
		return fromMetadata(line["metadata"])
	}
	return ""
}

func fromMetadata(v any) string {
	md, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	for _, k := range correlationKeys {
		if s, ok := md[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func tierFrom(obj map[string]any) string {
	candidates := []any{obj["metadata"]}
	if details, ok := obj["subscription_details"].(map[string]any); ok {
		candidates = append(candidates, details["metadata"])
	}
	if line := firstLine(obj); line != nil {
		candidates = append(candidates, line["metadata"])
	}
	for _, c := range candidates {
		md, ok := c.(map[string]any)
		if !ok {
			continue
		}
		raw, _ := md["tier"].(string)
		if raw == "" {
			continue
		}
		if tier, ok := constants.NormalizeTierName(raw); ok {
			return tier
		}
	}
	return ""
}

func firstLine(obj map[string]any) map[string]any {
	for _, key := range []string{"lines", "items"} {
		container, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		data, ok := container["data"].([]any)
		if !ok || len(data) == 0 {
			continue
		}
		if line, ok := data[0].(map[string]any); ok {
			return line
		}
	}
	return nil
}

func subscriptionIDOf(obj map[string]any) string {
	if str(obj, "object") == "subscription" {
		return str(obj, "id")
	}
	if id := idOf(obj["subscription"]); id != "" {
		return id
	}
	if parent, ok := obj["parent"].(map[string]any); ok {
		if details, ok := parent["subscription_details"].(map[string]any); ok {
			if id := idOf(details["subscription"]); id != "" {
				return id
			}
		}
	}
	if md, ok := obj["metadata"].(map[string]any); ok {
		if s, ok := md["subscription_id"].(string); ok {
			return s
		}
	}
	return ""
}

func amountOf(obj map[string]any) *int64 {
	for _, key := range []string{"amount_paid", "amount_received", "amount_captured", "amount"} {
		n, ok := obj[key].(json.Number)
		if !ok {
			continue
		}
		v, err := n.Int64()
		if err != nil || v < 0 {
			continue
		}
		return &v
	}
	return nil
}

func paymentMethodOf(obj map[string]any) string {
	if details, ok := obj["payment_method_details"].(map[string]any); ok {
		if s, ok := details["type"].(string); ok {
			return s
		}
	}
	if types, ok := obj["payment_method_types"].([]any); ok && len(types) > 0 {
		if s, ok := types[0].(string); ok {
			return s
		}
	}
	return ""
}

// idOf accepts either an expanded object or a bare id string.
func idOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		s, _ := t["id"].(string)
		return s
	}
	return ""
}

func str(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
