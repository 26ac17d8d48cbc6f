package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/subledger/internal/models"
	"github.com/jmylchreest/subledger/internal/period"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, body string) *Event {
	t.Helper()
	ev, err := ParseEvent([]byte(body), now)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	return ev
}

// ==== ParseEvent ====

func TestParseEvent_Malformed(t *testing.T) {
	for _, body := range []string{"", "not json", "[1,2]", `{"type": 5}`} {
		if _, err := ParseEvent([]byte(body), now); !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("ParseEvent(%q) err = %v, want ErrMalformedEnvelope", body, err)
		}
	}
}

func TestParseEvent_UnknownTypeStillParses(t *testing.T) {
	ev := mustParse(t, `{"id": "evt_1", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)
	if ev.Kind != KindUnknown {
		t.Errorf("Kind = %q, want unknown", ev.Kind)
	}
	if ev.ID != "evt_1" || ev.ObjectID != "cus_1" {
		t.Errorf("ID=%q ObjectID=%q", ev.ID, ev.ObjectID)
	}
}

func TestParseEvent_DataWithoutObject(t *testing.T) {
	ev := mustParse(t, `{"type": "invoice.paid", "data": {"id": "in_1", "metadata": {"account_id": "acct_1"}}}`)
	if ev.ObjectID != "in_1" || ev.AccountID != "acct_1" {
		t.Errorf("ObjectID=%q AccountID=%q", ev.ObjectID, ev.AccountID)
	}
}

func TestParseEvent_NullData(t *testing.T) {
	ev := mustParse(t, `{"type": "invoice.paid", "data": null}`)
	if ev.AccountID != "" || ev.Object == nil {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Period.Source != period.SourceFallback {
		t.Errorf("Source = %q, want fallback", ev.Period.Source)
	}
}

func TestParseEvent_CorrelationID(t *testing.T) {
	tests := []struct {
		name string
		obj  string
		want string
	}{
		{"top-level metadata", `{"metadata": {"account_id": "acct_top"}}`, "acct_top"},
		{"camel case alias", `{"metadata": {"accountId": "acct_camel"}}`, "acct_camel"},
		{"user_id alias", `{"metadata": {"user_id": "acct_user"}}`, "acct_user"},
		{"subscription details", `{"metadata": {}, "subscription_details": {"metadata": {"account_id": "acct_sd"}}}`, "acct_sd"},
		{"invoice parent", `{"parent": {"subscription_details": {"metadata": {"account_id": "acct_parent"}}}}`, "acct_parent"},
		{"first line item", `{"lines": {"data": [{"metadata": {"account_id": "acct_line"}}]}}`, "acct_line"},
		{"blank value ignored", `{"metadata": {"account_id": "  "}}`, ""},
		{"non-string ignored", `{"metadata": {"account_id": 42}}`, ""},
		{"absent", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := mustParse(t, `{"type": "invoice.paid", "data": {"object": `+tt.obj+`}}`)
			if ev.AccountID != tt.want {
				t.Errorf("AccountID = %q, want %q", ev.AccountID, tt.want)
			}
		})
	}
}

func TestParseEvent_InvoiceFields(t *testing.T) {
	ev := mustParse(t, `{
		"id": "evt_inv",
		"type": "invoice.paid",
		"data": {"object": {
			"object": "invoice",
			"id": "in_123",
			"customer": "cus_9",
			"subscription": "sub_9",
			"amount_paid": 1999,
			"currency": "USD",
			"metadata": {"account_id": "acct_1", "tier": "pro"},
			"lines": {"data": [{"period": {"start": 1700000000, "end": 1702592000}}]}
		}}
	}`)

	if ev.Kind != KindInvoicePaid {
		t.Errorf("Kind = %q", ev.Kind)
	}
	if ev.Tier != "tier2" {
		t.Errorf("Tier = %q, want tier2", ev.Tier)
	}
	if ev.CustomerID != "cus_9" || ev.SubscriptionID != "sub_9" {
		t.Errorf("CustomerID=%q SubscriptionID=%q", ev.CustomerID, ev.SubscriptionID)
	}
	if got := ev.AmountMajor(); got == nil || *got != 19.99 {
		t.Errorf("AmountMajor = %v, want 19.99", got)
	}
	if ev.Currency != "usd" {
		t.Errorf("Currency = %q", ev.Currency)
	}
	if ev.Period.Source != period.SourceLineItem || ev.Period.Start.Unix() != 1700000000 {
		t.Errorf("Period = %+v", ev.Period)
	}
}

func TestParseEvent_ExpandedCustomer(t *testing.T) {
	ev := mustParse(t, `{"type": "charge.succeeded", "data": {"object": {"customer": {"id": "cus_x"}, "payment_method_details": {"type": "card"}}}}`)
	if ev.CustomerID != "cus_x" || ev.PaymentMethod != "card" {
		t.Errorf("CustomerID=%q PaymentMethod=%q", ev.CustomerID, ev.PaymentMethod)
	}
}

func TestParseEvent_UnknownTierIgnored(t *testing.T) {
	ev := mustParse(t, `{"type": "customer.subscription.created", "data": {"object": {"metadata": {"account_id": "a", "tier": "platinum"}}}}`)
	if ev.Tier != "" {
		t.Errorf("Tier = %q, want empty", ev.Tier)
	}
}

// ==== Transition ====

func TestTransition_ScenarioA_SubscriptionCreated(t *testing.T) {
	ev := mustParse(t, `{
		"type": "customer.subscription.created",
		"data": {"object": {
			"object": "subscription",
			"id": "sub_A",
			"status": "active",
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"metadata": {"account_id": "acct_A", "tier": "tier1"}
		}}
	}`)

	d := Transition(*models.EmptySubscription("acct_A"), ev, now)
	if !d.Apply {
		t.Fatalf("expected Apply, skip=%q", d.Skip)
	}

	next := d.Update.ApplyTo(*models.EmptySubscription("acct_A"))
	if next.Status != models.StatusActive {
		t.Errorf("Status = %q", next.Status)
	}
	if next.Tier != "tier1" {
		t.Errorf("Tier = %q", next.Tier)
	}
	if got := next.StartDate.Format(time.RFC3339); got != "2023-11-14T22:13:20Z" {
		t.Errorf("StartDate = %s", got)
	}
	if got := next.EndDate.Format(time.RFC3339); got != "2023-12-14T22:13:20Z" {
		t.Errorf("EndDate = %s", got)
	}
	if next.ExternalSubscriptionID != "sub_A" {
		t.Errorf("ExternalSubscriptionID = %q", next.ExternalSubscriptionID)
	}
	if d.Update.ChangeReason != "New subscription created" {
		t.Errorf("ChangeReason = %q", d.Update.ChangeReason)
	}
}

func TestTransition_ScenarioB_PaymentFailedExpiresImmediately(t *testing.T) {
	start := now.AddDate(0, 0, -10)
	end := now.AddDate(0, 0, 20) // period still running
	current := models.Subscription{AccountID: "acct_B", Tier: "tier1", Status: models.StatusActive, StartDate: &start, EndDate: &end}

	ev := mustParse(t, `{"type": "invoice.payment_failed", "data": {"object": {"metadata": {"account_id": "acct_B"}}}}`)
	d := Transition(current, ev, now)
	if !d.Apply {
		t.Fatalf("expected Apply, skip=%q", d.Skip)
	}

	next := d.Update.ApplyTo(current)
	if next.Status != models.StatusExpired {
		t.Errorf("Status = %q, want expired", next.Status)
	}
	if !next.EndDate.Equal(end) || !next.StartDate.Equal(start) {
		t.Error("payment failure must not touch dates")
	}
}

func TestTransition_UnknownTypeNoUpdate(t *testing.T) {
	ev := mustParse(t, `{"type": "customer.created", "data": {"object": {"metadata": {"account_id": "a"}}}}`)
	d := Transition(*models.EmptySubscription("a"), ev, now)
	if d.Apply || !d.Update.IsEmpty() {
		t.Errorf("unknown type produced update: %+v", d)
	}
}

func TestTransition_MissingCorrelationNoUpdate(t *testing.T) {
	ev := mustParse(t, `{"type": "invoice.paid", "data": {"object": {"amount_paid": 500}}}`)
	d := Transition(models.Subscription{}, ev, now)
	if d.Apply {
		t.Error("expected no update without correlation id")
	}
	if d.Skip != "missing correlation id" {
		t.Errorf("Skip = %q", d.Skip)
	}
}

func TestTransition_SubscriptionUpdatedStatusMapping(t *testing.T) {
	tests := []struct {
		gateway string
		want    models.SubscriptionStatus
	}{
		{"active", models.StatusActive},
		{"trialing", models.StatusActive},
		{"past_due", models.StatusCancelled},
		{"canceled", models.StatusCancelled},
		{"", models.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			ev := mustParse(t, `{"type": "customer.subscription.updated", "data": {"object": {
				"object": "subscription", "status": "`+tt.gateway+`", "metadata": {"account_id": "a"}}}}`)
			d := Transition(*models.EmptySubscription("a"), ev, now)
			if d.Update.Status == nil || *d.Update.Status != tt.want {
				t.Errorf("Status = %v, want %q", d.Update.Status, tt.want)
			}
			if d.Update.StartDate == nil || d.Update.EndDate == nil {
				t.Error("dates should be re-resolved")
			}
		})
	}
}

func TestTransition_SubscriptionUpdatedScheduledCancel(t *testing.T) {
	ev := mustParse(t, `{"type": "customer.subscription.updated", "data": {"object": {
		"object": "subscription", "status": "active", "cancel_at_period_end": true,
		"metadata": {"account_id": "a"}}}}`)
	if !ev.CancelAtPeriodEnd {
		t.Fatal("CancelAtPeriodEnd not parsed")
	}

	d := Transition(*models.EmptySubscription("a"), ev, now)
	if *d.Update.Status != models.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", *d.Update.Status)
	}
}

func TestTransition_SubscriptionDeletedEndsNow(t *testing.T) {
	start := now.AddDate(0, 0, -5)
	end := now.AddDate(0, 0, 25)
	current := models.Subscription{AccountID: "a", Status: models.StatusActive, StartDate: &start, EndDate: &end}

	ev := mustParse(t, `{"type": "customer.subscription.deleted", "data": {"object": {"metadata": {"account_id": "a"}}}}`)
	d := Transition(current, ev, now)

	if *d.Update.Status != models.StatusCancelled {
		t.Errorf("Status = %q", *d.Update.Status)
	}
	if !d.Update.EndDate.Equal(now) {
		t.Errorf("EndDate = %v, want %v", d.Update.EndDate, now)
	}
	if d.Update.StartDate != nil {
		t.Error("start date should be left alone")
	}
}

func TestTransition_SubscriptionDeletedFutureStart(t *testing.T) {
	start := now.AddDate(0, 0, 2)
	current := models.Subscription{AccountID: "a", Status: models.StatusActive, StartDate: &start}

	ev := mustParse(t, `{"type": "customer.subscription.deleted", "data": {"object": {"metadata": {"account_id": "a"}}}}`)
	next := Transition(current, ev, now).Update.ApplyTo(current)

	if next.EndDate.Before(*next.StartDate) {
		t.Errorf("end %v before start %v", next.EndDate, next.StartDate)
	}
}

func TestTransition_InvoicePaidRecordsAmount(t *testing.T) {
	ev := mustParse(t, `{"type": "invoice.paid", "data": {"object": {"id": "in_1", "amount_paid": 2500, "currency": "eur", "metadata": {"account_id": "a"}}}}`)
	d := Transition(*models.EmptySubscription("a"), ev, now)

	if d.Update.AmountPaid == nil || *d.Update.AmountPaid != 25 {
		t.Errorf("AmountPaid = %v, want 25", d.Update.AmountPaid)
	}
	if d.Update.Currency != "eur" || d.Update.Notes != "in_1" {
		t.Errorf("Currency=%q Notes=%q", d.Update.Currency, d.Update.Notes)
	}
	if d.Update.Tier != nil {
		t.Error("tier should be unchanged when metadata has none")
	}
}

func TestRenewal(t *testing.T) {
	u := Renewal(now, now.Add(30*24*time.Hour), 1999, "usd", "card", "pi_1")
	if *u.Status != models.StatusActive || u.ChangeReason != ReasonRenewed {
		t.Errorf("unexpected update %+v", u)
	}
	if *u.AmountPaid != 19.99 {
		t.Errorf("AmountPaid = %v", *u.AmountPaid)
	}
}

func TestCancellationKeepsDates(t *testing.T) {
	u := Cancellation()
	if u.StartDate != nil || u.EndDate != nil {
		t.Error("cancellation must not touch dates")
	}
	if *u.Status != models.StatusCancelled {
		t.Errorf("Status = %q", *u.Status)
	}
}
