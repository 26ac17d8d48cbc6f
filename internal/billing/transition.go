package billing

import (
	"fmt"
	"time"

	"github.com/jmylchreest/subledger/internal/models"
)

// History reasons written for each transition.
const (
	ReasonChargeSucceeded     = "Payment succeeded"
	ReasonInvoicePaid         = "Invoice paid"
	ReasonPaymentFailed       = "Invoice payment failed"
	ReasonSubscriptionCreated = "New subscription created"
	ReasonSubscriptionDeleted = "Subscription deleted"
	ReasonRenewed             = "Subscription renewed"
	ReasonCancelRequested     = "Cancellation requested"
	ReasonCancellationEnded   = "Cancellation period ended"
)

// Decision is the outcome of applying an event to the current state.
type Decision struct {
	Apply  bool
	Update models.SubscriptionUpdate
	// Skip explains why Apply is false.
	Skip string
}

// Transition computes the state change an event causes. It is pure: the
// caller loads current and persists the returned update.
func Transition(current models.Subscription, ev *Event, now time.Time) Decision {
	if ev.Kind == KindUnknown {
		return Decision{Skip: "unhandled event type"}
	}
	if ev.AccountID == "" {
		return Decision{Skip: "missing correlation id"}
	}

	u := models.SubscriptionUpdate{Notes: ev.ObjectID}
	if ev.Tier != "" {
		u.Tier = &ev.Tier
	}
	if ev.CustomerID != "" {
		u.ExternalCustomerID = &ev.CustomerID
	}
	if ev.SubscriptionID != "" {
		u.ExternalSubscriptionID = &ev.SubscriptionID
	}

	switch ev.Kind {
	case KindChargeSucceeded:
		setStatus(&u, models.StatusActive)
		setPeriod(&u, ev.Period.Start, ev.Period.End)
		setPayment(&u, ev)
		u.ChangeReason = ReasonChargeSucceeded

	case KindInvoicePaid:
		setStatus(&u, models.StatusActive)
		setPeriod(&u, ev.Period.Start, ev.Period.End)
		setPayment(&u, ev)
		u.ChangeReason = ReasonInvoicePaid

	case KindInvoicePaymentFailed:
		// Grace is derived downstream from end_date; status flips now.
		setStatus(&u, models.StatusExpired)
		u.Currency = ev.Currency
		u.ChangeReason = ReasonPaymentFailed

	case KindSubscriptionCreated:
		setStatus(&u, models.StatusActive)
		setPeriod(&u, ev.Period.Start, ev.Period.End)
		u.ChangeReason = ReasonSubscriptionCreated

	case KindSubscriptionUpdated:
		// A cancel at period end arrives as an update that is still "active".
		status := models.StatusCancelled
		if (ev.GatewayStatus == "active" || ev.GatewayStatus == "trialing") && !ev.CancelAtPeriodEnd {
			status = models.StatusActive
		}
		setStatus(&u, status)
		setPeriod(&u, ev.Period.Start, ev.Period.End)
		u.ChangeReason = fmt.Sprintf("Subscription updated (gateway status %q)", ev.GatewayStatus)

	case KindSubscriptionDeleted:
		setStatus(&u, models.StatusCancelled)
		end := now.UTC().Truncate(time.Second)
		u.EndDate = &end
		// Keep end_date >= start_date when the stored period starts in the future.
		if current.StartDate != nil && current.StartDate.After(end) {
			u.StartDate = &end
		}
		u.ChangeReason = ReasonSubscriptionDeleted
	}

	return Decision{Apply: true, Update: u}
}

// Renewal builds the update for a successful renewal charge.
func Renewal(start, end time.Time, amountMinor int64, currency, paymentMethod, chargeID string) models.SubscriptionUpdate {
	u := models.SubscriptionUpdate{
		ChangeReason:  ReasonRenewed,
		PaymentMethod: paymentMethod,
		Currency:      currency,
		Notes:         chargeID,
	}
	setStatus(&u, models.StatusActive)
	setPeriod(&u, start, end)
	amount := float64(amountMinor) / 100
	u.AmountPaid = &amount
	return u
}

// Cancellation builds the update for a user cancel request. Dates are kept so
// access runs until the paid period ends.
func Cancellation() models.SubscriptionUpdate {
	u := models.SubscriptionUpdate{ChangeReason: ReasonCancelRequested}
	setStatus(&u, models.StatusCancelled)
	return u
}

// CancellationEnded builds the update for a cancelled record whose period has elapsed.
func CancellationEnded() models.SubscriptionUpdate {
	u := models.SubscriptionUpdate{ChangeReason: ReasonCancellationEnded}
	setStatus(&u, models.StatusExpired)
	return u
}

func setStatus(u *models.SubscriptionUpdate, s models.SubscriptionStatus) {
	u.Status = &s
}

func setPeriod(u *models.SubscriptionUpdate, start, end time.Time) {
	s, e := start.UTC(), end.UTC()
	u.StartDate = &s
	u.EndDate = &e
}

func setPayment(u *models.SubscriptionUpdate, ev *Event) {
	u.AmountPaid = ev.AmountMajor()
	u.Currency = ev.Currency
	u.PaymentMethod = ev.PaymentMethod
}
