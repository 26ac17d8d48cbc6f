package main

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/subledger/internal/models"
	"github.com/jmylchreest/subledger/internal/monitor"
)

const dateLayout = "2006-01-02"

func formatStatus(st monitor.Status) string {
	sub := st.Subscription
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", st.CheckedAt.Format("15:04:05"), sub.Status)
	if sub.Tier != "" && sub.Tier != "none" {
		fmt.Fprintf(&b, " (%s)", sub.Tier)
	}

	d := st.Derived
	switch {
	case d.IsInGracePeriod:
		fmt.Fprintf(&b, ", expired %s, %s of grace left", daysAgo(deref(d.DaysSinceExpiry)), plural(deref(d.GraceDaysRemaining), "day"))
	case d.IsExpired:
		b.WriteString(", grace period over, renew to restore access")
	case sub.Status == models.StatusCancelled && sub.EndDate != nil:
		fmt.Fprintf(&b, ", access until %s", sub.EndDate.Format(dateLayout))
	case d.DaysUntilExpiry != nil && sub.EndDate != nil:
		fmt.Fprintf(&b, ", renews %s (in %s)", sub.EndDate.Format(dateLayout), plural(*d.DaysUntilExpiry, "day"))
	}
	return b.String()
}

func formatRenewal(r *monitor.RenewalResponse) string {
	switch {
	case r.Renewed:
		return "renewed: " + r.Message
	case r.PaymentFailed:
		return "payment failed: " + r.Message
	case r.Success:
		return r.Message
	default:
		return "not renewed: " + r.Message
	}
}

func formatPaymentFailed(st monitor.Status, r *monitor.RenewalResponse) string {
	msg := "Payment failed"
	if r != nil && r.Message != "" {
		msg += ": " + r.Message
	}
	if left := st.Derived.GraceDaysRemaining; left != nil {
		msg += fmt.Sprintf(". Update your payment method within %s to keep access", plural(*left, "day"))
	} else {
		msg += ". Update your payment method to keep access"
	}
	return msg + ", then run `subwatch renew`."
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func daysAgo(n int) string {
	if n == 0 {
		return "today"
	}
	return plural(n, "day") + " ago"
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
