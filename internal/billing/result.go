package billing

// Outcome is what a handler did with an event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied" // Store updated
	OutcomeIgnored Outcome = "ignored" // Event type we do not act on
	OutcomeSkipped Outcome = "skipped" // No correlation id, or nothing to change
	OutcomeFailed  Outcome = "failed"  // Store or lookup failure, acknowledged anyway
)

// Result is returned by every handler in place of an error so ingress can log
// it centrally and still acknowledge the delivery.
type Result struct {
	Outcome   Outcome
	AccountID string
	Reason    string
	Err       error
}

// Applied returns a Result for a successful store write.
func Applied(accountID, reason string) Result {
	return Result{Outcome: OutcomeApplied, AccountID: accountID, Reason: reason}
}

// Skipped returns a Result for an event that required no write.
func Skipped(accountID, reason string) Result {
	return Result{Outcome: OutcomeSkipped, AccountID: accountID, Reason: reason}
}

// Ignored returns a Result for an unhandled event type.
func Ignored(eventType string) Result {
	return Result{Outcome: OutcomeIgnored, Reason: "unhandled event type " + eventType}
}

// Failed returns a Result for a handler error.
func Failed(accountID string, err error) Result {
	return Result{Outcome: OutcomeFailed, AccountID: accountID, Err: err}
}

// ErrorString returns the error text, or "" when there is none.
func (r Result) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
