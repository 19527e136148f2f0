package xmoney

import "strings"

// successStatuses is the only definition of a successful payment. Every
// caller goes through IsSuccessfulPaymentStatus.
var successStatuses = map[string]struct{}{
	"complete-ok": {},
	"in-progress": {},
	"open-ok":     {},
}

// IsSuccessfulPaymentStatus reports whether status (case-insensitive) means
// the payment succeeded.
func IsSuccessfulPaymentStatus(status string) bool {
	_, ok := successStatuses[normalize(status)]
	return ok
}

// Outcome is the order-level meaning of a processor status.
type Outcome string

const (
	OutcomePaid     Outcome = "paid"
	OutcomeFailed   Outcome = "failed"
	OutcomeRefunded Outcome = "refunded"
	OutcomeOnHold   Outcome = "on-hold"
	OutcomeUnknown  Outcome = "unknown"
)

// Classify maps a processor status onto an Outcome. Statuses ending in
// "-pending" count as on-hold.
func Classify(status string) Outcome {
	s := normalize(status)
	if IsSuccessfulPaymentStatus(s) {
		return OutcomePaid
	}
	switch s {
	case "complete-fail":
		return OutcomeFailed
	case "cancel-ok", "refund-ok", "void-ok":
		return OutcomeRefunded
	case "three-d-pending", "pending":
		return OutcomeOnHold
	}
	if strings.HasSuffix(s, "-pending") {
		return OutcomeOnHold
	}
	return OutcomeUnknown
}

func normalize(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
