package events

// Topics emitted by reconciliation.
const (
	TopicOrderPaid       = "order.paid"
	TopicPaymentFailed   = "payment.failed"
	TopicPaymentRefunded = "payment.refunded"
	TopicPaymentOnHold   = "payment.on_hold"
)

// DefaultTopics lists every topic the bridge emits.
func DefaultTopics() []string {
	return []string{TopicOrderPaid, TopicPaymentFailed, TopicPaymentRefunded, TopicPaymentOnHold}
}
