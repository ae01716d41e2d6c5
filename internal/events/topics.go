package events

// Topics for the domain events the platform emits.
const (
	TopicUserRegistered = "user.registered"
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicPaymentFailed  = "payment.failed"
	TopicProductCreated = "product.created"
)

// AllTopics lists every topic, in the order events typically occur.
func AllTopics() []string {
	return []string{
		TopicUserRegistered,
		TopicProductCreated,
		TopicOrderCreated,
		TopicOrderPaid,
		TopicPaymentFailed,
	}
}
