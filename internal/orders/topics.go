package orders

const (
	TopicOrderLifecycle = "order.lifecycle"
	TopicOrderPayment   = "order.payment"
	TopicOrderShipment  = "order.shipment"
)

// Topics lists every topic the engine writes, for consumers that follow all of them.
var Topics = []string{TopicOrderLifecycle, TopicOrderPayment, TopicOrderShipment}

func TopicFor(eventType string) string {
	switch eventType {
	case EventReceiptSubmitted, EventPaymentApproved, EventPaymentRejected, EventPaymentHoldChanged, EventRushFeeAdded:
		return TopicOrderPayment
	case EventOrderShipped, EventOrderCompleted:
		return TopicOrderShipment
	default:
		return TopicOrderLifecycle
	}
}

// Partition key = order_id, so all events of one order stay in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
