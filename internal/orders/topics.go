package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicOrderDeleted       = "order.deleted"
)

// Topics lists everything the API publishes, in a stable order.
var Topics = []string{TopicOrderCreated, TopicOrderStatusChanged, TopicOrderDeleted}

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
