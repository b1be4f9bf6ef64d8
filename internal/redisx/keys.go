package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent create order: idem:order:create:{user_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Status cache: order_status:{order_id} -> {"id","orderStatus","paymentStatus","updatedAt"}
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func idemKey(userID, key string) string { return fmt.Sprintf(KeyIdemOrderCreate, userID, key) }
func statusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }
func dedupKey(consumer, id string) string { return fmt.Sprintf(KeyDedup, consumer, id) }
