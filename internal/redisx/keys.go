package redisx

import "time"

const (
	// Authoritative stock counter when LEDGER_BACKEND=redis: stock:{product_id} -> int
	KeyStock = "stock:%s"

	// Idempotency create order: idem:order:create:{email}:{key} -> order_id | "pending"
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cache order view: order_status:{order_id} -> OrderView JSON
	KeyOrderStatus = "order_status:%s"

	// Dedup consumer: dedup:{group}:{event_id} -> "1"
	KeyDedup = "dedup:%s:%s"
)

const IdemPending = "pending"

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 24 * time.Hour
)
