package redisx

import "time"

const (
	// Submit idempotency: idem:order:submit:{idempotency_key} -> order_id
	KeyIdemOrderSubmit = "idem:order:submit:%s"

	// Order status cache: order_status:{order_id} -> {"status": "...", "stage": "...", ...}
	KeyOrderStatus = "order_status:%s"

	// Projector dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Similar-product suggestions: suggest:{sorted variant ids}:{limit}
	KeySuggest = "suggest:%s:%d"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLSuggest     = 10 * time.Minute
)
