// Package idempotency tracks processed webhook order IDs so that replayed
// deliveries grant credits at most once.
package idempotency

import "context"

// Store persists "already processed" markers for order IDs.
type Store interface {
	// MarkProcessed atomically claims an order ID. It returns true when this
	// call claimed the ID, false when it was already processed.
	MarkProcessed(ctx context.Context, orderID string) (bool, error)

	// Release drops a claim so a failed grant can be retried by the sender.
	Release(ctx context.Context, orderID string) error

	// Close releases any underlying resources.
	Close() error
}
