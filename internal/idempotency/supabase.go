package idempotency

import (
	"context"
	"fmt"
	neturl "net/url"
	"time"

	"github.com/fotogem/studio-gateway/internal/database"
)

// SupabaseStore persists processed-order markers in a table with a unique
// constraint on the order ID. A conflicting insert means the order was
// already processed elsewhere.
type SupabaseStore struct {
	db    *database.Client
	table string
}

// NewSupabaseStore creates a store over the processed_orders table.
func NewSupabaseStore(db *database.Client) *SupabaseStore {
	return &SupabaseStore{db: db, table: "processed_orders"}
}

// MarkProcessed claims an order ID via insert; the unique constraint makes
// concurrent claims race safely.
func (s *SupabaseStore) MarkProcessed(ctx context.Context, orderID string) (bool, error) {
	row := map[string]any{
		"order_id":     orderID,
		"processed_at": time.Now().UTC().Format(time.RFC3339Nano),
	}

	_, err := s.db.RequestWithPrefer(ctx, "POST", s.table, row, "", "return=minimal")
	if database.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark order processed: %w", err)
	}
	return true, nil
}

// Release drops a claim.
func (s *SupabaseStore) Release(ctx context.Context, orderID string) error {
	query := "order_id=eq." + neturl.QueryEscape(orderID)
	_, err := s.db.RequestWithPrefer(ctx, "DELETE", s.table, nil, query, "return=minimal")
	return err
}

// Close is a no-op; the client is shared.
func (s *SupabaseStore) Close() error { return nil }

var _ Store = (*SupabaseStore)(nil)
