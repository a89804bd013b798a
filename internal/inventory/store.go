// Package inventory owns item resolution and stock mutation against the
// backing store.
package inventory

import (
	"context"

	"github.com/lagerbot/warehouse-bot/internal/models"
)

// Mutation is one atomic stock change against a single item zone. Quantity is
// the movement amount for withdrawals and returns and the absolute target
// level for adjustments.
type Mutation struct {
	ItemID   int64
	Zone     models.Zone
	Action   models.Action
	Quantity float64
}

// MutationResult reports the stock level around an applied mutation together
// with the record as it looks afterwards.
type MutationResult struct {
	Record *models.InventoryRecord
	Before float64
	After  float64
}

// Store is the persistence contract of the inventory. ApplyMutation must
// serialize concurrent mutations per item so that two movements on the same
// record never interleave their read-modify-write sequences.
type Store interface {
	// Snapshot returns all inventory records.
	Snapshot(ctx context.Context) ([]models.InventoryRecord, error)

	// ApplyMutation applies one stock change under a per-item lock. A
	// withdrawal that would drive the zone below zero fails with
	// *apperrors.InsufficientStockError and leaves the stock untouched.
	ApplyMutation(ctx context.Context, m Mutation) (*MutationResult, error)

	// CreateItem inserts a new record and returns it with its assigned ID.
	CreateItem(ctx context.Context, record models.InventoryRecord) (*models.InventoryRecord, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close()
}
