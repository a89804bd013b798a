package inventory

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/lagerbot/warehouse-bot/internal/apperrors"
	"github.com/lagerbot/warehouse-bot/internal/models"
)

// PostgresStore is the pgx-backed inventory store. Per-item mutation safety
// comes from SELECT ... FOR UPDATE inside a transaction: the row lock
// serializes the read-modify-write sequence against concurrent movements on
// the same item.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects a pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, databaseURL string, maxConns int32, logger *slog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse database URL")
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

const selectColumns = `id, internal_sku, external_sku, name, manufacturer,
	stock_inner, stock_outer, location_inner, location_outer, unit, alert_threshold`

// Snapshot returns all inventory records ordered by internal SKU.
func (s *PostgresStore) Snapshot(ctx context.Context) ([]models.InventoryRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM inventory_items ORDER BY internal_sku`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query inventory")
	}
	defer rows.Close()

	var records []models.InventoryRecord
	for rows.Next() {
		var r models.InventoryRecord
		if err := scanRecord(rows, &r); err != nil {
			return nil, errors.Wrap(err, "failed to scan inventory record")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate inventory rows")
	}

	s.logger.Debug("Inventory snapshot loaded", "count", len(records))
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, r *models.InventoryRecord) error {
	return row.Scan(
		&r.ID, &r.InternalSKU, &r.ExternalSKU, &r.Name, &r.Manufacturer,
		&r.StockInner, &r.StockOuter, &r.LocationInner, &r.LocationOuter,
		&r.Unit, &r.AlertThreshold,
	)
}

// ApplyMutation locks the item row, computes the new zone level for the
// requested action and writes it back in the same transaction. Withdrawals
// that exceed the available zone stock fail without writing.
func (s *PostgresStore) ApplyMutation(ctx context.Context, m Mutation) (*MutationResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + selectColumns + ` FROM inventory_items WHERE id = $1 FOR UPDATE`

	var record models.InventoryRecord
	if err := scanRecord(tx.QueryRow(ctx, lockQuery, m.ItemID), &record); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.Errorf("inventory item %d not found", m.ItemID)
		}
		return nil, errors.Wrap(err, "failed to lock inventory row")
	}

	before := record.ZoneStock(m.Zone)
	after, err := nextZoneStock(&record, m, before)
	if err != nil {
		return nil, err
	}

	column := "stock_inner"
	if m.Zone == models.ZoneOuter {
		column = "stock_outer"
		record.StockOuter = after
	} else {
		record.StockInner = after
	}

	updateQuery := `UPDATE inventory_items SET ` + column + ` = $1, updated_at = NOW() WHERE id = $2`
	if _, err := tx.Exec(ctx, updateQuery, after, m.ItemID); err != nil {
		return nil, errors.Wrap(err, "failed to update stock")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to commit stock mutation")
	}

	s.logger.Info("Stock mutation applied",
		"item_id", m.ItemID, "sku", record.InternalSKU, "action", m.Action,
		"zone", m.Zone, "before", before, "after", after)

	return &MutationResult{Record: &record, Before: before, After: after}, nil
}

// nextZoneStock computes the target level: withdrawals subtract, returns add,
// adjustments set the absolute level.
func nextZoneStock(record *models.InventoryRecord, m Mutation, before float64) (float64, error) {
	switch m.Action {
	case models.ActionWithdraw:
		if m.Quantity > before {
			return 0, &apperrors.InsufficientStockError{
				ItemName:  record.Name,
				Zone:      string(m.Zone),
				Available: before,
				Requested: m.Quantity,
			}
		}
		return before - m.Quantity, nil
	case models.ActionReturn:
		return before + m.Quantity, nil
	case models.ActionAdjust:
		return m.Quantity, nil
	default:
		return 0, errors.Errorf("action %q cannot mutate stock", m.Action)
	}
}

// CreateItem inserts a new record. Used for returns of previously unknown
// items.
func (s *PostgresStore) CreateItem(ctx context.Context, record models.InventoryRecord) (*models.InventoryRecord, error) {
	query := `
		INSERT INTO inventory_items (
			internal_sku, external_sku, name, manufacturer,
			stock_inner, stock_outer, location_inner, location_outer,
			unit, alert_threshold
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		record.InternalSKU, record.ExternalSKU, record.Name, record.Manufacturer,
		record.StockInner, record.StockOuter, record.LocationInner, record.LocationOuter,
		record.Unit, record.AlertThreshold,
	).Scan(&record.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create inventory item")
	}

	s.logger.Info("Inventory item created",
		"item_id", record.ID, "sku", record.InternalSKU, "name", record.Name)
	return &record, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
