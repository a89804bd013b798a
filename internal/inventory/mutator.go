package inventory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lagerbot/warehouse-bot/internal/models"
)

// DefaultAlertThreshold applies to records without a per-item threshold.
const DefaultAlertThreshold = 10

// MutationOutcome is the result of routing one transaction through the
// mutator.
type MutationOutcome struct {
	Result  *MutationResult
	Alert   *models.StockAlert
	Created bool
	Skipped bool
}

// Mutator applies extracted transactions to the store and derives low-stock
// alerts. Alert evaluation never blocks or fails the mutation.
type Mutator struct {
	store          Store
	catalog        *Catalog
	alertThreshold float64
	logger         *slog.Logger
}

// NewMutator creates a mutator. A non-positive alertThreshold selects the
// default of 10.
func NewMutator(store Store, catalog *Catalog, alertThreshold float64, logger *slog.Logger) *Mutator {
	if alertThreshold <= 0 {
		alertThreshold = DefaultAlertThreshold
	}
	return &Mutator{store: store, catalog: catalog, alertThreshold: alertThreshold, logger: logger}
}

// Apply writes one transaction against a resolved record. Transactions
// without a usable quantity are acknowledged without touching stock. The
// snapshot cache is invalidated after every applied change.
func (m *Mutator) Apply(ctx context.Context, tx *models.Transaction, record *models.InventoryRecord) (*MutationOutcome, error) {
	if !tx.HasQuantity() {
		m.logger.Info("Transaction without quantity, stock untouched",
			"request_id", tx.RequestID, "action", tx.Action)
		return &MutationOutcome{Skipped: true}, nil
	}

	zone := models.ZoneFromLocation(tx.Location)
	result, err := m.store.ApplyMutation(ctx, Mutation{
		ItemID:   record.ID,
		Zone:     zone,
		Action:   tx.Action,
		Quantity: *tx.Qty,
	})
	if err != nil {
		return nil, err
	}
	m.catalog.Invalidate(ctx)

	outcome := &MutationOutcome{Result: result}
	if tx.Action != models.ActionReturn {
		outcome.Alert = m.checkThreshold(result.Record, zone, result.After)
	}
	return outcome, nil
}

// ApplyWithAutoCreate behaves like Apply but creates the record first when a
// return names an item the inventory does not know yet.
func (m *Mutator) ApplyWithAutoCreate(ctx context.Context, tx *models.Transaction) (*MutationOutcome, error) {
	if tx.Action != models.ActionReturn {
		return nil, errors.Errorf("auto-create is only valid for returns, got %q", tx.Action)
	}

	record, err := m.createFromTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	outcome, err := m.Apply(ctx, tx, record)
	if err != nil {
		return nil, err
	}
	outcome.Created = true
	return outcome, nil
}

// RegisterItem creates the inventory record announced by a new_item
// transaction. Stock stays untouched; the record starts at zero in both
// zones.
func (m *Mutator) RegisterItem(ctx context.Context, tx *models.Transaction) (*MutationOutcome, error) {
	if tx.Action != models.ActionNewItem {
		return nil, errors.Errorf("register is only valid for new items, got %q", tx.Action)
	}

	record, err := m.createFromTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &MutationOutcome{Result: &MutationResult{Record: record}, Created: true, Skipped: true}, nil
}

func (m *Mutator) createFromTransaction(ctx context.Context, tx *models.Transaction) (*models.InventoryRecord, error) {
	name := tx.SearchTerm()
	if name == "" {
		return nil, errors.New("cannot create inventory item without a name")
	}

	sku := ""
	if tx.SKU != nil {
		sku = strings.TrimSpace(*tx.SKU)
	}
	if sku == "" {
		sku = "NEU-" + strings.ToUpper(uuid.New().String()[:8])
	}

	record := models.InventoryRecord{
		InternalSKU:    sku,
		Name:           name,
		Unit:           string(tx.Unit),
		AlertThreshold: m.alertThreshold,
	}
	if tx.Location != nil {
		if models.ZoneFromLocation(tx.Location) == models.ZoneOuter {
			record.LocationOuter = *tx.Location
		} else {
			record.LocationInner = *tx.Location
		}
	}

	created, err := m.store.CreateItem(ctx, record)
	if err != nil {
		return nil, err
	}
	m.catalog.Invalidate(ctx)
	return created, nil
}

// checkThreshold emits an alert when the zone level lands at or below the
// item threshold.
func (m *Mutator) checkThreshold(record *models.InventoryRecord, zone models.Zone, after float64) *models.StockAlert {
	threshold := record.AlertThreshold
	if threshold <= 0 {
		threshold = m.alertThreshold
	}
	if after > threshold {
		return nil
	}

	m.logger.Warn("Stock at or below alert threshold",
		"sku", record.InternalSKU, "name", record.Name,
		"zone", zone, "stock", after, "threshold", threshold)

	return &models.StockAlert{
		ItemName:  record.Name,
		SKU:       record.InternalSKU,
		Stock:     after,
		Threshold: threshold,
		Unit:      record.Unit,
		Location:  record.ZoneLocation(zone),
	}
}
