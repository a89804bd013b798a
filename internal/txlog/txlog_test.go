package txlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagerbot/warehouse-bot/internal/models"
)

func strPtr(s string) *string   { return &s }
func qtyPtr(q float64) *float64 { return &q }

func sampleTransaction() *models.Transaction {
	return &models.Transaction{
		Action:           models.ActionWithdraw,
		ItemName:         strPtr("Schutzleiterklemme 10qmm"),
		SKU:              strPtr("SLK010"),
		Qty:              qtyPtr(2),
		Unit:             models.UnitPiece,
		Location:         strPtr("Regal B2"),
		Person:           strPtr("Maier"),
		Authorized:       true,
		ChatID:           -5025798709,
		MessageID:        42,
		TelegramUserID:   999,
		Confidence:       0.9,
		RequestID:        "-5025798709-42",
		TimestampISO:     "2026-08-28T10:00:00Z",
		ConfirmationText: "✓ Entnahme: 2 Stk Schutzleiterklemme 10qmm",
	}
}

func TestNewEntry(t *testing.T) {
	t.Run("maps transaction fields", func(t *testing.T) {
		tx := sampleTransaction()
		entry := NewEntry(tx, StatusProcessed, nil)

		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, "-5025798709-42", entry.RequestID)
		assert.Equal(t, "withdraw", entry.Action)
		assert.Equal(t, "Schutzleiterklemme 10qmm", *entry.ItemName)
		assert.Equal(t, 2.0, *entry.Qty)
		assert.Equal(t, "Stk", entry.Unit)
		assert.Equal(t, StatusProcessed, entry.Status)
		assert.Nil(t, entry.StatusDetail)
		assert.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), entry.OccurredAt.UTC())
	})

	t.Run("entries get distinct IDs", func(t *testing.T) {
		tx := sampleTransaction()
		a := NewEntry(tx, StatusProcessed, nil)
		b := NewEntry(tx, StatusProcessed, nil)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("unparseable timestamp falls back to now", func(t *testing.T) {
		tx := sampleTransaction()
		tx.TimestampISO = "gestern"
		entry := NewEntry(tx, StatusFailed, strPtr("boom"))
		assert.WithinDuration(t, time.Now().UTC(), entry.OccurredAt, time.Minute)
		assert.Equal(t, "boom", *entry.StatusDetail)
	})
}

func TestPostgresLog_Append(t *testing.T) {
	t.Run("inserts one row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		log := NewPostgresLog(sqlx.NewDb(db, "sqlmock"))

		mock.ExpectExec("INSERT INTO transaction_log").
			WillReturnResult(sqlmock.NewResult(0, 1))

		entry := NewEntry(sampleTransaction(), StatusProcessed, nil)
		require.NoError(t, log.Append(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates insert failures", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		log := NewPostgresLog(sqlx.NewDb(db, "sqlmock"))

		mock.ExpectExec("INSERT INTO transaction_log").
			WillReturnError(errors.New("connection lost"))

		entry := NewEntry(sampleTransaction(), StatusProcessed, nil)
		err = log.Append(context.Background(), entry)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to append transaction log entry")
	})
}
