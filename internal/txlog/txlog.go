// Package txlog persists every processed transaction to the append-only
// outbound log.
package txlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/lagerbot/warehouse-bot/internal/models"
)

// Status tags the terminal outcome of a transaction in the log.
type Status string

const (
	StatusProcessed    Status = "processed"
	StatusRejected     Status = "rejected"
	StatusFailed       Status = "failed"
	StatusNeedsReview  Status = "needs_review"
	StatusDuplicate    Status = "duplicate"
	StatusUnknownItem  Status = "unknown_item"
	StatusInsufficient Status = "insufficient_stock"
)

// Entry is one row of the outbound log.
type Entry struct {
	ID               string    `db:"id"`
	RequestID        string    `db:"request_id"`
	Action           string    `db:"action"`
	ItemName         *string   `db:"item_name"`
	SKU              *string   `db:"sku"`
	Qty              *float64  `db:"qty"`
	Unit             string    `db:"unit"`
	Location         *string   `db:"location"`
	ProjectID        *string   `db:"project_id"`
	Person           *string   `db:"person"`
	Reason           *string   `db:"reason"`
	Notes            *string   `db:"notes"`
	ChatID           int64     `db:"chat_id"`
	MessageID        int       `db:"message_id"`
	TelegramUserID   int64     `db:"telegram_user_id"`
	TelegramUsername *string   `db:"telegram_username"`
	Confidence       float64   `db:"confidence"`
	Status           Status    `db:"status"`
	StatusDetail     *string   `db:"status_detail"`
	OccurredAt       time.Time `db:"occurred_at"`
	CreatedAt        time.Time `db:"created_at"`
}

// Log is the append-only persistence contract. Entries are never updated or
// deleted by the service.
type Log interface {
	Append(ctx context.Context, entry Entry) error
	Ping(ctx context.Context) error
}

// NewEntry builds a log entry from a transaction and its terminal status.
func NewEntry(tx *models.Transaction, status Status, detail *string) Entry {
	occurred := tx.Timestamp()
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return Entry{
		ID:               uuid.New().String(),
		RequestID:        tx.RequestID,
		Action:           string(tx.Action),
		ItemName:         tx.ItemName,
		SKU:              tx.SKU,
		Qty:              tx.Qty,
		Unit:             string(tx.Unit),
		Location:         tx.Location,
		ProjectID:        tx.ProjectID,
		Person:           tx.Person,
		Reason:           tx.Reason,
		Notes:            tx.Notes,
		ChatID:           tx.ChatID,
		MessageID:        tx.MessageID,
		TelegramUserID:   tx.TelegramUserID,
		TelegramUsername: tx.TelegramUsername,
		Confidence:       tx.Confidence,
		Status:           status,
		StatusDetail:     detail,
		OccurredAt:       occurred,
	}
}

// PostgresLog is the sqlx-backed implementation.
type PostgresLog struct {
	db *sqlx.DB
}

// NewPostgresLog wraps an open connection.
func NewPostgresLog(db *sqlx.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

const appendQuery = `
	INSERT INTO transaction_log (
		id, request_id, action, item_name, sku, qty, unit, location,
		project_id, person, reason, notes, chat_id, message_id,
		telegram_user_id, telegram_username, confidence, status,
		status_detail, occurred_at, created_at
	) VALUES (
		:id, :request_id, :action, :item_name, :sku, :qty, :unit, :location,
		:project_id, :person, :reason, :notes, :chat_id, :message_id,
		:telegram_user_id, :telegram_username, :confidence, :status,
		:status_detail, :occurred_at, NOW()
	)`

// Append writes one entry.
func (l *PostgresLog) Append(ctx context.Context, entry Entry) error {
	if _, err := l.db.NamedExecContext(ctx, appendQuery, entry); err != nil {
		return errors.Wrap(err, "failed to append transaction log entry")
	}
	return nil
}

// Ping verifies database connectivity.
func (l *PostgresLog) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
