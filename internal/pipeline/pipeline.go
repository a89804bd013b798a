// Package pipeline orchestrates the path from one inbound message to its
// aggregated reply: extraction, authorization, idempotent admission, item
// resolution, stock mutation and outbound logging.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lagerbot/warehouse-bot/internal/apperrors"
	"github.com/lagerbot/warehouse-bot/internal/auth"
	"github.com/lagerbot/warehouse-bot/internal/dedup"
	"github.com/lagerbot/warehouse-bot/internal/extractor"
	"github.com/lagerbot/warehouse-bot/internal/inventory"
	"github.com/lagerbot/warehouse-bot/internal/models"
	"github.com/lagerbot/warehouse-bot/internal/txlog"
	"github.com/lagerbot/warehouse-bot/pkg/metrics"
)

// Inbound is one message handed to the pipeline after transport decoding
// (and transcription for voice).
type Inbound struct {
	ChatID    int64
	MessageID int
	UserID    *int64
	Username  *string
	Text      string
	Kind      string
}

// Message kinds.
const (
	KindText  = "text"
	KindVoice = "voice"
)

// Reply is the aggregated outcome sent back to the chat. AlertText, when set,
// goes out as a separate message so consolidated alerts stay visible above
// the chat noise.
type Reply struct {
	Text      string
	AlertText string
}

// Extractor turns message text into candidate transactions.
type Extractor interface {
	Extract(ctx context.Context, text string, meta extractor.Metadata) ([]models.Transaction, error)
}

// Snapshotter serves inventory snapshots for resolution.
type Snapshotter interface {
	Snapshot(ctx context.Context, force bool) ([]models.InventoryRecord, error)
}

// ItemResolver maps a search term onto an inventory record.
type ItemResolver interface {
	Resolve(ctx context.Context, term string, records []models.InventoryRecord) (models.MatchResult, error)
}

// Notifier sends interim progress messages to the chat while a multi-item
// message is being worked through. Optional.
type Notifier interface {
	Send(chatID int64, text string) error
}

// StockMutator applies transactions to the store.
type StockMutator interface {
	Apply(ctx context.Context, tx *models.Transaction, record *models.InventoryRecord) (*inventory.MutationOutcome, error)
	ApplyWithAutoCreate(ctx context.Context, tx *models.Transaction) (*inventory.MutationOutcome, error)
	RegisterItem(ctx context.Context, tx *models.Transaction) (*inventory.MutationOutcome, error)
}

// Orchestrator runs the processing pipeline. Items of one message are
// processed strictly sequentially in extraction order; one failed item never
// aborts the siblings.
type Orchestrator struct {
	extractor      Extractor
	ledger         dedup.Ledger
	catalog        Snapshotter
	resolver       ItemResolver
	mutator        StockMutator
	log            txlog.Log
	notifier       Notifier
	metrics        *metrics.Metrics
	logger         *slog.Logger
	allowedChatIDs []int64
	allowedUserIDs []int64
}

// Config bundles the orchestrator collaborators.
type Config struct {
	Extractor      Extractor
	Ledger         dedup.Ledger
	Catalog        Snapshotter
	Resolver       ItemResolver
	Mutator        StockMutator
	Log            txlog.Log
	Notifier       Notifier
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	AllowedChatIDs []int64
	AllowedUserIDs []int64
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		extractor:      cfg.Extractor,
		ledger:         cfg.Ledger,
		catalog:        cfg.Catalog,
		resolver:       cfg.Resolver,
		mutator:        cfg.Mutator,
		log:            cfg.Log,
		notifier:       cfg.Notifier,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		allowedChatIDs: cfg.AllowedChatIDs,
		allowedUserIDs: cfg.AllowedUserIDs,
	}
}

// itemOutcome is the per-item result fed into reply aggregation.
type itemOutcome struct {
	text    string
	alert   *models.StockAlert
	success bool
}

// Process runs one inbound message through the full pipeline and returns the
// reply to send. Pipeline-internal failures are folded into the reply text;
// the error return is reserved for situations where no reply can be built.
func (o *Orchestrator) Process(ctx context.Context, in Inbound) (*Reply, error) {
	start := time.Now()
	kind := in.Kind
	if kind == "" {
		kind = KindText
	}
	logger := o.logger.With("chat_id", in.ChatID, "message_id", in.MessageID)

	requestFP := models.RequestFingerprint(in.ChatID, in.MessageID)
	duplicate, err := o.ledger.IsDuplicate(ctx, requestFP)
	if err != nil {
		logger.Error("Ledger check failed", "error", err)
	}
	if duplicate {
		logger.Info("Duplicate message delivery suppressed", "fingerprint", requestFP)
		o.metrics.DuplicatesTotal.WithLabelValues("message").Inc()
		o.metrics.MessagesTotal.WithLabelValues(kind, "duplicate").Inc()
		return &Reply{Text: textMessageDuplicate}, nil
	}

	transactions, err := o.extractor.Extract(ctx, in.Text, extractor.Metadata{
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		UserID:    in.UserID,
		Username:  in.Username,
	})
	if err != nil {
		logger.Error("Extraction failed", "error", err)
		o.metrics.MessagesTotal.WithLabelValues(kind, "extraction_failed").Inc()
		return &Reply{Text: textProcessingFailed}, nil
	}
	o.metrics.ItemsPerMessage.Observe(float64(len(transactions)))

	if len(transactions) > 1 && o.notifier != nil {
		if err := o.notifier.Send(in.ChatID, fmt.Sprintf(textProgress, len(transactions))); err != nil {
			logger.Warn("Failed to send progress notice", "error", err)
		}
	}

	outcomes := make([]itemOutcome, 0, len(transactions))
	for i := range transactions {
		outcome := o.processItem(ctx, logger, &transactions[i], i)
		outcomes = append(outcomes, outcome)
	}

	if err := o.ledger.MarkProcessed(ctx, requestFP, len(transactions)); err != nil {
		logger.Error("Failed to mark message as processed", "error", err)
	}

	o.metrics.MessagesTotal.WithLabelValues(kind, "processed").Inc()
	o.metrics.MessageDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	logger.Info("Message processed",
		"items", len(transactions), "duration_ms", time.Since(start).Milliseconds())

	return buildReply(outcomes), nil
}

// processItem runs one candidate transaction through authorization,
// admission, resolution and mutation. Every path ends in an outbound log
// entry; log write failures are logged and do not change the outcome.
func (o *Orchestrator) processItem(ctx context.Context, logger *slog.Logger, tx *models.Transaction, index int) itemOutcome {
	*tx = auth.ApplyAuthorization(*tx, o.allowedChatIDs, o.allowedUserIDs)
	if !tx.Authorized {
		logger.Warn("Item rejected by authorization gate",
			"item", index, "user_id", tx.TelegramUserID)
		o.appendLog(ctx, logger, tx, txlog.StatusRejected, tx.Reason)
		o.metrics.RecordTransaction(string(tx.Action), "rejected")
		return itemOutcome{text: tx.ConfirmationText}
	}

	fingerprint := models.ItemFingerprint(tx.ChatID, tx.MessageID, index)
	duplicate, err := o.ledger.CheckAndMark(ctx, fingerprint, tx)
	if err != nil {
		logger.Error("Item admission failed", "item", index, "error", err)
		return o.failItem(ctx, logger, tx, err.Error())
	}
	if duplicate {
		logger.Info("Duplicate item suppressed", "fingerprint", fingerprint)
		tx.Duplicate = true
		o.metrics.DuplicatesTotal.WithLabelValues("item").Inc()
		o.appendLog(ctx, logger, tx, txlog.StatusDuplicate, nil)
		return itemOutcome{text: textItemDuplicate}
	}

	if tx.NeedsClarification {
		o.appendLog(ctx, logger, tx, txlog.StatusNeedsReview, tx.ClarifyingQuestion)
		o.metrics.RecordTransaction(string(tx.Action), "needs_review")
		return itemOutcome{text: clarificationText(tx)}
	}

	if tx.Action == models.ActionReject {
		o.appendLog(ctx, logger, tx, txlog.StatusRejected, tx.Reason)
		o.metrics.RecordTransaction(string(tx.Action), "rejected")
		return itemOutcome{text: tx.ConfirmationText}
	}

	snapshot, err := o.catalog.Snapshot(ctx, false)
	if err != nil {
		logger.Error("Inventory snapshot failed", "item", index, "error", err)
		return o.failItem(ctx, logger, tx, err.Error())
	}

	match, err := o.resolver.Resolve(ctx, tx.SearchTerm(), snapshot)
	if err != nil {
		logger.Error("Item resolution failed", "item", index, "error", err)
		return o.failItem(ctx, logger, tx, err.Error())
	}

	if tx.Action == models.ActionNewItem {
		if match.Found {
			logger.Info("Announced item already in inventory",
				"term", tx.SearchTerm(), "sku", match.Record.InternalSKU)
			o.appendLog(ctx, logger, tx, txlog.StatusProcessed, nil)
			o.metrics.RecordTransaction(string(tx.Action), "processed")
			return itemOutcome{text: tx.ConfirmationText, success: true}
		}
		return o.registerItem(ctx, logger, tx)
	}

	if !match.Found {
		if tx.Action == models.ActionReturn {
			return o.applyAutoCreate(ctx, logger, tx)
		}
		logger.Info("Item not found in inventory", "term", tx.SearchTerm())
		detail := tx.SearchTerm()
		o.appendLog(ctx, logger, tx, txlog.StatusUnknownItem, &detail)
		o.metrics.RecordTransaction(string(tx.Action), "unknown_item")
		return itemOutcome{text: fmt.Sprintf(textItemNotFound, tx.SearchTerm())}
	}
	o.metrics.RecordResolverMatch(string(match.Method))

	outcome, err := o.mutator.Apply(ctx, tx, match.Record)
	if err != nil {
		if details, ok := apperrors.GetInsufficientStockDetails(err); ok {
			logger.Info("Withdrawal exceeds available stock",
				"sku", match.Record.InternalSKU, "available", details.Available,
				"requested", details.Requested)
			o.appendLog(ctx, logger, tx, txlog.StatusInsufficient, nil)
			o.metrics.RecordTransaction(string(tx.Action), "insufficient_stock")
			return itemOutcome{text: insufficientStockText(details)}
		}
		logger.Error("Stock mutation failed", "item", index, "error", err)
		return o.failItem(ctx, logger, tx, err.Error())
	}

	o.appendLog(ctx, logger, tx, txlog.StatusProcessed, nil)
	o.metrics.RecordTransaction(string(tx.Action), "processed")
	if outcome.Alert != nil {
		o.metrics.LowStockAlerts.Inc()
	}
	return itemOutcome{text: tx.ConfirmationText, alert: outcome.Alert, success: true}
}

func (o *Orchestrator) applyAutoCreate(ctx context.Context, logger *slog.Logger, tx *models.Transaction) itemOutcome {
	outcome, err := o.mutator.ApplyWithAutoCreate(ctx, tx)
	if err != nil {
		logger.Error("Auto-create for return failed", "term", tx.SearchTerm(), "error", err)
		return o.failItem(ctx, logger, tx, err.Error())
	}

	o.appendLog(ctx, logger, tx, txlog.StatusProcessed, nil)
	o.metrics.RecordTransaction(string(tx.Action), "processed")
	logger.Info("Item auto-created on return", "name", tx.SearchTerm())

	text := tx.ConfirmationText + "\n" + fmt.Sprintf(textItemCreated, tx.SearchTerm())
	return itemOutcome{text: text, alert: outcome.Alert, success: true}
}

func (o *Orchestrator) registerItem(ctx context.Context, logger *slog.Logger, tx *models.Transaction) itemOutcome {
	if _, err := o.mutator.RegisterItem(ctx, tx); err != nil {
		logger.Error("Item registration failed", "term", tx.SearchTerm(), "error", err)
		return o.failItem(ctx, logger, tx, err.Error())
	}

	o.appendLog(ctx, logger, tx, txlog.StatusProcessed, nil)
	o.metrics.RecordTransaction(string(tx.Action), "processed")
	logger.Info("New item registered", "name", tx.SearchTerm())

	text := tx.ConfirmationText + "\n" + fmt.Sprintf(textItemCreated, tx.SearchTerm())
	return itemOutcome{text: text, success: true}
}

func (o *Orchestrator) failItem(ctx context.Context, logger *slog.Logger, tx *models.Transaction, detail string) itemOutcome {
	o.appendLog(ctx, logger, tx, txlog.StatusFailed, &detail)
	o.metrics.RecordTransaction(string(tx.Action), "failed")
	return itemOutcome{text: fmt.Sprintf(textItemFailed, tx.SearchTerm())}
}

func (o *Orchestrator) appendLog(ctx context.Context, logger *slog.Logger, tx *models.Transaction, status txlog.Status, detail *string) {
	if err := o.log.Append(ctx, txlog.NewEntry(tx, status, detail)); err != nil {
		logger.Error("Failed to append transaction log entry",
			"request_id", tx.RequestID, "status", status, "error", err)
	}
}
