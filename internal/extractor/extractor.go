package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lagerbot/warehouse-bot/internal/apperrors"
	"github.com/lagerbot/warehouse-bot/internal/models"
	"github.com/lagerbot/warehouse-bot/pkg/metrics"
)

// DefaultMaxRetries is the default number of collaborator attempts.
const DefaultMaxRetries = 3

// defaultBackoffBase is the delay before the second attempt; it doubles per
// attempt.
const defaultBackoffBase = time.Second

const systemPrompt = `Du bist ein Warehouse-Management-Parser für Lagerbewegungen. Deine Aufgabe: unstrukturierte Nachrichten in strukturierte Transaktionen konvertieren.

WICHTIG:
- IMMER nur valides JSON zurückgeben, keine Prosa und kein Markdown!
- Erkenne Entnahmen (entnimm, raus, minus, removed, taken, -) und Rückgaben/Eingänge (zurück, erhalten, geliefert, arrived, received, +).
- MEHRERE ARTIKEL: Wenn eine Nachricht mehrere Artikel enthält (z.B. "3 Module 4 Kabelkanäle 1 Leiter"), gib ein Array mit EINER Transaktion pro Artikel zurück. Ein Artikel: ein einzelnes Objekt.
- Unklare Mengen ("mehrere", "some", "ein paar"): qty null, confidence 0.3, needs_clarification true. NIEMALS eine Menge raten.
- SKU ist OPTIONAL, item_name reicht. Nur wenn gar kein Artikel erkennbar ist: needs_clarification true.
- Einheiten normalisieren auf: Stk, m, kg, l, pack, set, rolle, karton, kiste, tüte, % (Default "Stk", NIEMALS null).
- confidence 0.0-1.0 aus: item_name klar (0.4), Menge klar (0.2), Ort klar (0.2), SKU vorhanden (+0.2). Mehrdeutigkeit oder unklare Menge: maximal 0.3.
- confirmation_text MUSS immer gesetzt sein (mindestens "✓ Verarbeitet"):
  withdraw: "✓ Entnahme: {qty} {unit} {item_name}" (+ " (SKU {sku})" nur wenn vorhanden) (+ " aus {location}" nur wenn vorhanden)
  return: "✓ Eingang: {qty} {unit} {item_name}" (+ " → {location}" nur wenn vorhanden)
  adjust: "✓ Inventur: {item_name} → {qty} {unit}"

Felder pro Transaktion:
action (withdraw|return|adjust|new_item|reject), item_name, sku, qty (null bei unklar), unit, location, project_id, project_label, reason, person, notes, authorized (true), duplicate (false), chat_id, message_id, telegram_user_id, telegram_username, request_id, timestamp_iso, confidence, needs_clarification, clarifying_question, confirmation_text.`

// Metadata identifies the inbound message a transaction was extracted from.
type Metadata struct {
	ChatID    int64
	MessageID int
	UserID    *int64
	Username  *string
}

// Extractor validates and normalizes collaborator responses and owns the
// retry policy. Prompt wording is the collaborator contract; everything that
// comes back is re-validated locally.
type Extractor struct {
	completer   Completer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxRetries  int
	backoffBase time.Duration
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxRetries overrides the default attempt count.
func WithMaxRetries(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithBackoffBase overrides the initial retry delay (tests use a short one).
func WithBackoffBase(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.backoffBase = d
		}
	}
}

// WithMetrics enables per-attempt collaborator metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Extractor) {
		e.metrics = m
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// New creates an Extractor around the given collaborator.
func New(completer Completer, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		completer:   completer,
		logger:      logger,
		maxRetries:  DefaultMaxRetries,
		backoffBase: defaultBackoffBase,
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Extract turns one inbound message into an ordered list of candidate
// transactions. Transient collaborator failures (empty response, malformed
// JSON, transport errors) are retried with exponential backoff; a response
// that decodes but fails schema validation propagates immediately.
func (e *Extractor) Extract(ctx context.Context, text string, meta Metadata) ([]models.Transaction, error) {
	requestID := models.RequestFingerprint(meta.ChatID, meta.MessageID)
	timestamp := e.now().UTC().Format(time.RFC3339)
	userPrompt := e.buildUserPrompt(text, meta, requestID, timestamp)

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.backoffBase << (attempt - 1)
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		attemptStart := e.now()
		raw, err := e.completer.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			e.metrics.RecordExtractionAttempt("transport_error", e.now().Sub(attemptStart).Seconds())
			lastErr = apperrors.NewTransientExtractionError(err.Error())
			e.logger.Warn("Extraction attempt failed",
				"attempt", attempt+1, "max_retries", e.maxRetries, "error", err)
			continue
		}

		transactions, err := e.decodeResponse(raw, meta, requestID, timestamp)
		if err != nil {
			if !apperrors.IsTransientExtraction(err) {
				e.metrics.RecordExtractionAttempt("invalid", e.now().Sub(attemptStart).Seconds())
				e.logger.Error("Extraction response failed validation", "error", err)
				return nil, err
			}
			e.metrics.RecordExtractionAttempt("unusable_response", e.now().Sub(attemptStart).Seconds())
			lastErr = err
			e.logger.Warn("Extraction attempt returned unusable response",
				"attempt", attempt+1, "max_retries", e.maxRetries, "error", err)
			continue
		}

		e.metrics.RecordExtractionAttempt("ok", e.now().Sub(attemptStart).Seconds())
		e.logger.Debug("Extraction successful", "count", len(transactions))
		return transactions, nil
	}

	return nil, errors.Wrapf(lastErr, "extraction failed after %d attempts", e.maxRetries)
}

func (e *Extractor) buildUserPrompt(text string, meta Metadata, requestID, timestamp string) string {
	userID := "null"
	if meta.UserID != nil {
		userID = fmt.Sprintf("%d", *meta.UserID)
	}
	username := "null"
	if meta.Username != nil {
		username = *meta.Username
	}

	return fmt.Sprintf(`Text: %q
Metadaten:
- chat_id: %d
- message_id: %d
- telegram_user_id: %s
- telegram_username: %s
- request_id: %s
- timestamp_iso: %s

Gib ausschließlich valides JSON zurück (Objekt bei einem Artikel, Array bei mehreren):`,
		text, meta.ChatID, meta.MessageID, userID, username, requestID, timestamp)
}

// decodeResponse parses and validates the raw collaborator output. One
// invalid item fails the whole call; nothing is silently dropped.
func (e *Extractor) decodeResponse(raw string, meta Metadata, requestID, timestamp string) ([]models.Transaction, error) {
	content := stripCodeFences(strings.TrimSpace(raw))
	if content == "" {
		return nil, apperrors.NewTransientExtractionError("empty response")
	}

	var transactions []models.Transaction
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &transactions); err != nil {
			return nil, apperrors.NewTransientExtractionError("malformed JSON array: " + err.Error())
		}
	} else {
		var single models.Transaction
		if err := json.Unmarshal([]byte(content), &single); err != nil {
			return nil, apperrors.NewTransientExtractionError("malformed JSON object: " + err.Error())
		}
		transactions = []models.Transaction{single}
	}

	if len(transactions) == 0 {
		return nil, apperrors.NewTransientExtractionError("response contained no transactions")
	}

	for i := range transactions {
		e.stampMetadata(&transactions[i], meta, requestID, timestamp)
		models.ApplyDefaults(&transactions[i])
		enforceAmbiguity(&transactions[i])
		if err := models.ValidateTransaction(&transactions[i]); err != nil {
			return nil, apperrors.NewValidationExtractionError(
				fmt.Sprintf("item %d: %v", i, err))
		}
	}

	return transactions, nil
}

// stampMetadata overwrites the identity fields with the trusted inbound
// metadata. The collaborator echoes them but is not authoritative.
func (e *Extractor) stampMetadata(tx *models.Transaction, meta Metadata, requestID, timestamp string) {
	tx.ChatID = meta.ChatID
	tx.MessageID = meta.MessageID
	if meta.UserID != nil {
		tx.TelegramUserID = *meta.UserID
	}
	tx.TelegramUsername = meta.Username
	tx.RequestID = requestID
	if tx.TimestampISO == "" {
		tx.TimestampISO = timestamp
	}
}

// maxAmbiguousConfidence caps the confidence of a stock-moving transaction
// without a quantity.
const maxAmbiguousConfidence = 0.3

// enforceAmbiguity pins the ambiguity contract locally. The prompt instructs
// the collaborator to flag quantity-less withdrawals and returns, but the
// response is not trusted to comply.
func enforceAmbiguity(tx *models.Transaction) {
	if tx.Qty != nil {
		return
	}
	switch tx.Action {
	case models.ActionWithdraw, models.ActionReturn:
		tx.NeedsClarification = true
		if tx.Confidence > maxAmbiguousConfidence {
			tx.Confidence = maxAmbiguousConfidence
		}
	}
}

// stripCodeFences removes a surrounding markdown code block if present.
func stripCodeFences(content string) string {
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}
