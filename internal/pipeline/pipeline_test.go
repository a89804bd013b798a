package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagerbot/warehouse-bot/internal/apperrors"
	"github.com/lagerbot/warehouse-bot/internal/dedup"
	"github.com/lagerbot/warehouse-bot/internal/extractor"
	"github.com/lagerbot/warehouse-bot/internal/inventory"
	"github.com/lagerbot/warehouse-bot/internal/models"
	"github.com/lagerbot/warehouse-bot/internal/txlog"
	"github.com/lagerbot/warehouse-bot/pkg/metrics"
)

// promauto registers against the default registry, so the collector is shared
// across all tests of this package.
var testMetrics = metrics.New()

const (
	testChatID    = int64(-5025798709)
	testMessageID = 42
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string   { return &s }
func qtyPtr(q float64) *float64 { return &q }

type fakeExtractor struct {
	txs []models.Transaction
	err error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, _ extractor.Metadata) ([]models.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Transaction, len(f.txs))
	copy(out, f.txs)
	return out, nil
}

type fakeCatalog struct {
	records []models.InventoryRecord
	err     error
}

func (f *fakeCatalog) Snapshot(_ context.Context, _ bool) ([]models.InventoryRecord, error) {
	return f.records, f.err
}

type fakeResolver struct {
	results map[string]models.MatchResult
}

func (f *fakeResolver) Resolve(_ context.Context, term string, _ []models.InventoryRecord) (models.MatchResult, error) {
	if result, ok := f.results[term]; ok {
		return result, nil
	}
	return models.MatchResult{Found: false}, nil
}

type fakeMutator struct {
	outcomes    map[string]*inventory.MutationOutcome
	errs        map[string]error
	applied     []string
	autoCreated []string
	registered  []string
}

func (f *fakeMutator) Apply(_ context.Context, tx *models.Transaction, _ *models.InventoryRecord) (*inventory.MutationOutcome, error) {
	term := tx.SearchTerm()
	if err, ok := f.errs[term]; ok {
		return nil, err
	}
	f.applied = append(f.applied, term)
	if outcome, ok := f.outcomes[term]; ok {
		return outcome, nil
	}
	return &inventory.MutationOutcome{Result: &inventory.MutationResult{}}, nil
}

func (f *fakeMutator) ApplyWithAutoCreate(_ context.Context, tx *models.Transaction) (*inventory.MutationOutcome, error) {
	f.autoCreated = append(f.autoCreated, tx.SearchTerm())
	return &inventory.MutationOutcome{Result: &inventory.MutationResult{}, Created: true}, nil
}

func (f *fakeMutator) RegisterItem(_ context.Context, tx *models.Transaction) (*inventory.MutationOutcome, error) {
	f.registered = append(f.registered, tx.SearchTerm())
	return &inventory.MutationOutcome{Result: &inventory.MutationResult{}, Created: true, Skipped: true}, nil
}

type fakeLog struct {
	entries []txlog.Entry
}

func (f *fakeLog) Append(_ context.Context, entry txlog.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLog) Ping(_ context.Context) error { return nil }

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(_ int64, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeLog) statuses() []txlog.Status {
	out := make([]txlog.Status, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Status
	}
	return out
}

type fixture struct {
	orchestrator *Orchestrator
	ledger       *dedup.MemoryLedger
	mutator      *fakeMutator
	log          *fakeLog
}

func tx(action models.Action, name string, qty *float64, confirmation string) models.Transaction {
	return models.Transaction{
		Action:           action,
		ItemName:         strPtr(name),
		Qty:              qty,
		Unit:             models.UnitPiece,
		ChatID:           testChatID,
		MessageID:        testMessageID,
		TelegramUserID:   999,
		Confidence:       0.9,
		RequestID:        models.RequestFingerprint(testChatID, testMessageID),
		TimestampISO:     time.Now().UTC().Format(time.RFC3339),
		ConfirmationText: confirmation,
	}
}

func record(id int64, sku, name string) *models.InventoryRecord {
	return &models.InventoryRecord{ID: id, InternalSKU: sku, Name: name, Unit: "Stk", AlertThreshold: 10}
}

func newFixture(ext Extractor, resolver ItemResolver, mutator *fakeMutator) *fixture {
	ledger := dedup.NewMemoryLedger(time.Hour)
	log := &fakeLog{}
	orchestrator := New(Config{
		Extractor:      ext,
		Ledger:         ledger,
		Catalog:        &fakeCatalog{records: []models.InventoryRecord{}},
		Resolver:       resolver,
		Mutator:        mutator,
		Log:            log,
		Metrics:        testMetrics,
		Logger:         testLogger(),
		AllowedChatIDs: []int64{testChatID, 123456789},
		AllowedUserIDs: []int64{999},
	})
	return &fixture{orchestrator: orchestrator, ledger: ledger, mutator: mutator, log: log}
}

func inbound() Inbound {
	userID := int64(999)
	return Inbound{ChatID: testChatID, MessageID: testMessageID, UserID: &userID, Text: "entnimm Zeug", Kind: KindText}
}

func TestProcess_MultiItemSummary(t *testing.T) {
	ext := &fakeExtractor{txs: []models.Transaction{
		tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
		tx(models.ActionWithdraw, "M8-Schraube", qtyPtr(5), "✓ Entnahme: 5 Stk M8-Schraube"),
	}}
	resolver := &fakeResolver{results: map[string]models.MatchResult{
		"Leiter":      {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchFuzzyName},
		"M8-Schraube": {Found: true, Record: record(2, "SHR-M8", "Sechskantschraube M8"), Method: models.MatchFuzzyName},
	}}
	f := newFixture(ext, resolver, &fakeMutator{})

	reply, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "📦 2 Positionen verarbeitet:")
	assert.Contains(t, reply.Text, "1/2 ✓ Entnahme: 2 Stk Leiter")
	assert.Contains(t, reply.Text, "2/2 ✓ Entnahme: 5 Stk M8-Schraube")
	assert.Empty(t, reply.AlertText)

	assert.Equal(t, []string{"Leiter", "M8-Schraube"}, f.mutator.applied)
	assert.Equal(t, []txlog.Status{txlog.StatusProcessed, txlog.StatusProcessed}, f.log.statuses())
}

func TestProcess_SingleItemRepliesPlain(t *testing.T) {
	ext := &fakeExtractor{txs: []models.Transaction{
		tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
	}}
	resolver := &fakeResolver{results: map[string]models.MatchResult{
		"Leiter": {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchExactName},
	}}
	f := newFixture(ext, resolver, &fakeMutator{})

	reply, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)
	assert.Equal(t, "✓ Entnahme: 2 Stk Leiter", reply.Text)
}

func TestProcess_DuplicateMessageDelivery(t *testing.T) {
	ext := &fakeExtractor{txs: []models.Transaction{
		tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
	}}
	resolver := &fakeResolver{results: map[string]models.MatchResult{
		"Leiter": {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchExactName},
	}}
	f := newFixture(ext, resolver, &fakeMutator{})

	_, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)
	require.Len(t, f.mutator.applied, 1)

	reply, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)
	assert.Equal(t, textMessageDuplicate, reply.Text)
	assert.Len(t, f.mutator.applied, 1, "second delivery must not mutate stock")
}

func TestProcess_DuplicateItemSuppressed(t *testing.T) {
	ext := &fakeExtractor{txs: []models.Transaction{
		tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
	}}
	resolver := &fakeResolver{results: map[string]models.MatchResult{
		"Leiter": {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchExactName},
	}}
	f := newFixture(ext, resolver, &fakeMutator{})

	// The item fingerprint is already admitted, the message one is not.
	_, err := f.ledger.CheckAndMark(context.Background(), models.ItemFingerprint(testChatID, testMessageID, 0), nil)
	require.NoError(t, err)

	reply, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)
	assert.Equal(t, textItemDuplicate, reply.Text)
	assert.Empty(t, f.mutator.applied)
	assert.Equal(t, []txlog.Status{txlog.StatusDuplicate}, f.log.statuses())
}

func TestProcess_ClarificationWithoutMutation(t *testing.T) {
	ambiguous := tx(models.ActionWithdraw, "Kabel", nil, models.DefaultConfirmation)
	ambiguous.NeedsClarification = true
	ambiguous.ClarifyingQuestion = strPtr("Wie viele Kabel wurden entnommen?")
	ambiguous.Confidence = 0.3

	ext := &fakeExtractor{txs: []models.Transaction{ambiguous}}
	f := newFixture(ext, &fakeResolver{}, &fakeMutator{})

	reply, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)
	assert.Equal(t, "❓ Wie viele Kabel wurden entnommen?", reply.Text)
	assert.Empty(t, f.mutator.applied)
	assert.Equal(t, []txlog.Status{txlog.StatusNeedsReview}, f.log.statuses())
}

func TestProcess_UnauthorizedUser(t *testing.T) {
	unauthorized := tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter")
	unauthorized.ChatID = 123456789
	unauthorized.TelegramUserID = 111

	ext := &fakeExtractor{txs: []models.Transaction{unauthorized}}
	f := newFixture(ext, &fakeResolver{}, &fakeMutator{})

	in := inbound()
	in.ChatID = 123456789
	userID := int64(111)
	in.UserID = &userID

	reply, err := f.orchestrator.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Zugriff verweigert")
	assert.Empty(t, f.mutator.applied)
	assert.Equal(t, []txlog.Status{txlog.StatusRejected}, f.log.statuses())
}

func TestProcess_InsufficientStock(t *testing.T) {
	ext := &fakeExtractor{txs: []models.Transaction{
		tx(models.ActionWithdraw, "Schutzleiterklemme", qtyPtr(6), "✓ Entnahme: 6 Stk Schutzleiterklemme"),
	}}
	resolver := &fakeResolver{results: map[string]models.MatchResult{
		"Schutzleiterklemme": {Found: true, Record: record(2, "SLK010", "Schutzleiterklemme"), Method: models.MatchExactName},
	}}
	mutator := &fakeMutator{errs: map[string]error{
		"Schutzleiterklemme": &apperrors.InsufficientStockError{
			ItemName: "Schutzleiterklemme", Zone: "innen", Available: 4, Requested: 6,
		},
	}}
	f := newFixture(ext, resolver, mutator)

	reply, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Nicht genug Bestand")
	assert.Contains(t, reply.Text, "Verfügbar: 4, Benötigt: 6")
	assert.Equal(t, []txlog.Status{txlog.StatusInsufficient}, f.log.statuses())
}

func TestProcess_UnknownItem(t *testing.T) {
	t.Run("withdrawal replies not found", func(t *testing.T) {
		ext := &fakeExtractor{txs: []models.Transaction{
			tx(models.ActionWithdraw, "Flux-Kompensator", qtyPtr(1), "✓"),
		}}
		f := newFixture(ext, &fakeResolver{}, &fakeMutator{})

		reply, err := f.orchestrator.Process(context.Background(), inbound())
		require.NoError(t, err)
		assert.Contains(t, reply.Text, "Artikel nicht gefunden: Flux-Kompensator")
		assert.Equal(t, []txlog.Status{txlog.StatusUnknownItem}, f.log.statuses())
	})

	t.Run("return auto-creates the item", func(t *testing.T) {
		ext := &fakeExtractor{txs: []models.Transaction{
			tx(models.ActionReturn, "Akkuschrauber Bosch", qtyPtr(1), "✓ Eingang: 1 Stk Akkuschrauber Bosch"),
		}}
		mutator := &fakeMutator{}
		f := newFixture(ext, &fakeResolver{}, mutator)

		reply, err := f.orchestrator.Process(context.Background(), inbound())
		require.NoError(t, err)
		assert.Contains(t, reply.Text, "✓ Eingang: 1 Stk Akkuschrauber Bosch")
		assert.Contains(t, reply.Text, "🆕 Neuer Artikel angelegt: Akkuschrauber Bosch")
		assert.Equal(t, []string{"Akkuschrauber Bosch"}, mutator.autoCreated)
		assert.Equal(t, []txlog.Status{txlog.StatusProcessed}, f.log.statuses())
	})
}

func TestProcess_NewItem(t *testing.T) {
	t.Run("unknown item gets registered without a stock mutation", func(t *testing.T) {
		ext := &fakeExtractor{txs: []models.Transaction{
			tx(models.ActionNewItem, "Akkuschrauber Makita", qtyPtr(3), "✓ Neuer Artikel: Akkuschrauber Makita"),
		}}
		mutator := &fakeMutator{}
		f := newFixture(ext, &fakeResolver{}, mutator)

		reply, err := f.orchestrator.Process(context.Background(), inbound())
		require.NoError(t, err)
		assert.Contains(t, reply.Text, "✓ Neuer Artikel: Akkuschrauber Makita")
		assert.Contains(t, reply.Text, "🆕 Neuer Artikel angelegt: Akkuschrauber Makita")
		assert.Equal(t, []string{"Akkuschrauber Makita"}, mutator.registered)
		assert.Empty(t, mutator.applied, "announcing an item must not touch stock")
		assert.Equal(t, []txlog.Status{txlog.StatusProcessed}, f.log.statuses())
	})

	t.Run("known item is acknowledged without creating a twin", func(t *testing.T) {
		ext := &fakeExtractor{txs: []models.Transaction{
			tx(models.ActionNewItem, "Leiter", nil, "✓ Neuer Artikel: Leiter"),
		}}
		resolver := &fakeResolver{results: map[string]models.MatchResult{
			"Leiter": {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchExactName},
		}}
		mutator := &fakeMutator{}
		f := newFixture(ext, resolver, mutator)

		reply, err := f.orchestrator.Process(context.Background(), inbound())
		require.NoError(t, err)
		assert.Equal(t, "✓ Neuer Artikel: Leiter", reply.Text)
		assert.Empty(t, mutator.registered)
		assert.Empty(t, mutator.applied)
		assert.Equal(t, []txlog.Status{txlog.StatusProcessed}, f.log.statuses())
	})
}

func TestProcess_ExtractionFailure(t *testing.T) {
	ext := &fakeExtractor{err: errors.New("collaborator down")}
	f := newFixture(ext, &fakeResolver{}, &fakeMutator{})

	reply, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)
	assert.Equal(t, textProcessingFailed, reply.Text)
	assert.Empty(t, f.log.entries)

	// A failed extraction must not poison the ledger: a retryable delivery
	// of the same message is still admitted.
	duplicate, err := f.ledger.IsDuplicate(context.Background(), models.RequestFingerprint(testChatID, testMessageID))
	require.NoError(t, err)
	assert.False(t, duplicate)
}

func TestProcess_OneFailedItemDoesNotAbortSiblings(t *testing.T) {
	ext := &fakeExtractor{txs: []models.Transaction{
		tx(models.ActionWithdraw, "Unbekannt", qtyPtr(1), "✓"),
		tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
	}}
	resolver := &fakeResolver{results: map[string]models.MatchResult{
		"Leiter": {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchExactName},
	}}
	f := newFixture(ext, resolver, &fakeMutator{})

	reply, err := f.orchestrator.Process(context.Background(), inbound())
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "1/2 ❌ Artikel nicht gefunden: Unbekannt")
	assert.Contains(t, reply.Text, "2/2 ✓ Entnahme: 2 Stk Leiter")
	assert.Equal(t, []string{"Leiter"}, f.mutator.applied)
}

func TestProcess_ProgressNotice(t *testing.T) {
	resolver := &fakeResolver{results: map[string]models.MatchResult{
		"Leiter":      {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchExactName},
		"M8-Schraube": {Found: true, Record: record(2, "SHR-M8", "Sechskantschraube M8"), Method: models.MatchExactName},
	}}

	t.Run("multi-item messages announce progress", func(t *testing.T) {
		ext := &fakeExtractor{txs: []models.Transaction{
			tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
			tx(models.ActionWithdraw, "M8-Schraube", qtyPtr(5), "✓ Entnahme: 5 Stk M8-Schraube"),
		}}
		f := newFixture(ext, resolver, &fakeMutator{})
		notifier := &fakeNotifier{}
		f.orchestrator.notifier = notifier

		_, err := f.orchestrator.Process(context.Background(), inbound())
		require.NoError(t, err)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, "📦 2 Artikel erkannt, verarbeite...", notifier.sent[0])
	})

	t.Run("single items stay quiet", func(t *testing.T) {
		ext := &fakeExtractor{txs: []models.Transaction{
			tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
		}}
		f := newFixture(ext, resolver, &fakeMutator{})
		notifier := &fakeNotifier{}
		f.orchestrator.notifier = notifier

		_, err := f.orchestrator.Process(context.Background(), inbound())
		require.NoError(t, err)
		assert.Empty(t, notifier.sent)
	})
}

func TestProcess_AlertAggregation(t *testing.T) {
	alert := func(name, sku string, stock float64) *models.StockAlert {
		return &models.StockAlert{ItemName: name, SKU: sku, Stock: stock, Threshold: 10, Unit: "Stk"}
	}

	t.Run("single alert rides inline", func(t *testing.T) {
		ext := &fakeExtractor{txs: []models.Transaction{
			tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
		}}
		resolver := &fakeResolver{results: map[string]models.MatchResult{
			"Leiter": {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchExactName},
		}}
		mutator := &fakeMutator{outcomes: map[string]*inventory.MutationOutcome{
			"Leiter": {Result: &inventory.MutationResult{}, Alert: alert("Stehleiter", "LTR001", 2)},
		}}
		f := newFixture(ext, resolver, mutator)

		reply, err := f.orchestrator.Process(context.Background(), inbound())
		require.NoError(t, err)
		assert.Contains(t, reply.Text, "⚠️ Niedriger Bestand: Stehleiter (LTR001)")
		assert.Empty(t, reply.AlertText)
	})

	t.Run("two alerts go out as a separate message", func(t *testing.T) {
		ext := &fakeExtractor{txs: []models.Transaction{
			tx(models.ActionWithdraw, "Leiter", qtyPtr(2), "✓ Entnahme: 2 Stk Leiter"),
			tx(models.ActionWithdraw, "Klemme", qtyPtr(8), "✓ Entnahme: 8 Stk Klemme"),
		}}
		resolver := &fakeResolver{results: map[string]models.MatchResult{
			"Leiter": {Found: true, Record: record(1, "LTR001", "Stehleiter"), Method: models.MatchExactName},
			"Klemme": {Found: true, Record: record(2, "SLK010", "Schutzleiterklemme"), Method: models.MatchExactName},
		}}
		mutator := &fakeMutator{outcomes: map[string]*inventory.MutationOutcome{
			"Leiter": {Result: &inventory.MutationResult{}, Alert: alert("Stehleiter", "LTR001", 2)},
			"Klemme": {Result: &inventory.MutationResult{}, Alert: alert("Schutzleiterklemme", "SLK010", 4)},
		}}
		f := newFixture(ext, resolver, mutator)

		reply, err := f.orchestrator.Process(context.Background(), inbound())
		require.NoError(t, err)
		assert.NotContains(t, reply.Text, "Niedriger Bestand")
		assert.Contains(t, reply.AlertText, alertHeader)
		assert.Contains(t, reply.AlertText, "Stehleiter (LTR001)")
		assert.Contains(t, reply.AlertText, "Schutzleiterklemme (SLK010)")
	})
}
