package pipeline

import (
	"fmt"
	"strings"

	"github.com/lagerbot/warehouse-bot/internal/apperrors"
	"github.com/lagerbot/warehouse-bot/internal/models"
)

// User-facing reply texts. The chat language is German.
const (
	textMessageDuplicate = "⚠️ Diese Nachricht wurde bereits verarbeitet."
	textItemDuplicate    = "⏭️ Bereits verarbeitet"
	textProcessingFailed = "❌ Fehler bei der Verarbeitung. Bitte später erneut versuchen."
	textItemNotFound     = "❌ Artikel nicht gefunden: %s"
	textItemFailed       = "❌ Fehler bei der Verarbeitung von %s"
	textItemCreated      = "🆕 Neuer Artikel angelegt: %s"
	textClarifyFallback  = "❓ Bitte die Menge genauer angeben."
	textProgress         = "📦 %d Artikel erkannt, verarbeite..."
	alertHeader          = "⚠️ Niedriger Bestand bei mehreren Artikeln:"
)

func clarificationText(tx *models.Transaction) string {
	if tx.ClarifyingQuestion != nil && *tx.ClarifyingQuestion != "" {
		return "❓ " + *tx.ClarifyingQuestion
	}
	return textClarifyFallback
}

func insufficientStockText(details *apperrors.InsufficientStockError) string {
	return fmt.Sprintf("❌ Nicht genug Bestand für %s.\nVerfügbar: %s, Benötigt: %s",
		details.ItemName, formatQty(details.Available), formatQty(details.Requested))
}

func alertLine(alert *models.StockAlert) string {
	line := fmt.Sprintf("⚠️ Niedriger Bestand: %s (%s): nur noch %s %s (Schwelle: %s)",
		alert.ItemName, alert.SKU, formatQty(alert.Stock), alert.Unit, formatQty(alert.Threshold))
	if alert.Location != "" {
		line += fmt.Sprintf(" bei %s", alert.Location)
	}
	return line
}

func formatQty(q float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", q), "0"), ".")
}

// buildReply aggregates the per-item outcomes into one reply. A single item
// answers with its own text; multiple items get a numbered summary. A single
// alert rides inline on the reply, two or more are consolidated into a
// separate alert message.
func buildReply(outcomes []itemOutcome) *Reply {
	reply := &Reply{}

	var alerts []*models.StockAlert
	for _, outcome := range outcomes {
		if outcome.alert != nil {
			alerts = append(alerts, outcome.alert)
		}
	}

	switch len(outcomes) {
	case 0:
		reply.Text = textProcessingFailed
		return reply
	case 1:
		reply.Text = outcomes[0].text
	default:
		lines := make([]string, len(outcomes))
		for i, outcome := range outcomes {
			lines[i] = fmt.Sprintf("%d/%d %s", i+1, len(outcomes), outcome.text)
		}
		lines = append([]string{fmt.Sprintf("📦 %d Positionen verarbeitet:", len(outcomes))}, lines...)
		reply.Text = strings.Join(lines, "\n")
	}

	switch len(alerts) {
	case 0:
	case 1:
		reply.Text += "\n\n" + alertLine(alerts[0])
	default:
		lines := make([]string, 0, len(alerts)+1)
		lines = append(lines, alertHeader)
		for _, alert := range alerts {
			lines = append(lines, alertLine(alert))
		}
		reply.AlertText = strings.Join(lines, "\n")
	}

	return reply
}
