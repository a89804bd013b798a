package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lagerbot/warehouse-bot/internal/extractor"
)

// Matcher is the semantic fallback of the resolver: given a search term and
// the candidate item names, it picks one index or reports no match with -1.
type Matcher interface {
	PickIndex(ctx context.Context, term string, candidates []string) (int, error)
}

const matcherSystemPrompt = `Du ordnest einen Suchbegriff einem Artikel aus einer Lagerliste zu.
Antworte AUSSCHLIESSLICH mit dem Index (0-basiert) des passenden Artikels oder mit -1, wenn keiner eindeutig passt.
Keine Erklärung, keine Prosa, nur die Zahl.`

// LLMMatcher resolves by asking the language-model collaborator to pick from
// the candidate list. It shares the completer with the extractor.
type LLMMatcher struct {
	completer extractor.Completer
	logger    *slog.Logger
}

// NewLLMMatcher creates a semantic matcher around the given collaborator.
func NewLLMMatcher(completer extractor.Completer, logger *slog.Logger) *LLMMatcher {
	return &LLMMatcher{completer: completer, logger: logger}
}

// PickIndex asks the collaborator to select one candidate. Any answer that is
// not a valid index is treated as no match rather than an error.
func (m *LLMMatcher) PickIndex(ctx context.Context, term string, candidates []string) (int, error) {
	if len(candidates) == 0 {
		return -1, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Suchbegriff: %q\n\nArtikel:\n", term)
	for i, name := range candidates {
		fmt.Fprintf(&b, "%d: %s\n", i, name)
	}

	raw, err := m.completer.Complete(ctx, matcherSystemPrompt, b.String())
	if err != nil {
		return -1, err
	}

	idx, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		m.logger.Warn("Semantic matcher returned non-numeric answer", "answer", raw)
		return -1, nil
	}
	if idx < 0 || idx >= len(candidates) {
		return -1, nil
	}
	return idx, nil
}
