package inventory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/lagerbot/warehouse-bot/internal/models"
)

// DefaultFuzzyThreshold is the minimum token match fraction for a fuzzy name
// match to be accepted.
const DefaultFuzzyThreshold = 0.6

// minPartialSKULen guards the substring stage against matching on short
// fragments.
const minPartialSKULen = 4

// prefixCreditLen is the shared-prefix length that earns a token half credit.
const prefixCreditLen = 4

// Resolver maps a free-text search term onto an inventory record. The stages
// run in strict priority order; an earlier stage hit always wins regardless
// of later scores.
type Resolver struct {
	threshold float64
	semantic  Matcher
	logger    *slog.Logger
}

// NewResolver creates a resolver. A non-positive threshold selects the
// default; semantic may be nil to disable the fallback stage.
func NewResolver(threshold float64, semantic Matcher, logger *slog.Logger) *Resolver {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Resolver{threshold: threshold, semantic: semantic, logger: logger}
}

// Resolve runs the match cascade over the given snapshot. A miss across all
// stages returns Found=false and no error; errors are reserved for semantic
// collaborator failures.
func (r *Resolver) Resolve(ctx context.Context, term string, records []models.InventoryRecord) (models.MatchResult, error) {
	if strings.TrimSpace(term) == "" || len(records) == 0 {
		return models.MatchResult{Found: false}, nil
	}

	normSKU := normalizeSKU(term)
	normName := normalizeText(term)

	if result, ok := r.matchExactSKU(normSKU, records); ok {
		return result, nil
	}
	if result, ok := r.matchPartialSKU(normSKU, records); ok {
		return result, nil
	}
	if result, ok := r.matchExactName(normName, records); ok {
		return result, nil
	}
	if result, ok := r.matchFuzzyName(normName, records); ok {
		return result, nil
	}

	return r.matchSemantic(ctx, term, records)
}

func (r *Resolver) matchExactSKU(normSKU string, records []models.InventoryRecord) (models.MatchResult, bool) {
	if normSKU == "" {
		return models.MatchResult{}, false
	}
	for i := range records {
		rec := &records[i]
		if normalizeSKU(rec.InternalSKU) == normSKU || normalizeSKU(rec.ExternalSKU) == normSKU {
			r.logger.Debug("Item resolved", "method", models.MatchExactSKU, "sku", rec.InternalSKU)
			return models.MatchResult{Found: true, Record: rec, Method: models.MatchExactSKU, Score: 1}, true
		}
	}
	return models.MatchResult{}, false
}

func (r *Resolver) matchPartialSKU(normSKU string, records []models.InventoryRecord) (models.MatchResult, bool) {
	if len(normSKU) < minPartialSKULen {
		return models.MatchResult{}, false
	}
	for i := range records {
		rec := &records[i]
		for _, sku := range []string{normalizeSKU(rec.InternalSKU), normalizeSKU(rec.ExternalSKU)} {
			if len(sku) < minPartialSKULen {
				continue
			}
			if strings.Contains(sku, normSKU) || strings.Contains(normSKU, sku) {
				r.logger.Debug("Item resolved", "method", models.MatchPartialSKU, "sku", rec.InternalSKU)
				return models.MatchResult{Found: true, Record: rec, Method: models.MatchPartialSKU, Score: 1}, true
			}
		}
	}
	return models.MatchResult{}, false
}

func (r *Resolver) matchExactName(normName string, records []models.InventoryRecord) (models.MatchResult, bool) {
	if normName == "" {
		return models.MatchResult{}, false
	}
	for i := range records {
		rec := &records[i]
		if normalizeText(rec.Name) == normName {
			r.logger.Debug("Item resolved", "method", models.MatchExactName, "sku", rec.InternalSKU)
			return models.MatchResult{Found: true, Record: rec, Method: models.MatchExactName, Score: 1}, true
		}
	}
	return models.MatchResult{}, false
}

// matchFuzzyName scores every record by the fraction of search tokens found
// in its name. A token contained verbatim counts full; a shared prefix of at
// least four characters counts half. The best record wins if it clears the
// threshold.
func (r *Resolver) matchFuzzyName(normName string, records []models.InventoryRecord) (models.MatchResult, bool) {
	tokens := strings.Fields(normName)
	if len(tokens) == 0 {
		return models.MatchResult{}, false
	}

	bestScore := 0.0
	var bestRecord *models.InventoryRecord
	for i := range records {
		rec := &records[i]
		score := fuzzyScore(tokens, normalizeText(rec.Name))
		if score > bestScore {
			bestScore = score
			bestRecord = rec
		}
	}

	if bestRecord == nil || bestScore < r.threshold {
		return models.MatchResult{}, false
	}
	r.logger.Debug("Item resolved",
		"method", models.MatchFuzzyName, "sku", bestRecord.InternalSKU, "score", bestScore)
	return models.MatchResult{Found: true, Record: bestRecord, Method: models.MatchFuzzyName, Score: bestScore}, true
}

func fuzzyScore(tokens []string, normRecordName string) float64 {
	nameWords := strings.Fields(normRecordName)
	matched := 0.0
	for _, token := range tokens {
		if strings.Contains(normRecordName, token) {
			matched++
			continue
		}
		for _, word := range nameWords {
			if sharesPrefix(token, word, prefixCreditLen) {
				matched += 0.5
				break
			}
		}
	}
	return matched / float64(len(tokens))
}

func sharesPrefix(a, b string, n int) bool {
	ar, br := []rune(a), []rune(b)
	if len(ar) < n || len(br) < n {
		return false
	}
	return string(ar[:n]) == string(br[:n])
}

func (r *Resolver) matchSemantic(ctx context.Context, term string, records []models.InventoryRecord) (models.MatchResult, error) {
	if r.semantic == nil {
		return models.MatchResult{Found: false}, nil
	}

	names := make([]string, len(records))
	for i := range records {
		names[i] = records[i].Name
	}

	idx, err := r.semantic.PickIndex(ctx, term, names)
	if err != nil {
		return models.MatchResult{}, errors.Wrap(err, "semantic match failed")
	}
	if idx < 0 || idx >= len(records) {
		return models.MatchResult{Found: false}, nil
	}

	rec := &records[idx]
	r.logger.Info("Item resolved by semantic fallback", "term", term, "sku", rec.InternalSKU)
	return models.MatchResult{Found: true, Record: rec, Method: models.MatchSemanticFallback, Score: 0}, nil
}

// pluralSuffixes maps German plural endings of common warehouse nouns onto
// their singular form. Ordered: longer suffixes first.
var pluralSuffixes = []struct{ plural, singular string }{
	{"schrauben", "schraube"},
	{"klemmen", "klemme"},
	{"muttern", "mutter"},
	{"stücke", "stück"},
	{"rollen", "rolle"},
	{"kanäle", "kanal"},
	{"leiter", "leiter"},
	{"module", "modul"},
	{"kabel", "kabel"},
}

// normalizeText lowercases, rewrites area units, strips punctuation and
// singularizes known German plurals so that message wording and sheet wording
// compare equal.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "mm²", "qmm")
	s = strings.ReplaceAll(s, "mm2", "qmm")
	s = strings.ReplaceAll(s, "m²", "qm")

	var b strings.Builder
	for _, r := range s {
		switch r {
		case ',', '.', ';', ':', '!', '?', '/', '\\', '(', ')', '"', '\'':
			b.WriteRune(' ')
		case '-', '_':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		words[i] = singularize(w)
	}
	return strings.Join(words, " ")
}

func singularize(word string) string {
	for _, s := range pluralSuffixes {
		if strings.HasSuffix(word, s.plural) {
			return strings.TrimSuffix(word, s.plural) + s.singular
		}
	}
	return word
}

// normalizeSKU uppercases and drops separators so "WKD 019-ML" and "wkd019ml"
// compare equal.
func normalizeSKU(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}
