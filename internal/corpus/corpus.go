// Package corpus retrieves runbook and incident-history passages used to ground model
// reasoning.
package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/miradorstack/teleops-rca/internal/utils"
)

// Document is a retrievable corpus passage.
type Document struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Hit is a ranked retrieval result.
type Hit struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Retriever returns the k best passages for a free-text query, best first.
type Retriever interface {
	TopK(ctx context.Context, query string, k int) ([]Hit, error)
}

// Fallback queries Primary and, when it fails, Secondary. The primary error is logged,
// never swallowed silently.
type Fallback struct {
	Primary   Retriever
	Secondary Retriever
	Logger    *slog.Logger
}

// TopK implements Retriever.
func (f Fallback) TopK(ctx context.Context, query string, k int) ([]Hit, error) {
	hits, err := f.Primary.TopK(ctx, query, k)
	if err == nil || f.Secondary == nil {
		return hits, err
	}
	if ctx.Err() != nil {
		return nil, err
	}
	utils.Component(f.Logger, "corpus").Warn("primary retriever failed, using local index", slog.Any("error", err))
	hits, secondaryErr := f.Secondary.TopK(ctx, query, k)
	if secondaryErr != nil {
		return nil, fmt.Errorf("primary: %v; secondary: %w", err, secondaryErr)
	}
	return hits, nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "with": {},
}

// Tokenize lowercases text and splits it into alphanumeric terms, keeping underscores so
// alert types like packet_loss stay whole.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Truncate cuts text to at most limit bytes without splitting a UTF-8 sequence.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
