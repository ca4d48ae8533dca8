// internal/provision/locator.go
// Element location over a UI whose structure is not contractually stable.
// Each intent carries ranked strategies: exact visible-text match against
// known phrase variants, then substring match against keyword combinations,
// then a positional fallback (first interactive element of the expected
// kind). The positional fallback trades precision for forward progress and
// its use is always observable in the returned match.
package provision

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
)

// StrategyKind identifies which locator strategy produced a match.
type StrategyKind string

const (
	StrategyExactText  StrategyKind = "exact_text"
	StrategyKeyword    StrategyKind = "keyword"
	StrategyPositional StrategyKind = "positional"
)

// Intent describes one element the wizard needs to act on, independent of
// the page's actual markup.
type Intent struct {
	// Name is a human-readable description, used in logs and errors.
	Name string
	// Kind restricts the search to one element class.
	Kind schemas.ElementKind
	// Phrases are the known visible-text variants, matched exactly after
	// normalization.
	Phrases []string
	// Keywords are word sets; an element matches a set when its text
	// contains every word in it.
	Keywords [][]string
	// AllowPositional permits the first-of-kind fallback.
	AllowPositional bool
}

// Match is a located element plus the strategy that found it.
type Match struct {
	Element  schemas.Element
	Strategy StrategyKind
}

// Locator evaluates an intent's strategies in ranked order.
type Locator struct {
	logger *zap.Logger
}

func NewLocator(logger *zap.Logger) *Locator {
	return &Locator{logger: logger.Named("locator")}
}

// Find enumerates the page's interactive elements of the intent's kind and
// returns the highest-ranked match. The boolean is false when no strategy
// succeeded.
func (l *Locator) Find(ctx context.Context, page schemas.Page, intent Intent) (Match, bool, error) {
	elements, err := page.ListInteractive(ctx, intent.Kind)
	if err != nil {
		return Match{}, false, err
	}
	m, ok := l.match(elements, intent)
	if ok {
		l.logger.Debug("Intent resolved.",
			zap.String("intent", intent.Name),
			zap.String("strategy", string(m.Strategy)),
			zap.String("text", m.Element.Text))
	}
	return m, ok, nil
}

// match runs the ranked strategies over an already-discovered element list.
func (l *Locator) match(elements []schemas.Element, intent Intent) (Match, bool) {
	for _, el := range elements {
		text := normalizeText(el.Text)
		for _, phrase := range intent.Phrases {
			if text == normalizeText(phrase) {
				return Match{Element: el, Strategy: StrategyExactText}, true
			}
		}
	}

	for _, el := range elements {
		haystack := normalizeText(el.Text + " " + el.Placeholder + " " + el.Name)
		for _, words := range intent.Keywords {
			if containsAll(haystack, words) {
				return Match{Element: el, Strategy: StrategyKeyword}, true
			}
		}
	}

	if intent.AllowPositional && len(elements) > 0 {
		l.logger.Warn("Falling back to positional match.",
			zap.String("intent", intent.Name),
			zap.String("kind", string(intent.Kind)),
			zap.String("text", elements[0].Text))
		return Match{Element: elements[0], Strategy: StrategyPositional}, true
	}

	return Match{}, false
}

func containsAll(haystack string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !strings.Contains(haystack, normalizeText(w)) {
			return false
		}
	}
	return true
}

var textNormalizer = strings.NewReplacer(
	"’", "'", // right single quote
	"‘", "'",
	"‑", "-", // non-breaking hyphen
	" ", " ",
)

// normalizeText lowercases, folds quote/hyphen variants and collapses
// whitespace, so that phrase matching survives the partner's typography.
func normalizeText(s string) string {
	s = textNormalizer.Replace(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}
