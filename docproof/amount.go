package docproof

import (
	"regexp"
	"strconv"

	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("docproof")

// defaultKeywords are phrases that typically precede a financing-limit
// figure in Norwegian and English financing documents.
var defaultKeywords = []string{
	"godkjent lånebeløp",
	"maksimalt lånebeløp",
	"finansieringsbevis for",
	"lånebeløp",
	"kredittramme",
	"maks lån",
	"approved loan amount",
	"maximum loan",
	"certificate of financing for",
	"credit line",
	"beløp",
	"amount",
}

// number matches digits with optional thousands separators (".", ",", space
// or non-breaking space), e.g. "3.000.000", "1,500,000" and "2 500 000".
const number = `(\d{1,3}(?:[.,\s\x{00A0}]\d{3})+|\d+)\b`

// currency optionally precedes the figure, e.g. "kr 3.000.000".
const currency = `(?:kr\.?|nok|kroner|eur|usd|\$|€)?`

var nonDigits = regexp.MustCompile(`\D`)

// AmountExtractor scans raw document text for financing-limit figures.
type AmountExtractor struct {
	patterns []*regexp.Regexp
}

// NewAmountExtractor returns an extractor matching the built-in keyword
// phrases plus any extra configured ones.
func NewAmountExtractor(extraKeywords ...string) *AmountExtractor {
	keywords := make([]string, 0, len(defaultKeywords)+len(extraKeywords))
	keywords = append(keywords, defaultKeywords...)
	keywords = append(keywords, extraKeywords...)

	patterns := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		patterns = append(patterns, regexp.MustCompile(
			`(?i)`+regexp.QuoteMeta(kw)+`\s*[:=-]?\s*`+currency+`\s*`+number))
	}
	return &AmountExtractor{patterns: patterns}
}

// MaxAmount returns the maximum amount found next to any keyword phrase in
// text, and whether any amount was found at all. Documents often restate the
// same limit or include smaller illustrative figures; the ceiling figure is
// the actual approved capacity. All separator characters are stripped before
// parsing, so "1.500.000" and "1,500,000" parse identically. Amounts are
// whole currency units; genuine decimals are out of scope.
func (e *AmountExtractor) MaxAmount(text string) (int64, bool) {
	var (
		max   int64
		found bool
	)
	for _, p := range e.patterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			raw := nonDigits.ReplaceAllString(m[1], "")
			if raw == "" {
				continue
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				log.Debugf("skipping unparsable amount %q: %v", m[1], err)
				continue
			}
			if !found || n > max {
				max = n
			}
			found = true
		}
	}
	return max, found
}

var defaultExtractor = NewAmountExtractor()

// ExtractMaxAmount runs MaxAmount with the built-in keyword list.
func ExtractMaxAmount(text string) (int64, bool) {
	return defaultExtractor.MaxAmount(text)
}
