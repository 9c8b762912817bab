// Package docproof decides whether free-form financing document text
// supports a claimed bid. It is a best-effort heuristic matcher: it does not
// authenticate documents or verify the issuing bank.
package docproof

import (
	"strings"
)

// Normalize lowercases text and collapses whitespace runs to single spaces.
// Used before name matching; amount extraction operates on raw text to
// preserve digit grouping.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// MatchesName reports whether every whitespace token of expectedName occurs
// as a substring of normalizedText. Token order is irrelevant, so names
// reordered by document layout ("NORDMANN KARI") still match. expectedName
// is normalized here; normalizedText must already be normalized.
func MatchesName(expectedName, normalizedText string) bool {
	tokens := strings.Fields(Normalize(expectedName))
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !strings.Contains(normalizedText, tok) {
			return false
		}
	}
	return true
}
