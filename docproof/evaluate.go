package docproof

import (
	"errors"
	"strings"
)

// Result is the verdict of evaluating document text against a claimed bid.
// A rejected result is a normal business outcome, not an error.
type Result struct {
	Accepted    bool
	NameMatched bool
	LimitFound  bool
	Sufficient  bool
	Limit       int64
}

// Reasons enumerates which checks failed, for rendering a precise message.
// Empty for accepted results.
func (r Result) Reasons() []string {
	if r.Accepted {
		return nil
	}
	var reasons []string
	if !r.NameMatched {
		reasons = append(reasons, "name mismatch")
	}
	if !r.LimitFound {
		reasons = append(reasons, "no financing amount found")
	} else if !r.Sufficient {
		reasons = append(reasons, "insufficient amount")
	}
	return reasons
}

// Evaluator combines name matching and amount extraction into a verdict.
type Evaluator struct {
	amounts *AmountExtractor
}

// NewEvaluator returns an evaluator using the given amount extractor.
func NewEvaluator(amounts *AmountExtractor) *Evaluator {
	return &Evaluator{amounts: amounts}
}

// Evaluate accepts iff expectedName matches the document text and an
// extracted financing limit covers claimedAmount. An empty expectedName or
// non-positive claimedAmount is a caller error, never a silent match.
func (e *Evaluator) Evaluate(rawText, expectedName string, claimedAmount int64) (Result, error) {
	if strings.TrimSpace(expectedName) == "" {
		return Result{}, errors.New("expected name is empty")
	}
	if claimedAmount <= 0 {
		return Result{}, errors.New("claimed amount must be positive")
	}

	normalized := Normalize(rawText)
	res := Result{NameMatched: MatchesName(expectedName, normalized)}
	res.Limit, res.LimitFound = e.amounts.MaxAmount(rawText)
	res.Sufficient = res.LimitFound && res.Limit >= claimedAmount
	res.Accepted = res.NameMatched && res.Sufficient

	log.Debugf("evaluated claim of %d: name=%v limit=%d found=%v accepted=%v",
		claimedAmount, res.NameMatched, res.Limit, res.LimitFound, res.Accepted)
	return res, nil
}
