package category

import "strings"

const (
	merchantWeight = 10
	bodyWeight     = 1
)

// Classifier scores taxonomy categories by keyword matches. It is safe for
// concurrent use; nothing is mutated after construction.
type Classifier struct {
	lexicon *Lexicon
}

// NewClassifier creates a Classifier over lex. A nil lexicon uses the
// embedded default.
func NewClassifier(lex *Lexicon) *Classifier {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Classifier{lexicon: lex}
}

// Score is one category's total.
type Score struct {
	Category Category
	Points   int
}

// Classify returns exactly one category for the receipt. A keyword found in
// the merchant name is worth 10 points, the same keyword found in the body
// text or item names is worth 1. The strictly highest total wins; ties go to
// the category declared first. With no match at all the result is Other.
func (c *Classifier) Classify(merchant, text string, items []string) Category {
	best, bestPoints := Other, 0
	for _, s := range c.Scores(merchant, text, items) {
		if s.Points > bestPoints {
			best, bestPoints = s.Category, s.Points
		}
	}
	return best
}

// Scores returns the score of every category with at least one point, in
// taxonomy order.
func (c *Classifier) Scores(merchant, text string, items []string) []Score {
	head := normalize(merchant)
	rest := normalize(text + " " + strings.Join(items, " "))

	var scores []Score
	for _, cat := range All() {
		points := 0
		for _, kw := range c.lexicon.keywords[cat] {
			if head != "" && strings.Contains(head, kw) {
				points += merchantWeight
			}
			if strings.Contains(rest, kw) {
				points += bodyWeight
			}
		}
		if points > 0 {
			scores = append(scores, Score{Category: cat, Points: points})
		}
	}
	return scores
}
