package clients

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/sand/paymesh/backend/internal/entities"
)

// Phrases commonly found in phishing text messages.
var phishingPatterns = []string{
	"click here", "urgent action", "verify account", "suspended",
	"winner", "congratulations", "claim prize", "limited time",
	"suspicious activity", "update payment", "confirm identity",
}

const (
	patternWeight = 0.25
	flagAtMatches = 2
)

// KeywordClassifier is the rule based fallback used when no trained model is reachable.
// It is always available.
type KeywordClassifier struct {
	patterns [][]string
}

func NewKeywordClassifier() *KeywordClassifier {
	patterns := make([][]string, 0, len(phishingPatterns))
	for _, p := range phishingPatterns {
		patterns = append(patterns, strings.Fields(p))
	}
	return &KeywordClassifier{patterns: patterns}
}

func (k *KeywordClassifier) Available() bool {
	return true
}

// Classify scores 0.25 per matched pattern and flags at two matches.
func (k *KeywordClassifier) Classify(_ context.Context, text string) (entities.Classification, error) {
	matches := len(k.Matches(text))

	return entities.Classification{
		IsFlagged:  matches >= flagAtMatches,
		Confidence: math.Min(1, float64(matches)*patternWeight),
	}, nil
}

// Matches returns the patterns found in the text, tolerating small misspellings.
func (k *KeywordClassifier) Matches(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var found []string
	for i, pattern := range k.patterns {
		if containsPhrase(words, pattern) {
			found = append(found, phishingPatterns[i])
		}
	}

	return found
}

func containsPhrase(words, phrase []string) bool {
	target := strings.Join(phrase, " ")
	tolerance := len(target) / 8

	for i := 0; i+len(phrase) <= len(words); i++ {
		window := strings.Join(words[i:i+len(phrase)], " ")
		if window == target {
			return true
		}
		if tolerance > 0 && levenshtein.ComputeDistance(window, target) <= tolerance {
			return true
		}
	}

	return false
}
