package scanning

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// vocabulary is the fixed list of dosage and prescription terms that raise
// the recognition confidence estimate.
var vocabulary = []string{
	"mg", "ml", "tablet", "capsule", "dose", "daily", "twice", "morning",
	"evening", "before", "after", "meal", "prescription", "rx", "dr",
	"doctor", "patient", "take", "medication", "medicine",
}

// Confidence estimates how usable recognized text is, between 0.1 and 1.0.
// It is a coarse ordering signal, not a probability.
func Confidence(text string) float64 {
	if utf8.RuneCountInString(text) < MinTextLength {
		return 0.1
	}

	lower := strings.ToLower(text)
	found := 0
	for _, term := range vocabulary {
		if strings.Contains(lower, term) {
			found++
		}
	}

	score := 0.5 + float64(found)/float64(len(vocabulary))*0.3
	if strings.ContainsFunc(text, unicode.IsDigit) {
		score += 0.1
	}
	if strings.ContainsFunc(text, unicode.IsUpper) && strings.ContainsFunc(text, unicode.IsLower) {
		score += 0.1
	}
	return min(score, 1.0)
}
