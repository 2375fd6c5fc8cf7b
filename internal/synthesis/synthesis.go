// Package synthesis derives display fields (title, summary, tags, provider,
// category) from schema-less extraction records. Every function is total
// over value.Value and walks at most MaxDepth levels below the root
package synthesis

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zombor/rx-tracker/internal/value"
)

// MaxDepth is the deepest level visited below the root value
const MaxDepth = 4

const (
	// FallbackLabel is used when no plausible name is found
	FallbackLabel = "Prescription"
	// EmptySummary is the summary of an absent or empty record
	EmptySummary = "Medical prescription details"
	// BaseTag is always the first tag
	BaseTag = "prescription"
)

// labelPredicates decide, in order, whether a string looks like a name
var labelPredicates = []func(string) bool{
	// 4 to 49 characters
	func(s string) bool {
		n := utf8.RuneCountInString(s)
		return n > 3 && n < 50
	},
	// letters, spaces and hyphens only
	regexp.MustCompile(`^[A-Za-z\s\-]+$`).MatchString,
}

// itemTokens are unit and dose words; roughly two appear per medication
var itemTokens = regexp.MustCompile(`(?i)mg|tablet|capsule|ml|dose`)

type tagRule struct {
	triggers []string
	tag      string
}

// tagRules are checked in order against the lowercased serialization
var tagRules = []tagRule{
	{[]string{"daily", "once"}, "daily"},
	{[]string{"twice", "bid"}, "twice-daily"},
	{[]string{"pain", "analgesic"}, "pain-relief"},
	{[]string{"antibiotic"}, "antibiotic"},
	{[]string{"chronic"}, "chronic"},
}

// FindPrimaryLabel returns the first string, in depth-first key order, that
// passes every label predicate
func FindPrimaryLabel(v value.Value) string {
	if label, ok := findLabel(v, 0); ok {
		return label
	}
	return FallbackLabel
}

func findLabel(v value.Value, depth int) (string, bool) {
	if depth > MaxDepth {
		return "", false
	}

	switch t := v.(type) {
	case value.String:
		s := string(t)
		for _, ok := range labelPredicates {
			if !ok(s) {
				return "", false
			}
		}
		return s, true
	case value.List:
		for _, e := range t {
			if label, ok := findLabel(e, depth+1); ok {
				return label, true
			}
		}
	case value.Map:
		for _, f := range t {
			if label, ok := findLabel(f.Value, depth+1); ok {
				return label, true
			}
		}
	}
	return "", false
}

// Summarize returns a one-line description such as
// "Metformin and 2 other medications"
func Summarize(v value.Value) string {
	if isEmpty(v) {
		return EmptySummary
	}

	count := 1
	if text, ok := serialize(v); ok {
		count = countItems(text)
	}

	label := FindPrimaryLabel(v)
	if count > 1 {
		others := count - 1
		plural := ""
		if others > 1 {
			plural = "s"
		}
		return fmt.Sprintf("%s and %d other medication%s", label, others, plural)
	}
	return label + " prescription"
}

// countItems estimates how many medications a record lists from the number
// of unit tokens, halved and clamped to 1..5
func countItems(text string) int {
	n := len(itemTokens.FindAllStringIndex(text, -1)) / 2
	return min(max(n, 1), 5)
}

// DeriveTags returns BaseTag followed by one tag per matching rule
func DeriveTags(v value.Value) []string {
	tags := []string{BaseTag}
	if isEmpty(v) {
		return tags
	}

	text, ok := serialize(v)
	if !ok {
		return tags
	}
	text = strings.ToLower(text)

	for _, rule := range tagRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(text, trigger) {
				tags = append(tags, rule.tag)
				break
			}
		}
	}
	return tags
}

func serialize(v value.Value) (string, bool) {
	data, err := value.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// isEmpty reports whether v carries no data at all
func isEmpty(v value.Value) bool {
	switch t := v.(type) {
	case nil, value.Null:
		return true
	case value.Map:
		return len(t) == 0
	case value.List:
		return len(t) == 0
	case value.String:
		return t == ""
	}
	return false
}
