package extraction

import (
	"regexp"
	"strings"

	"github.com/zombor/rx-tracker/internal/value"
)

var (
	jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFence  = regexp.MustCompile("(?s)```[A-Za-z]*\\s*(.*?)\\s*```")
)

// ParseResponse decodes a model reply into a record. The JSON is taken from
// a fenced block if there is one, else from the first balanced {...} span,
// else the whole reply. When nothing decodes, a degraded record carrying
// rawText is returned.
func ParseResponse(reply, rawText string) value.Value {
	candidate := locateJSON(reply)
	if v, err := value.Parse([]byte(candidate)); err == nil {
		return v
	}
	return Degraded(rawText)
}

// Degraded is the record stored when the model reply cannot be parsed.
func Degraded(rawText string) value.Map {
	return value.Map{
		{Key: "error", Value: value.String("parse_failed")},
		{Key: "rawText", Value: value.String(rawText)},
		{Key: "parsingFailed", Value: value.Bool(true)},
		{Key: "confidence", Value: value.Number(0.1)},
	}
}

// IsDegraded reports whether v is a record produced by Degraded.
func IsDegraded(v value.Value) bool {
	m, ok := v.(value.Map)
	if !ok {
		return false
	}
	flag, ok := m.Get("parsingFailed")
	return ok && flag == value.Bool(true)
}

func locateJSON(reply string) string {
	if m := jsonFence.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFence.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	if span, ok := firstObject(reply); ok {
		return span
	}
	return strings.TrimSpace(reply)
}

// firstObject returns the first balanced top-level {...} span of s, ignoring
// braces inside JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
