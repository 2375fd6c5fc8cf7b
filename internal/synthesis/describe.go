package synthesis

import (
	"strings"

	"github.com/zombor/rx-tracker/internal/value"
)

// Record categories
const (
	CategoryAll          = "all"
	CategoryPrescription = "prescription"
	CategoryVitals       = "vitals"
	CategoryAppointment  = "appointment"
	CategoryLab          = "lab"
	CategoryImaging      = "imaging"
)

// Categories lists every category a record can be classified as
var Categories = []string{
	CategoryPrescription,
	CategoryVitals,
	CategoryAppointment,
	CategoryLab,
	CategoryImaging,
}

var providerKeys = []string{"doctor", "prescriber", "physician", "provider"}

var categoryKeys = []string{"category", "document_type", "record_type"}

// View is the derived, display-ready summary of a record
type View struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Provider string   `json:"provider,omitempty"`
	Tags     []string `json:"tags"`
	Category string   `json:"category"`
}

// Describe derives every display field of v
func Describe(v value.Value) View {
	return View{
		Title:    FindPrimaryLabel(v),
		Summary:  Summarize(v),
		Provider: FindProvider(v),
		Tags:     DeriveTags(v),
		Category: Classify(v),
	}
}

// FindProvider returns the prescribing doctor's name, or "" when the record
// names none. A field whose key mentions a doctor, prescriber, physician or
// provider counts if it holds a string or an object with a "name" string
func FindProvider(v value.Value) string {
	return findProvider(v, 0)
}

func findProvider(v value.Value, depth int) string {
	if depth > MaxDepth {
		return ""
	}

	switch t := v.(type) {
	case value.Map:
		for _, f := range t {
			if !isProviderKey(f.Key) {
				continue
			}
			switch pv := f.Value.(type) {
			case value.String:
				if s := strings.TrimSpace(string(pv)); s != "" {
					return s
				}
			case value.Map:
				if name, ok := pv.Get("name"); ok {
					if s, ok := name.(value.String); ok && strings.TrimSpace(string(s)) != "" {
						return strings.TrimSpace(string(s))
					}
				}
			}
		}
		for _, f := range t {
			if p := findProvider(f.Value, depth+1); p != "" {
				return p
			}
		}
	case value.List:
		for _, e := range t {
			if p := findProvider(e, depth+1); p != "" {
				return p
			}
		}
	}
	return ""
}

func isProviderKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range providerKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// Classify returns the record's category. Extraction records say what kind
// of document they are through a top-level (or "extracted_data") category
// field; anything unrecognized is a prescription
func Classify(v value.Value) string {
	m, ok := v.(value.Map)
	if !ok {
		return CategoryPrescription
	}

	scopes := []value.Map{m}
	if inner, ok := m.Get("extracted_data"); ok {
		if im, ok := inner.(value.Map); ok {
			scopes = append(scopes, im)
		}
	}

	for _, scope := range scopes {
		for _, key := range categoryKeys {
			raw, ok := scope.Get(key)
			if !ok {
				continue
			}
			s, ok := raw.(value.String)
			if !ok {
				continue
			}
			if c := normalizeCategory(string(s)); c != "" {
				return c
			}
		}
	}
	return CategoryPrescription
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if s == c {
			return c
		}
	}
	return ""
}
