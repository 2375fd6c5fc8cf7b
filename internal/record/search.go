package record

import (
	"strings"

	"github.com/zombor/rx-tracker/internal/synthesis"
)

// Filter returns the documents matching category and query, in input order.
// Category "all" (or "") matches every document, otherwise the derived
// category must be equal. An empty query matches every document, otherwise
// it must appear, ignoring case, in the title, summary, provider or a tag.
func Filter(docs []Document, query, category string) []Document {
	query = strings.ToLower(query)
	category = strings.ToLower(category)

	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		view := doc.View()
		if matchesCategory(view, category) && matchesQuery(view, query) {
			out = append(out, doc)
		}
	}
	return out
}

func matchesCategory(view synthesis.View, category string) bool {
	return category == "" || category == synthesis.CategoryAll || view.Category == category
}

func matchesQuery(view synthesis.View, query string) bool {
	if query == "" {
		return true
	}

	fields := append([]string{view.Title, view.Summary, view.Provider}, view.Tags...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}
