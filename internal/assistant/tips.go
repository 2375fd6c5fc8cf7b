package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/rx-tracker/internal/llm"
	"github.com/zombor/rx-tracker/internal/storage"
)

// HealthTip is one short wellness tip
type HealthTip struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

const tipsPrompt = `You are a health and wellness expert. Generate 60 concise, educational health tips about human health and wellness.
Each tip should be informative, accurate, and helpful for general health education.

Return ONLY a JSON array with 60 objects having this structure:
[
  {
    "id": 1,
    "title": "Short, catchy title",
    "content": "Informative content about the health tip (2-3 sentences)",
    "category": "One of: Nutrition, Fitness, Mental Health, Sleep, Preventive Care, Hydration, Posture, Immunity"
  },
  ...
]

Make sure tips cover a variety of health topics and are suitable for general audience education.`

const tipsSchema = `{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["id", "title", "content", "category"],
    "properties": {
      "id": {"type": "integer"},
      "title": {"type": "string", "minLength": 1},
      "content": {"type": "string", "minLength": 1},
      "category": {"type": "string"}
    }
  }
}`

var (
	tipSchema = jsonschema.MustCompileString("tips.json", tipsSchema)
	tipsFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// fallbackTips are served when the model's batch cannot be used
var fallbackTips = []HealthTip{
	{
		ID:       1,
		Title:    "Stay Hydrated",
		Content:  "Drink at least 8 glasses of water daily. Proper hydration supports all bodily functions and helps maintain energy levels throughout the day.",
		Category: "Hydration",
	},
	{
		ID:       2,
		Title:    "Mindful Breathing",
		Content:  "Practice deep breathing for 5 minutes daily. This simple technique can reduce stress, lower blood pressure, and improve mental clarity.",
		Category: "Mental Health",
	},
	{
		ID:       3,
		Title:    "Regular Movement",
		Content:  "Aim for 30 minutes of moderate exercise daily. Regular physical activity strengthens your heart, improves mood, and helps maintain a healthy weight.",
		Category: "Fitness",
	},
	{
		ID:       4,
		Title:    "Balanced Nutrition",
		Content:  "Fill half your plate with vegetables and fruits. A colorful diet ensures you get a wide range of nutrients essential for optimal health.",
		Category: "Nutrition",
	},
	{
		ID:       5,
		Title:    "Quality Sleep",
		Content:  "Prioritize 7-9 hours of quality sleep nightly. Good sleep hygiene improves cognitive function, mood, and supports immune health.",
		Category: "Sleep",
	},
}

// FallbackTips returns a copy of the built-in tips
func FallbackTips() []HealthTip {
	return append([]HealthTip(nil), fallbackTips...)
}

// Tips serves wellness tips, cached in the key-value store
type Tips struct {
	kv  storage.KV
	llm llm.Completer
}

// NewTips creates a new Tips
func NewTips(kv storage.KV, completer llm.Completer) *Tips {
	return &Tips{
		kv:  kv,
		llm: completer,
	}
}

// Load returns the cached batch, fetching a new one if nothing usable is
// cached.
func (t *Tips) Load(ctx context.Context) ([]HealthTip, error) {
	raw, found, err := t.kv.Get(storage.KeyHealthTips)
	if err != nil {
		return nil, fmt.Errorf("reading cached tips: %w", err)
	}
	if found {
		tips, err := decodeTips(raw)
		if err == nil {
			return tips, nil
		}
		slog.Warn("Discarding unreadable cached tips", "error", err)
	}
	return t.Refresh(ctx)
}

// Refresh asks the model for a new batch. A reply that does not hold a
// valid batch yields the fallback tips, which are not cached. A failed call
// leaves the cache untouched.
func (t *Tips) Refresh(ctx context.Context) ([]HealthTip, error) {
	reply, err := t.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(tipsPrompt),
			llm.User("Generate 60 educational health tips in JSON format."),
		},
		Temperature: 0.7,
		MaxTokens:   4000,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching health tips: %w", err)
	}

	tips, err := decodeTips(locateArray(reply))
	if err != nil {
		slog.Warn("Using fallback health tips", "error", err)
		return FallbackTips(), nil
	}

	data, err := json.Marshal(tips)
	if err != nil {
		return nil, fmt.Errorf("encoding tips: %w", err)
	}
	if err := t.kv.Set(storage.KeyHealthTips, string(data)); err != nil {
		slog.Warn("Failed to cache health tips", "error", err)
	}
	return tips, nil
}

// decodeTips validates raw against the tip schema before decoding it
func decodeTips(raw string) ([]HealthTip, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal tips: %w", err)
	}
	if err := tipSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("tips do not match schema: %w", err)
	}

	var tips []HealthTip
	if err := json.Unmarshal([]byte(raw), &tips); err != nil {
		return nil, fmt.Errorf("decoding tips: %w", err)
	}
	return tips, nil
}

func locateArray(reply string) string {
	if m := tipsFence.FindStringSubmatch(reply); m != nil {
		return m[1]
	}
	start := strings.IndexByte(reply, '[')
	end := strings.LastIndexByte(reply, ']')
	if start >= 0 && end > start {
		return reply[start : end+1]
	}
	return strings.TrimSpace(reply)
}
