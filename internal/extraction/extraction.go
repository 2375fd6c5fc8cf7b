package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/rx-tracker/internal/apperr"
	"github.com/zombor/rx-tracker/internal/llm"
	"github.com/zombor/rx-tracker/internal/value"
)

const systemPrompt = "You are a medical text parser. Extract prescription information accurately and return only valid JSON."

// extractPrompt asks for every fact in the text with no fixed field list.
// %s is the recognized text.
const extractPrompt = `Extract ALL possible information from this prescription text. Be extremely thorough and capture EVERYTHING you can find. Return a comprehensive JSON object with ALL data you can extract - don't limit yourself to predefined fields.

Prescription text:
%s

Extract ALL information you can find including but not limited to:
- Patient information (name, age, address, ID, etc.)
- All medications with ALL details (names, dosages, frequencies, instructions, etc.)
- Doctor/prescriber information (name, credentials, license, etc.)
- Medical facility information (name, address, phone, etc.)
- Prescription details (date, number, lot numbers, expiry dates, etc.)
- Any medical codes, references, forms numbers
- Any warnings, notes, instructions
- Any other relevant information you can extract

Return a comprehensive JSON object with ALL extracted data. Use descriptive field names. Group related information logically. Don't skip anything - extract EVERYTHING:

{
  "extracted_data": {
    // Put ALL extracted information here with descriptive field names
    // Use nested objects for grouping related data
    // Extract EVERYTHING - no predefined limits
  }
}

IMPORTANT: Extract ALL information, not just common fields. Be thorough and comprehensive. Return valid JSON only.`

const (
	temperature = 0.1
	maxTokens   = 1024
)

// Extractor turns recognized text into a schema-less record
type Extractor struct {
	llm llm.Completer
}

// New creates an Extractor backed by a language-model provider
func New(completer llm.Completer) *Extractor {
	return &Extractor{llm: completer}
}

// Extract asks the model for a structured record of rawText. A failed call
// is an extraction error; an empty or unparseable reply is not, it yields a
// degraded record instead.
func (e *Extractor) Extract(ctx context.Context, rawText string) (value.Value, error) {
	reply, err := e.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(systemPrompt),
			llm.User(fmt.Sprintf(extractPrompt, rawText)),
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if errors.Is(err, llm.ErrEmptyResponse) {
		reply, err = "", nil
	}
	if err != nil {
		return nil, apperr.New(apperr.KindExtraction, "calling language model", err)
	}

	record := ParseResponse(reply, rawText)
	if IsDegraded(record) {
		slog.Warn("extraction.parse_failed", "reply_chars", len(reply))
	}
	return record, nil
}
