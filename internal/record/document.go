package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zombor/rx-tracker/internal/storage"
	"github.com/zombor/rx-tracker/internal/synthesis"
	"github.com/zombor/rx-tracker/internal/value"
)

// Document is a processed capture: the recognized text, the source image
// and whatever structure extraction found in it. Documents are never
// updated in place.
type Document struct {
	ID            string      `json:"id"`
	ExtractedText string      `json:"extractedText"`
	ImageRef      string      `json:"imageRef"`
	CreatedAt     time.Time   `json:"createdAt"`
	Confidence    float64     `json:"confidence"` // informational OCR confidence
	Data          value.Value `json:"data"`
}

// UnmarshalJSON decodes Data as a value.Value, keeping key order
func (d *Document) UnmarshalJSON(b []byte) error {
	type plain Document
	var aux struct {
		plain
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	*d = Document(aux.plain)
	d.Data = value.Null{}
	if len(aux.Data) > 0 {
		data, err := value.Parse(aux.Data)
		if err != nil {
			return fmt.Errorf("decoding data of document %s: %w", d.ID, err)
		}
		d.Data = data
	}
	return nil
}

// View derives the document's display fields
func (d Document) View() synthesis.View {
	return synthesis.Describe(d.Data)
}

// Store persists documents most recent first
type Store interface {
	Append(doc Document) error
	List() ([]Document, error)
	Get(id string) (Document, bool, error)
	Remove(id string) error
}

// NewStore keeps documents as one list under the documents key of kv
func NewStore(kv storage.KV) *storage.List[Document] {
	return storage.NewList(kv, storage.KeyDocuments, func(d Document) string {
		return d.ID
	})
}
