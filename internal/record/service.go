package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zombor/rx-tracker/internal/apperr"
	"github.com/zombor/rx-tracker/internal/scanning"
	"github.com/zombor/rx-tracker/internal/storage"
	"github.com/zombor/rx-tracker/internal/value"
)

// ErrNotFound is returned when no document has the requested id
var ErrNotFound = errors.New("document not found")

// IDGenerator generates unique IDs for documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Preparer normalizes a captured image before recognition
type Preparer interface {
	Prepare(ctx context.Context, imageRef string) string
}

// Recognizer extracts raw text from an image
type Recognizer interface {
	Recognize(ctx context.Context, imageRef string, opts scanning.Options) (scanning.Result, error)
}

// Extractor turns raw text into a structured record
type Extractor interface {
	Extract(ctx context.Context, rawText string) (value.Value, error)
}

// uuidGenerator generates random (v4) UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time at millisecond precision, the
// precision documents keep through storage
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Service runs the capture pipeline and manages stored documents
type Service struct {
	store       Store
	files       storage.Files
	preparer    Preparer
	recognizer  Recognizer
	extractor   Extractor
	options     scanning.Options
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(store Store, files storage.Files, preparer Preparer, recognizer Recognizer, extractor Extractor) *Service {
	return NewServiceWithDeps(store, files, preparer, recognizer, extractor, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, files storage.Files, preparer Preparer, recognizer Recognizer, extractor Extractor, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       store,
		files:       files,
		preparer:    preparer,
		recognizer:  recognizer,
		extractor:   extractor,
		options:     scanning.DefaultOptions,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// SetRecognitionOptions changes the hints sent with every image
func (s *Service) SetRecognitionOptions(opts scanning.Options) {
	s.options = opts
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	// Keep only alphanumeric, spaces, hyphens, and underscores
	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaces.ReplaceAllString(base, " "))

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "capture"
	}
	if unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}

	return base + ext
}

// ProcessUpload stores an uploaded capture and runs it through the
// pipeline. The upload is removed again if processing fails.
func (s *Service) ProcessUpload(ctx context.Context, filename string, data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, apperr.New(apperr.KindCapture, "empty upload", nil)
	}

	name := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename))
	ref, err := s.files.Save(name, data)
	if err != nil {
		return nil, apperr.New(apperr.KindCapture, "saving upload", err)
	}

	doc, err := s.ProcessDocument(ctx, ref)
	if err != nil {
		if delErr := s.files.Delete(ref); delErr != nil {
			slog.Warn("Failed to delete upload", "ref", ref, "error", delErr)
		}
		return nil, err
	}
	return doc, nil
}

// ProcessDocument runs preprocessing, recognition and extraction on the
// referenced image and stores the resulting document. Each stage runs only
// after the previous one succeeded; nothing is stored on failure.
func (s *Service) ProcessDocument(ctx context.Context, imageRef string) (*Document, error) {
	prepared := s.preparer.Prepare(ctx, imageRef)
	if prepared != imageRef {
		defer func() {
			if err := s.files.Delete(prepared); err != nil {
				slog.Warn("Failed to delete prepared image", "ref", prepared, "error", err)
			}
		}()
	}

	result, err := s.recognizer.Recognize(ctx, prepared, s.options)
	if err != nil {
		slog.Error("Failed to recognize text", "image_ref", imageRef, "error", err)
		return nil, err
	}

	text := strings.TrimSpace(result.Text)
	if utf8.RuneCountInString(text) < scanning.MinTextLength {
		slog.Warn("Not enough text recognized", "image_ref", imageRef, "chars", utf8.RuneCountInString(text))
		return nil, apperr.New(apperr.KindInsufficientText,
			fmt.Sprintf("recognized %d characters, need at least %d", utf8.RuneCountInString(text), scanning.MinTextLength), nil)
	}

	data, err := s.extractor.Extract(ctx, text)
	if err != nil {
		slog.Error("Failed to extract document data", "image_ref", imageRef, "error", err)
		return nil, err
	}

	doc := Document{
		ID:            s.idGenerator.Generate(),
		ExtractedText: text,
		ImageRef:      imageRef,
		CreatedAt:     s.timeSource.Now(),
		Confidence:    result.Confidence,
		Data:          data,
	}

	if err := s.store.Append(doc); err != nil {
		slog.Error("Failed to save document", "id", doc.ID, "error", err)
		return nil, err
	}

	slog.Info("Document processed", "id", doc.ID, "image_ref", imageRef, "confidence", doc.Confidence)
	return &doc, nil
}

// ListDocuments returns all documents, most recent first
func (s *Service) ListDocuments() ([]Document, error) {
	docs, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(id string) (*Document, error) {
	doc, found, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &doc, nil
}

// DeleteDocument removes a document and its image. Deleting an unknown id
// is not an error.
func (s *Service) DeleteDocument(id string) error {
	doc, found, err := s.store.Get(id)
	if err != nil {
		return fmt.Errorf("getting document for deletion: %w", err)
	}
	if !found {
		return nil
	}

	if err := s.store.Remove(id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	// Log error but keep the deletion
	if err := s.files.Delete(doc.ImageRef); err != nil {
		slog.Warn("Failed to delete image", "image_ref", doc.ImageRef, "error", err)
	}
	return nil
}

// SearchDocuments filters stored documents by free-text query and category
func (s *Service) SearchDocuments(query, category string) ([]Document, error) {
	docs, err := s.ListDocuments()
	if err != nil {
		return nil, err
	}
	return Filter(docs, query, category), nil
}

// GetDocumentImage retrieves the source image of a document
func (s *Service) GetDocumentImage(id string) ([]byte, string, error) {
	doc, err := s.GetDocument(id)
	if err != nil {
		return nil, "", err
	}

	data, err := s.files.Get(doc.ImageRef)
	if err != nil {
		return nil, "", fmt.Errorf("getting document image: %w", err)
	}

	return data, http.DetectContentType(data), nil
}
