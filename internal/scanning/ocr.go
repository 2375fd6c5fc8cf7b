package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/rx-tracker/internal/apperr"
	"github.com/zombor/rx-tracker/internal/throttle"
)

const (
	// DefaultOCRURL is the OCR.space parse endpoint.
	DefaultOCRURL = "https://api.ocr.space/parse/image"
	// DefaultOCREngine supports handwritten text.
	DefaultOCREngine = 2
	// MinTextLength is the shortest trimmed text worth extracting from.
	MinTextLength = 10
)

// Options are recognition hints sent with each image
type Options struct {
	// DetectOrientation asks the service to auto-rotate the image
	DetectOrientation bool
	// IsTable hints that the layout is tabular
	IsTable bool
}

// DefaultOptions matches what the capture flow sends
var DefaultOptions = Options{DetectOrientation: true}

// Result is recognized text plus a heuristic confidence
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer turns a stored image into text
type Recognizer interface {
	Recognize(ctx context.Context, imageRef string, opts Options) (Result, error)
}

// OCRConfig configures the OCR.space client
type OCRConfig struct {
	URL      string
	APIKey   string
	Language string
	Engine   int
	Timeout  time.Duration
	Limiter  *throttle.Limiter
}

// OCRSpace implements Recognizer against the OCR.space HTTP API
type OCRSpace struct {
	cfg    OCRConfig
	files  FileStore
	client *http.Client
}

// NewOCRSpace creates a new OCR.space client
func NewOCRSpace(cfg OCRConfig, files FileStore) (*OCRSpace, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ocr api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOCRURL
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Engine == 0 {
		cfg.Engine = DefaultOCREngine
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OCRSpace{
		cfg:    cfg,
		files:  files,
		client: &http.Client{},
	}, nil
}

type ocrResponse struct {
	ParsedResults         []ocrParsedResult `json:"ParsedResults"`
	OCRExitCode           int               `json:"OCRExitCode"`
	IsErroredOnProcessing bool              `json:"IsErroredOnProcessing"`
	ErrorMessage          errorMessages     `json:"ErrorMessage"`
}

type ocrParsedResult struct {
	ParsedText string `json:"ParsedText"`
}

// errorMessages accepts ErrorMessage as either a string or a list of strings
type errorMessages []string

func (e *errorMessages) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*e = errorMessages{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("decoding ErrorMessage: %w", err)
	}
	*e = many
	return nil
}

// Recognize sends the image to OCR.space and returns its text. Empty text
// is reported as insufficient rather than as a recognition failure.
func (o *OCRSpace) Recognize(ctx context.Context, imageRef string, opts Options) (Result, error) {
	data, err := o.files.Get(imageRef)
	if err != nil {
		return Result{}, apperr.New(apperr.KindRecognition, "loading image", err)
	}

	body, contentType, err := o.form(data, opts)
	if err != nil {
		return Result{}, apperr.New(apperr.KindRecognition, "building request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	reqID := uuid.NewString()
	if err := o.cfg.Limiter.Wait(ctx); err != nil {
		return Result{}, apperr.New(apperr.KindRecognition, "waiting for rate limit", apperr.Transport(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, body)
	if err != nil {
		return Result{}, apperr.New(apperr.KindRecognition, "creating request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", o.cfg.APIKey)

	start := time.Now()
	slog.Debug("ocr.request", "req_id", reqID, "ref", imageRef, "bytes", len(data))

	resp, err := o.client.Do(req)
	if err != nil {
		slog.Error("ocr.error", "req_id", reqID, "error", err)
		return Result{}, apperr.New(apperr.KindRecognition, "calling OCR API", apperr.Transport(err))
	}
	defer resp.Body.Close()

	slog.Debug("ocr.response", "req_id", reqID, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusTooManyRequests {
		o.cfg.Limiter.Backoff(retryAfter(resp.Header.Get("Retry-After")))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, apperr.New(apperr.KindRecognition,
			fmt.Sprintf("OCR API error (status %d)", resp.StatusCode),
			errors.New(strings.TrimSpace(string(respBody))))
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, apperr.New(apperr.KindRecognition, "decoding response", apperr.Transport(err))
	}

	if parsed.OCRExitCode != 1 || parsed.IsErroredOnProcessing {
		msg := "OCR processing failed"
		if len(parsed.ErrorMessage) > 0 {
			msg = parsed.ErrorMessage[0]
		}
		return Result{}, apperr.New(apperr.KindRecognition,
			fmt.Sprintf("OCR exit code %d", parsed.OCRExitCode), errors.New(msg))
	}
	if len(parsed.ParsedResults) == 0 {
		return Result{}, apperr.New(apperr.KindRecognition, "no parsed results", nil)
	}

	text := strings.TrimSpace(parsed.ParsedResults[0].ParsedText)
	if text == "" {
		return Result{}, apperr.New(apperr.KindInsufficientText, "no readable text found in the image", nil)
	}

	result := Result{
		Text:       text,
		Confidence: Confidence(text),
	}
	slog.Info("ocr.done", "req_id", reqID, "chars", len(text), "confidence", result.Confidence)
	return result, nil
}

func (o *OCRSpace) form(data []byte, opts Options) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"base64Image", "data:" + imageMIME(data) + ";base64," + base64.StdEncoding.EncodeToString(data)},
		{"language", o.cfg.Language},
		{"OCREngine", strconv.Itoa(o.cfg.Engine)},
		{"detectOrientation", strconv.FormatBool(opts.DetectOrientation)},
		{"scale", "true"},
		{"isTable", strconv.FormatBool(opts.IsTable)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", f.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// imageMIME sniffs the image type for the data URI. OCR.space accepts
// JPEG, PNG, GIF and PDF.
func imageMIME(data []byte) string {
	if isPDF(data) {
		return "application/pdf"
	}
	switch ct := http.DetectContentType(data); ct {
	case "image/png", "image/gif", "image/jpeg":
		return ct
	default:
		return "image/jpeg"
	}
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
