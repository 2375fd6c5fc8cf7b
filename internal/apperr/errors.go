package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind names the pipeline stage an error came from
type Kind string

const (
	KindCapture          Kind = "CAPTURE"
	KindPreprocess       Kind = "PREPROCESS"
	KindRecognition      Kind = "RECOGNITION"
	KindInsufficientText Kind = "INSUFFICIENT_TEXT"
	KindExtraction       Kind = "EXTRACTION"
	KindStorage          Kind = "STORAGE"
)

// Sentinels for errors.Is. An *AppError matches the sentinel of its Kind
var (
	ErrCapture          = errors.New("capture failed")
	ErrPreprocess       = errors.New("preprocessing failed")
	ErrRecognition      = errors.New("text recognition failed")
	ErrInsufficientText = errors.New("not enough text")
	ErrExtraction       = errors.New("extraction failed")
	ErrStorage          = errors.New("storage failed")

	// ErrTimeout marks a remote call that ran past its deadline. Callers
	// treat it like any other network failure of the same stage
	ErrTimeout = errors.New("request timed out")
)

var sentinels = map[Kind]error{
	KindCapture:          ErrCapture,
	KindPreprocess:       ErrPreprocess,
	KindRecognition:      ErrRecognition,
	KindInsufficientText: ErrInsufficientText,
	KindExtraction:       ErrExtraction,
	KindStorage:          ErrStorage,
}

// AppError is an error raised at a pipeline stage boundary
type AppError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for e.Kind
func (e *AppError) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New creates an AppError
func New(kind Kind, message string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the Kind of the first AppError in err's chain
func KindOf(err error) (Kind, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

// Transport tags deadline failures of an outbound call with ErrTimeout
func Transport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// UserMessage maps an error to the message category shown to users. The
// underlying cause is for logs only
func UserMessage(err error) string {
	kind, ok := KindOf(err)
	if !ok {
		return "Something went wrong. Please try again."
	}
	switch kind {
	case KindCapture, KindPreprocess:
		return "Could not capture the image. Please try again."
	case KindRecognition:
		return "Could not read the image. Try a clearer, well-lit photo."
	case KindInsufficientText:
		return "Not enough readable text was found in the image. Try a clearer photo."
	case KindExtraction:
		return "Analysis failed. Please try again."
	case KindStorage:
		return "Saving failed. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
