package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/rx-tracker/internal/apperr"
	"github.com/zombor/rx-tracker/internal/throttle"
)

const (
	// DefaultOpenAIBaseURL is Groq's OpenAI-compatible endpoint
	DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"
	// DefaultOpenAIModel is used when no model is configured
	DefaultOpenAIModel = "llama-3.3-70b-versatile"
)

// OpenAIConfig configures an OpenAI-compatible chat completions provider
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Limiter *throttle.Limiter
}

// OpenAI implements Completer against any OpenAI-compatible
// /chat/completions endpoint (Groq, OpenAI, vLLM, ...)
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates a new OpenAI-compatible provider
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{},
	}, nil
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a chat completion request
func (o *OpenAI) Complete(ctx context.Context, r Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	jsonData, err := json.Marshal(chatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	if err := o.cfg.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limit: %w", apperr.Transport(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	reqID := uuid.NewString()
	start := time.Now()
	slog.Debug("llm.request", "provider", "openai", "req_id", reqID, "model", o.cfg.Model, "messages", len(r.Messages))

	resp, err := o.client.Do(req)
	if err != nil {
		slog.Error("llm.error", "provider", "openai", "req_id", reqID, "error", err)
		return "", fmt.Errorf("calling chat completions API: %w", apperr.Transport(err))
	}
	defer resp.Body.Close()

	slog.Debug("llm.response", "provider", "openai", "req_id", reqID, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		o.cfg.Limiter.Backoff(time.Duration(secs) * time.Second)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat completions API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", apperr.Transport(err))
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("chat completions API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}

	return chatResp.Choices[0].Message.Content, nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
