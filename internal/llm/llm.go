package llm

import (
	"context"
	"errors"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when a provider answers without any text
var ErrEmptyResponse = errors.New("empty response from model")

// Message is one turn of a chat-style prompt
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completer defines the interface for language-model providers
type Completer interface {
	// Complete sends the messages and returns the model's reply text
	Complete(ctx context.Context, req Request) (string, error)
	// Close releases resources held by the provider
	Close() error
}

// System returns a system message
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user message
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant message
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
