package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/rx-tracker/internal/llm"
	"github.com/zombor/rx-tracker/internal/storage"
)

// Message senders
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message statuses
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// DefaultLanguage is used when a message does not name one
const DefaultLanguage = "English"

// fallbackReply is stored when the model answers with nothing
const fallbackReply = "Sorry, I could not generate a response."

var (
	// ErrChatNotFound is returned for an unknown chat id
	ErrChatNotFound = errors.New("chat not found")
	// ErrEmptyMessage is returned when the message has no content
	ErrEmptyMessage = errors.New("message is empty")
)

// Message is one turn of a chat
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// Chat is a conversation with the assistant
type Chat struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatStore persists chats most recent first
type ChatStore interface {
	Append(chat Chat) error
	List() ([]Chat, error)
	Get(id string) (Chat, bool, error)
	Remove(id string) error
}

// NewChatStore keeps chats as one list under the chats key of kv
func NewChatStore(kv storage.KV) *storage.List[Chat] {
	return storage.NewList(kv, storage.KeyChats, func(c Chat) string {
		return c.ID
	})
}

// IDGenerator generates unique IDs for chats and messages
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

type clock struct{}

func (clock) Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// Chats runs assistant conversations
type Chats struct {
	store       ChatStore
	llm         llm.Completer
	idGenerator IDGenerator
	timeSource  TimeSource

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewChats creates a new Chats with default ID generator and time source
func NewChats(store ChatStore, completer llm.Completer) *Chats {
	return NewChatsWithDeps(store, completer, uuidGenerator{}, clock{})
}

// NewChatsWithDeps creates a new Chats with custom dependencies for testing
func NewChatsWithDeps(store ChatStore, completer llm.Completer, idGen IDGenerator, timeSrc TimeSource) *Chats {
	return &Chats{
		store:       store,
		llm:         completer,
		idGenerator: idGen,
		timeSource:  timeSrc,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lock serializes updates to one chat and returns the matching unlock
func (c *Chats) lock(chatID string) func() {
	c.mu.Lock()
	l, ok := c.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[chatID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func systemInstruction(language string) string {
	return fmt.Sprintf("You are August, a helpful AI health assistant. Provide accurate, helpful responses while being friendly and professional. "+
		"Always remind users to consult healthcare professionals for medical advice. Respond in %s language. "+
		"If the user asks in a specific language, respond in that language.", language)
}

// Send adds a user message to a chat (a new one when chatID is empty), asks
// the assistant for a reply and stores the result. If the model call fails
// the user message is kept, marked failed. Sends to the same chat run one
// at a time.
func (c *Chats) Send(ctx context.Context, chatID, content, language string) (*Chat, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if language == "" {
		language = DefaultLanguage
	}
	if chatID != "" {
		defer c.lock(chatID)()
	}

	now := c.timeSource.Now()
	var chat Chat
	if chatID == "" {
		chat = Chat{ID: c.idGenerator.Generate(), CreatedAt: now}
	} else {
		existing, found, err := c.store.Get(chatID)
		if err != nil {
			return nil, fmt.Errorf("getting chat: %w", err)
		}
		if !found {
			return nil, ErrChatNotFound
		}
		chat = existing
	}

	chat.Messages = append(chat.Messages, Message{
		ID:        c.idGenerator.Generate(),
		Content:   content,
		Sender:    SenderUser,
		Timestamp: now,
		Status:    StatusSent,
	})
	chat.UpdatedAt = now

	reply, err := c.llm.Complete(ctx, llm.Request{
		Messages:    conversation(chat, language),
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	if errors.Is(err, llm.ErrEmptyResponse) {
		reply, err = fallbackReply, nil
	}
	if err != nil {
		slog.Error("Failed to get assistant reply", "chat_id", chat.ID, "error", err)
		chat.Messages[len(chat.Messages)-1].Status = StatusFailed
		if saveErr := c.store.Append(chat); saveErr != nil {
			slog.Error("Failed to save chat", "chat_id", chat.ID, "error", saveErr)
		}
		return nil, fmt.Errorf("getting assistant reply: %w", err)
	}

	replyTime := c.timeSource.Now()
	chat.Messages = append(chat.Messages, Message{
		ID:        c.idGenerator.Generate(),
		Content:   reply,
		Sender:    SenderAssistant,
		Timestamp: replyTime,
		Status:    StatusSent,
	})
	chat.UpdatedAt = replyTime

	if err := c.store.Append(chat); err != nil {
		return nil, fmt.Errorf("saving chat: %w", err)
	}
	return &chat, nil
}

// conversation builds the prompt: the system instruction followed by every
// delivered message of the chat.
func conversation(chat Chat, language string) []llm.Message {
	messages := []llm.Message{llm.System(systemInstruction(language))}
	for _, m := range chat.Messages {
		if m.Status == StatusFailed {
			continue
		}
		switch m.Sender {
		case SenderUser:
			messages = append(messages, llm.User(m.Content))
		case SenderAssistant:
			messages = append(messages, llm.Assistant(m.Content))
		}
	}
	return messages
}

// List returns all chats, most recently active first
func (c *Chats) List() ([]Chat, error) {
	chats, err := c.store.List()
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	return chats, nil
}

// Get retrieves a chat by ID
func (c *Chats) Get(id string) (*Chat, error) {
	chat, found, err := c.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting chat: %w", err)
	}
	if !found {
		return nil, ErrChatNotFound
	}
	return &chat, nil
}

// Delete removes a chat. Deleting an unknown id is not an error.
func (c *Chats) Delete(id string) error {
	defer c.lock(id)()
	if err := c.store.Remove(id); err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	return nil
}
