package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zombor/rx-tracker/internal/apperr"
)

// Keys under which each record type keeps its list.
const (
	KeyDocuments  = "documents"
	KeyChats      = "chats"
	KeyHealthTips = "health_tips"
)

// List keeps a most-recent-first list of items as one JSON array under a
// single KV key. Append and Remove rewrite the whole array in one Set, so an
// item is either fully stored or absent.
type List[T any] struct {
	kv  KV
	key string
	id  func(T) string
	mu  sync.Mutex
}

// NewList creates a List stored under key. id returns an item's identity.
func NewList[T any](kv KV, key string, id func(T) string) *List[T] {
	return &List[T]{
		kv:  kv,
		key: key,
		id:  id,
	}
}

// Append stores item at the front, replacing any item with the same id.
func (l *List[T]) Append(item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.load()
	if err != nil {
		return err
	}

	id := l.id(item)
	updated := make([]T, 0, len(items)+1)
	updated = append(updated, item)
	for _, existing := range items {
		if l.id(existing) != id {
			updated = append(updated, existing)
		}
	}

	return l.save(updated)
}

// List returns all items, most recent first. Each call decodes a fresh copy.
func (l *List[T]) List() ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Get returns the item with id.
func (l *List[T]) Get(id string) (T, bool, error) {
	var zero T
	items, err := l.List()
	if err != nil {
		return zero, false, err
	}
	for _, item := range items {
		if l.id(item) == id {
			return item, true, nil
		}
	}
	return zero, false, nil
}

// Remove deletes the item with id. Removing a missing id is a no-op.
func (l *List[T]) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.load()
	if err != nil {
		return err
	}

	updated := make([]T, 0, len(items))
	for _, item := range items {
		if l.id(item) != id {
			updated = append(updated, item)
		}
	}
	if len(updated) == len(items) {
		return nil
	}

	return l.save(updated)
}

func (l *List[T]) load() ([]T, error) {
	raw, found, err := l.kv.Get(l.key)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, fmt.Sprintf("reading %s", l.key), err)
	}

	items := make([]T, 0)
	if !found || raw == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, apperr.New(apperr.KindStorage, fmt.Sprintf("decoding %s", l.key), err)
	}
	return items, nil
}

func (l *List[T]) save(items []T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return apperr.New(apperr.KindStorage, fmt.Sprintf("encoding %s", l.key), err)
	}
	if err := l.kv.Set(l.key, string(data)); err != nil {
		return apperr.New(apperr.KindStorage, fmt.Sprintf("writing %s", l.key), err)
	}
	return nil
}
