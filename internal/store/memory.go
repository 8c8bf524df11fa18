package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/maltedev/uniscrape/internal/models"
)

type snapshot struct {
	Wishlists     map[string][]models.Book `json:"wishlists"`
	Subscriptions []models.Subscription    `json:"subscriptions"`
	History       map[string][]string      `json:"history"`
}

// Memory keeps everything in maps and, when a filename is set, rewrites a
// JSON snapshot after every mutation.
type Memory struct {
	mu            sync.RWMutex
	wishlists     map[string][]models.Book
	subscriptions []models.Subscription
	history       map[string][]string
	filename      string
}

func NewMemory(filename string) (*Memory, error) {
	m := &Memory{
		wishlists: make(map[string][]models.Book),
		history:   make(map[string][]string),
		filename:  filename,
	}
	if filename == "" {
		return m, nil
	}
	if err := m.load(); err != nil && !os.IsNotExist(err) {
		return nil, storageErr("load snapshot", err)
	}
	return m, nil
}

func (m *Memory) Wishlist(_ context.Context, userID string) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneBooks(m.wishlists[userID]), nil
}

func (m *Memory) SaveWishlist(_ context.Context, userID string, books []models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wishlists[userID] = cloneBooks(books)
	return m.persist()
}

func (m *Memory) Subscriptions(_ context.Context) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Subscription, len(m.subscriptions))
	copy(out, m.subscriptions)
	return out, nil
}

func (m *Memory) UserSubscriptions(_ context.Context, userID string) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Subscription{}
	for _, s := range m.subscriptions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) AddSubscription(_ context.Context, sub models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if s == sub {
			return nil
		}
	}
	m.subscriptions = append(m.subscriptions, sub)
	return m.persist()
}

func (m *Memory) RemoveSubscription(_ context.Context, userID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.subscriptions[:0]
	removed := false
	for _, s := range m.subscriptions {
		if s.UserID == userID && s.Email == email {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	m.subscriptions = kept
	if !removed {
		return false, nil
	}
	return true, m.persist()
}

func (m *Memory) SearchHistory(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneStrings(m.history[userID]), nil
}

func (m *Memory) SaveSearchHistory(_ context.Context, userID string, terms []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[userID] = cloneStrings(terms)
	return m.persist()
}

func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist()
}

// persist must be called with mu held.
func (m *Memory) persist() error {
	if m.filename == "" {
		return nil
	}
	data, err := json.MarshalIndent(snapshot{
		Wishlists:     m.wishlists,
		Subscriptions: m.subscriptions,
		History:       m.history,
	}, "", "  ")
	if err != nil {
		return storageErr("encode snapshot", err)
	}

	// Write to temp file first for atomicity
	tmp := m.filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return storageErr("write snapshot", err)
	}
	if err := os.Rename(tmp, m.filename); err != nil {
		return storageErr("rename snapshot", err)
	}
	return nil
}

func (m *Memory) load() error {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", m.filename, err)
	}
	if snap.Wishlists != nil {
		m.wishlists = snap.Wishlists
	}
	if snap.History != nil {
		m.history = snap.History
	}
	m.subscriptions = snap.Subscriptions
	return nil
}
