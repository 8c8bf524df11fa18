package browser

import "sync"

// SessionStore maps a user identity to the page that user owns. Only Pool
// mutates it.
type SessionStore interface {
	Load(userID string) (Page, bool)
	Store(userID string, page Page)
	Delete(userID string)
	Len() int
	Range(fn func(userID string, page Page) bool)
}

type MemorySessionStore struct {
	mu    sync.RWMutex
	pages map[string]Page
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{pages: make(map[string]Page)}
}

func (s *MemorySessionStore) Load(userID string) (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[userID]
	return p, ok
}

func (s *MemorySessionStore) Store(userID string, page Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[userID] = page
}

func (s *MemorySessionStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, userID)
}

func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// Range iterates over a snapshot, so fn may call back into the store.
func (s *MemorySessionStore) Range(fn func(userID string, page Page) bool) {
	s.mu.RLock()
	snapshot := make(map[string]Page, len(s.pages))
	for k, v := range s.pages {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
