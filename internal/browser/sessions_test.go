package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type nopPage struct{ Page }

func TestMemorySessionStore(t *testing.T) {
	s := NewMemorySessionStore()
	p := &nopPage{}

	_, ok := s.Load("alice")
	assert.False(t, ok)

	s.Store("alice", p)
	got, ok := s.Load("alice")
	assert.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, 1, s.Len())

	seen := 0
	s.Range(func(userID string, _ Page) bool {
		s.Delete(userID)
		seen++
		return true
	})
	assert.Equal(t, 1, seen)
	assert.Equal(t, 0, s.Len())
}
