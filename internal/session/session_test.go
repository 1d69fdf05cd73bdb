package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moltby/internal/transport"
)

func TestTouchAndList(t *testing.T) {
	t.Parallel()
	s := NewStore(10)
	clock := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	s.Touch(&transport.Message{ChatID: 1, ChatType: "private", Username: "ann", FirstName: "Ann", Text: "hi"})
	s.Touch(&transport.Message{ChatID: 2, ChatType: "group", Text: "yo"})
	got := s.Touch(&transport.Message{ChatID: 1, ChatType: "private", Text: "again"})

	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, "ann", got.Username)
	assert.Equal(t, "again", got.LastMessage)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].ChatID)
	assert.Equal(t, "2", list[1].ChatID)
}

func TestEvictsLeastRecentlyActive(t *testing.T) {
	t.Parallel()
	s := NewStore(2)
	clock := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	s.Touch(&transport.Message{ChatID: 1})
	s.Touch(&transport.Message{ChatID: 2})
	s.Touch(&transport.Message{ChatID: 1})
	s.Touch(&transport.Message{ChatID: 3})

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("2")
	assert.False(t, ok)
	_, ok = s.Get("1")
	assert.True(t, ok)

	s.Reset()
	assert.Zero(t, s.Len())
}
