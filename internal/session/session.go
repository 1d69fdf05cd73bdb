// Package session tracks the conversations the bot has seen since it started.
package session

import (
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"moltby/internal/transport"
)

// Session is the last known state of one chat.
type Session struct {
	ChatID       string    `json:"chatId"`
	ChatType     string    `json:"chatType"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	LastMessage  string    `json:"lastMessage"`
	LastActive   time.Time `json:"lastActive"`
	MessageCount int       `json:"messageCount"`
}

// Store is an in-memory, size-bounded session table. When full, the least
// recently active session is evicted.
type Store struct {
	mu  sync.RWMutex
	max int
	m   map[string]*Session
	now func() time.Time
}

const DefaultMaxSessions = 1000

func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &Store{max: max, m: map[string]*Session{}, now: time.Now}
}

// Touch records an inbound message and returns the updated session.
func (s *Store) Touch(msg *transport.Message) Session {
	id := strconv.FormatInt(msg.ChatID, 10)

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[id]
	if !ok {
		if len(s.m) >= s.max {
			s.evictOldestLocked()
		}
		cur = &Session{ChatID: id}
		s.m[id] = cur
	}
	cur.ChatType = msg.ChatType
	if msg.Username != "" {
		cur.Username = msg.Username
	}
	if msg.FirstName != "" {
		cur.FirstName = msg.FirstName
	}
	if msg.LastName != "" {
		cur.LastName = msg.LastName
	}
	cur.LastMessage = msg.Text
	cur.LastActive = s.now().UTC()
	cur.MessageCount++
	return *cur
}

func (s *Store) evictOldestLocked() {
	var oldest string
	var at time.Time
	for id, ss := range s.m {
		if oldest == "" || ss.LastActive.Before(at) {
			oldest, at = id, ss.LastActive
		}
	}
	delete(s.m, oldest)
}

func (s *Store) Get(chatID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.m[chatID]
	if !ok {
		return Session{}, false
	}
	return *ss, true
}

// List returns sessions, most recently active first.
func (s *Store) List() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.m))
	for _, ss := range s.m {
		out = append(out, *ss)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Session) int {
		if c := b.LastActive.Compare(a.LastActive); c != 0 {
			return c
		}
		return strings.Compare(a.ChatID, b.ChatID)
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Reset drops every session (used when another bot account takes over).
func (s *Store) Reset() {
	s.mu.Lock()
	s.m = map[string]*Session{}
	s.mu.Unlock()
}
