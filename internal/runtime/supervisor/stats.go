package supervisor

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Stats is a best-effort view of goroutines by name, for /health style output.
type Stats struct {
	Name        string        `json:"name"`
	Active      int           `json:"active"`
	Started     uint64        `json:"started"`
	Restarts    uint64        `json:"restarts"`
	Panics      uint64        `json:"panics"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastErr     string        `json:"last_err,omitempty"`
	LastPanic   string        `json:"last_panic,omitempty"`
	Runtime     time.Duration `json:"runtime"`
}

type Snapshot struct {
	FirstError string  `json:"first_error,omitempty"`
	Goroutines []Stats `json:"goroutines"`
}

type statsTable struct {
	mu sync.Mutex
	m  map[string]*Stats
}

func (t *statsTable) get(name string) *Stats {
	if t.m == nil {
		t.m = map[string]*Stats{}
	}
	st := t.m[name]
	if st == nil {
		st = &Stats{Name: name}
		t.m[name] = st
	}
	return st
}

func (t *statsTable) start(name string, restart bool) time.Time {
	now := time.Now()
	t.mu.Lock()
	st := t.get(name)
	st.Active++
	st.Started++
	if restart {
		st.Restarts++
	}
	st.LastStartAt = now
	t.mu.Unlock()
	return now
}

func (t *statsTable) stop(name string, startedAt time.Time, err error) {
	t.mu.Lock()
	st := t.get(name)
	st.Active = max(0, st.Active-1)
	st.Runtime += time.Since(startedAt)
	if err != nil {
		st.LastErr = err.Error()
	}
	t.mu.Unlock()
}

func (t *statsTable) panicked(name string, p any) {
	t.mu.Lock()
	st := t.get(name)
	st.Panics++
	st.LastPanic = fmt.Sprint(p)
	t.mu.Unlock()
}

// Snapshot lists goroutine stats, active first, then by name.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	var snap Snapshot
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.stats.mu.Lock()
	for _, st := range s.stats.m {
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	s.stats.mu.Unlock()

	slices.SortFunc(snap.Goroutines, func(a, b Stats) int {
		if a.Active != b.Active {
			return b.Active - a.Active
		}
		return strings.Compare(a.Name, b.Name)
	})
	return snap
}

// Active is the number of goroutines currently running.
func (s *Supervisor) Active() int {
	if s == nil {
		return 0
	}
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	n := 0
	for _, st := range s.stats.m {
		n += st.Active
	}
	return n
}
