package quota

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type PendingCommit struct {
	ID          int64
	Minutes     int
	SessionType string
	Title       string
	CreatedAt   time.Time
}

// Cache is the local fallback for offline operation.
type Cache interface {
	LoadSnapshot() (State, bool, error)
	SaveSnapshot(State) error
	AppendPending(PendingCommit) error
	// PendingCommits returns unreconciled commits, oldest first.
	PendingCommits() ([]PendingCommit, error)
	RemovePending(id int64) error
	AddDayUsage(day string, minutes int) error
	DayUsage(day string) (int, error)
	MonthUsage(month string) (int, error)
}

// MemCache is a process-local Cache.
type MemCache struct {
	mu       sync.Mutex
	snapshot *State
	pending  []PendingCommit
	nextID   int64
	days     map[string]int
}

func NewMemCache() *MemCache {
	return &MemCache{days: make(map[string]int)}
}

func (m *MemCache) LoadSnapshot() (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return State{}, false, nil
	}
	return *m.snapshot, true, nil
}

func (m *MemCache) SaveSnapshot(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &s
	return nil
}

func (m *MemCache) AppendPending(p PendingCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.pending = append(m.pending, p)
	return nil
}

func (m *MemCache) PendingCommits() ([]PendingCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]PendingCommit(nil), m.pending...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemCache) RemovePending(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemCache) AddDayUsage(day string, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[day] += minutes
	return nil
}

func (m *MemCache) DayUsage(day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.days[day], nil
}

func (m *MemCache) MonthUsage(month string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for day, v := range m.days {
		if strings.HasPrefix(day, month) {
			total += v
		}
	}
	return total, nil
}
