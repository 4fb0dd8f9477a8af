package notes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"livecap/account"
	"livecap/log"
)

var ErrSavedLocally = errors.New("note saved locally, will upload later")

type Remote interface {
	SaveNote(ctx context.Context, n account.Note) (string, error)
}

type Pending struct {
	ID   int64
	Note account.Note
}

// Cache holds notes the account service has not accepted yet.
type Cache interface {
	AppendPendingNote(account.Note) error
	PendingNotes() ([]Pending, error)
	RemovePendingNote(id int64) error
}

// Saver uploads notes, keeping a local copy when the service is unreachable.
type Saver struct {
	remote Remote
	cache  Cache
	mu     sync.Mutex
}

func NewSaver(remote Remote, cache Cache) *Saver {
	if cache == nil {
		cache = NewMemCache()
	}
	return &Saver{remote: remote, cache: cache}
}

// Save uploads n and, on success, any notes left over from earlier failures.
// The returned id is empty when the note was kept locally.
func (s *Saver) Save(ctx context.Context, n account.Note) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	var err error
	if s.remote == nil {
		err = errors.New("no account service configured")
	} else {
		id, err = s.remote.SaveNote(ctx, n)
	}
	if err != nil {
		if cerr := s.cache.AppendPendingNote(n); cerr != nil {
			return "", fmt.Errorf("save note: %w (local copy failed: %v)", err, cerr)
		}
		log.Warnf("note %q kept locally: %v", n.Title, err)
		return "", ErrSavedLocally
	}
	if _, ferr := s.flush(ctx); ferr != nil {
		log.Warnf("pending notes: %v", ferr)
	}
	return id, nil
}

// Flush uploads pending notes oldest first and reports how many were sent.
func (s *Saver) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(ctx)
}

func (s *Saver) flush(ctx context.Context) (int, error) {
	if s.remote == nil {
		return 0, nil
	}
	pending, err := s.cache.PendingNotes()
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, p := range pending {
		if _, err := s.remote.SaveNote(ctx, p.Note); err != nil {
			return sent, err
		}
		if err := s.cache.RemovePendingNote(p.ID); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		log.Infof("uploaded %d pending notes", sent)
	}
	return sent, nil
}

type MemCache struct {
	mu      sync.Mutex
	pending []Pending
	nextID  int64
}

func NewMemCache() *MemCache { return &MemCache{} }

func (m *MemCache) AppendPendingNote(n account.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.pending = append(m.pending, Pending{ID: m.nextID, Note: n})
	return nil
}

func (m *MemCache) PendingNotes() ([]Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Pending(nil), m.pending...), nil
}

func (m *MemCache) RemovePendingNote(id int64) error {
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
