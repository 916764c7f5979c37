package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps registrations in process and sweeps expired ones on an
// interval.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // user -> record ID -> record

	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryStore creates a store sweeping every cleanupInterval.
// A non-positive interval disables the sweep.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]map[string]Record),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}
	return s
}

func (s *MemoryStore) Register(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(s.now()); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[r.User]
	if !ok {
		byID = make(map[string]Record)
		s.records[r.User] = byID
	}
	byID[r.ID] = r

	slog.Info("[Presence] Registered",
		"user", r.User,
		"contact", r.ContactURI,
		"expires_at", r.ExpiresAt,
	)
	return r, nil
}

func (s *MemoryStore) Unregister(ctx context.Context, user, contactURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[user]
	if !ok {
		return nil
	}
	delete(byID, RecordID(user, contactURI))
	if len(byID) == 0 {
		delete(s.records, user)
	}
	slog.Info("[Presence] Unregistered", "user", user, "contact", contactURI)
	return nil
}

// RecordsByUser returns live records ordered by registration time.
func (s *MemoryStore) RecordsByUser(ctx context.Context, user string) ([]Record, error) {
	now := s.now()

	s.mu.RLock()
	var out []Record
	for _, r := range s.records[user] {
		if r.Live(now) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

// Len returns the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byID := range s.records {
		n += len(byID)
	}
	return n
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep drops expired records and returns how many were removed.
func (s *MemoryStore) sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for user, byID := range s.records {
		for id, r := range byID {
			if !r.Live(now) {
				delete(byID, id)
				removed++
			}
		}
		if len(byID) == 0 {
			delete(s.records, user)
		}
	}
	if removed > 0 {
		slog.Debug("[Presence] Swept expired registrations", "count", removed)
	}
	return removed
}

var _ Store = (*MemoryStore)(nil)
