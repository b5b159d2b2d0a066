package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.EventRecord
	byEvent map[string][]string
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.EventRecord),
		byEvent: make(map[string][]string),
		now:     time.Now,
	}
}

// WithClock overrides the time source used for processed timestamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(ctx context.Context, rec *models.EventRecord) error {
	prepare(rec, s.now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrRecordExists
	}
	cp := *rec
	s.records[rec.ID] = &cp
	s.byEvent[rec.EventID] = append(s.byEvent[rec.EventID], rec.ID)
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.EventStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if !rec.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, status)
	}

	processedAt := s.now().UTC()
	updated := *rec
	updated.Status = status
	updated.ErrorMessage = errMsg
	updated.ProcessedAt = &processedAt
	s.records[id] = &updated
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) FindByEventID(ctx context.Context, eventID string) (*models.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.EventRecord
	for _, id := range s.byEvent[eventID] {
		rec := s.records[id]
		if rec == nil || !rec.Admitted() {
			continue
		}
		if latest == nil || rec.ReceivedAt.After(latest.ReceivedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) Stats(ctx context.Context, since time.Time) (*models.EventStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.EventStats{}
	var last *models.EventRecord
	for _, rec := range s.records {
		stats.TotalEvents++
		if rec.Verified {
			stats.VerifiedEvents++
		}
		if !rec.ReceivedAt.Before(since) {
			stats.RecentEvents++
		}
		if last == nil || rec.ReceivedAt.After(last.ReceivedAt) {
			last = rec
		}
	}
	if last != nil {
		stats.LastEvent = last.Summary()
	}
	return stats, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status models.EventStatus, limit int) ([]*models.EventRecord, error) {
	s.mu.RLock()
	out := make([]*models.EventRecord, 0)
	for _, rec := range s.records {
		if rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, rec := range s.records {
		if !rec.ReceivedAt.Before(before) {
			continue
		}
		delete(s.records, id)
		ids := s.byEvent[rec.EventID]
		for i, other := range ids {
			if other == id {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(s.byEvent, rec.EventID)
		} else {
			s.byEvent[rec.EventID] = ids
		}
		removed++
	}
	return removed, nil
}

// prepare fills defaults for a record about to be created.
func prepare(rec *models.EventRecord, now func() time.Time) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.StatusReceived
	}
	if rec.Source == "" {
		rec.Source = models.SourceGuesty
	}
}
