// Package audit records security decisions for compliance review. The sink
// accepts finished records off the request's critical path; the store is the
// persistence boundary behind it.
package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/promptgate/promptgate/pkg/domain"
)

// ErrStoreClosed is returned when a write reaches a store that has shut down.
var ErrStoreClosed = errors.New("audit store closed")

// Query narrows and pages a record listing.
type Query struct {
	Start  time.Time
	End    time.Time
	Offset int
	Limit  int
}

// Store exposes persistence operations for audit records. Records are
// append-only; there is no update or delete surface.
type Store interface {
	Save(ctx context.Context, record *domain.AuditRecord) error
	ListByUser(ctx context.Context, userID string, q Query) ([]*domain.AuditRecord, error)
	CountHighRisk(ctx context.Context, userID string, threshold int) (int64, error)
	Close() error
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*domain.AuditRecord
	closed  bool
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save appends a record to memory.
func (s *MemoryStore) Save(ctx context.Context, record *domain.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.records = append(s.records, record)
	return nil
}

// ListByUser returns the user's records, newest first, filtered by the
// query's time range and paged by its offset and limit.
func (s *MemoryStore) ListByUser(_ context.Context, userID string, q Query) ([]*domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.AuditRecord
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if !q.Start.IsZero() && rec.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && rec.Timestamp.After(q.End) {
			continue
		}
		matched = append(matched, rec)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// CountHighRisk counts the user's records at or above the score threshold.
func (s *MemoryStore) CountHighRisk(_ context.Context, userID string, threshold int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, rec := range s.records {
		if rec.UserID == userID && rec.RiskScore >= threshold {
			count++
		}
	}
	return count, nil
}

// Close marks the store closed; subsequent saves fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
