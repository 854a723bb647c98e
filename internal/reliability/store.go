package reliability

import (
	"context"
	"sync"
	"time"
)

// ParkedMessage records a message moved to the final DLQ
type ParkedMessage struct {
	ID            string    `json:"id"`
	SourceQueue   string    `json:"sourceQueue"`
	MessageID     string    `json:"messageId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	RoutingKey    string    `json:"routingKey"`
	RetryCount    int       `json:"retryCount"`
	LastError     string    `json:"lastError,omitempty"`
	Body          string    `json:"body"`
	ParkedAt      time.Time `json:"parkedAt"`
}

// Store keeps a queryable record of parked messages. The broker queue stays
// the source of truth; the store is an audit trail.
type Store interface {
	Save(ctx context.Context, msg *ParkedMessage) error
	Get(ctx context.Context, id string) (*ParkedMessage, error)
	// List returns up to limit records, newest first
	List(ctx context.Context, limit int) ([]*ParkedMessage, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

const defaultMemoryCapacity = 1000

// MemoryStore is a bounded in-process Store. The oldest record is evicted
// once capacity is reached.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []*ParkedMessage
	capacity int
}

// NewMemoryStore creates a store holding at most capacity records
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Save implements Store
func (s *MemoryStore) Save(_ context.Context, msg *ParkedMessage) error {
	stored := *msg

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.capacity {
		s.records = s.records[1:]
	}
	s.records = append(s.records, &stored)
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, id string) (*ParkedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.ID == id {
			found := *r
			return &found, nil
		}
	}
	return nil, &StoreError{Op: "get", ID: id, Err: ErrParkedMessageNotFound}
}

// List implements Store
func (s *MemoryStore) List(_ context.Context, limit int) ([]*ParkedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	out := make([]*ParkedMessage, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := *s.records[i]
		out = append(out, &r)
	}
	return out, nil
}

// Count implements Store
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
