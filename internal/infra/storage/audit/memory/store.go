// Package memory keeps override audit records in process memory for gates
// that run without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

// DefaultListLimit caps ListOverrides when the caller passes no limit.
const DefaultListLimit = 50

var _ gate.AuditRepository = (*AuditStore)(nil)

// AuditStore is an in-memory gate.AuditRepository.
type AuditStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]gate.AuditRecord
}

// NewAuditStore creates an empty store.
func NewAuditStore() *AuditStore {
	return &AuditStore{records: make(map[uuid.UUID]gate.AuditRecord)}
}

// SaveOverride stores rec. Saving the same record ID twice keeps the first.
func (s *AuditStore) SaveOverride(ctx context.Context, rec gate.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.records[rec.ID] = rec
	}
	return nil
}

// ListOverrides returns records newest first. An empty gateID lists every gate.
func (s *AuditStore) ListOverrides(ctx context.Context, gateID string, limit int) ([]gate.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	out := make([]gate.AuditRecord, 0, len(s.records))
	for _, rec := range s.records {
		if gateID == "" || rec.GateID == gateID {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
