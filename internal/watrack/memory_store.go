package watrack

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStatusStore applies the same merge decision rule as the Postgres
// store, under a single mutex. Used in tests and as the serve-mode default
// when no DSN is configured.
type InMemoryStatusStore struct {
	mu   sync.Mutex
	docs map[string]PersistedStatus
	now  func() time.Time
}

func NewInMemoryStatusStore() *InMemoryStatusStore {
	return &InMemoryStatusStore{
		docs: map[string]PersistedStatus{},
		now:  time.Now,
	}
}

func (s *InMemoryStatusStore) UpsertMessage(ctx context.Context, workflowID string, record MessageStatusRecord) (UpsertOutcome, error) {
	if record.MessageID == "" {
		return OutcomeFailed, ErrInvalidInput
	}
	history := DeduplicateEvents(record.History)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.docs[record.MessageID]
	if !exists {
		s.docs[record.MessageID] = PersistedStatus{
			MessageID:                record.MessageID,
			RecipientID:              record.WaID,
			WorkflowID:               workflowID,
			LatestStatus:             record.LatestStatus,
			LatestTimestamp:          record.LatestTimestamp,
			LatestTimestampFormatted: record.LatestTimestampFormatted,
			StatusCount:              len(history),
			StatusHistory:            history,
			FirstSeenAt:              now,
			LastUpdatedAt:            now,
			LastScannedAt:            now,
		}
		return OutcomeInserted, nil
	}

	changed := tsOrZero(record.LatestTimestamp) > tsOrZero(existing.LatestTimestamp) ||
		record.LatestStatus != existing.LatestStatus
	if !changed {
		existing.LastScannedAt = now
		s.docs[record.MessageID] = existing
		return OutcomeUnchanged, nil
	}

	existing.RecipientID = record.WaID
	existing.WorkflowID = workflowID
	existing.LatestStatus = record.LatestStatus
	existing.LatestTimestamp = record.LatestTimestamp
	existing.LatestTimestampFormatted = record.LatestTimestampFormatted
	existing.StatusCount = len(history)
	existing.StatusHistory = history
	existing.LastUpdatedAt = now
	existing.LastScannedAt = now
	s.docs[record.MessageID] = existing
	return OutcomeUpdated, nil
}

func (s *InMemoryStatusStore) GetMessage(ctx context.Context, messageID string) (PersistedStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[messageID]
	if !ok {
		return PersistedStatus{}, ErrNotFound
	}
	return doc, nil
}

func (s *InMemoryStatusStore) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]PersistedStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PersistedStatus, 0, len(s.docs))
	for _, doc := range s.docs {
		if recipientID != "" && doc.RecipientID != recipientID {
			continue
		}
		out = append(out, doc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := tsOrZero(out[i].LatestTimestamp), tsOrZero(out[j].LatestTimestamp)
		if ti != tj {
			return ti > tj
		}
		return out[i].MessageID < out[j].MessageID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStatusStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, doc := range s.docs {
		counts[doc.LatestStatus]++
	}
	return counts, nil
}

func (s *InMemoryStatusStore) Close() error {
	return nil
}
