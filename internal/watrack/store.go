package watrack

import (
	"context"
	"log"
	"time"

	"github.com/ageentiq/watrack/internal/metrics"
)

// UpsertOutcome classifies what one merge did to the store.
type UpsertOutcome int

const (
	OutcomeFailed UpsertOutcome = iota
	OutcomeInserted
	OutcomeUpdated
	OutcomeUnchanged
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

type UpsertStats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// PersistedStatus is the durable counterpart of a MessageStatusRecord.
// FirstSeenAt is set once and never overwritten; LastUpdatedAt moves only
// when the status actually advanced; LastScannedAt moves on every scan.
type PersistedStatus struct {
	MessageID                string        `json:"messageId"`
	RecipientID              string        `json:"recipientId"`
	WorkflowID               string        `json:"workflowId"`
	LatestStatus             string        `json:"latestStatus"`
	LatestTimestamp          *int64        `json:"latestTimestamp"`
	LatestTimestampFormatted *string       `json:"latestTimestampFormatted"`
	StatusCount              int           `json:"statusCount"`
	StatusHistory            []StatusEvent `json:"statusHistory"`
	FirstSeenAt              time.Time     `json:"firstSeenAt"`
	LastUpdatedAt            time.Time     `json:"lastUpdatedAt"`
	LastScannedAt            time.Time     `json:"lastScannedAt"`
}

// StatusStore holds at most one document per message id. UpsertMessage must
// apply the merge decision atomically: concurrent overlapping scans converge
// through the store, not through any coordination between runs.
type StatusStore interface {
	UpsertMessage(ctx context.Context, workflowID string, record MessageStatusRecord) (UpsertOutcome, error)
	GetMessage(ctx context.Context, messageID string) (PersistedStatus, error)
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]PersistedStatus, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	Close() error
}

// UpsertMessages merges a batch record by record. A malformed record or a
// rejected write is counted and logged, never aborts the rest of the batch.
func UpsertMessages(ctx context.Context, store StatusStore, workflowID string, records []MessageStatusRecord) UpsertStats {
	stats := UpsertStats{}
	for _, record := range records {
		if record.MessageID == "" {
			stats.Failed++
			log.Printf("[warn] skipping record with empty messageId")
			continue
		}
		outcome, err := store.UpsertMessage(ctx, workflowID, record)
		if err != nil {
			stats.Failed++
			log.Printf("[warn] upsert failed for message %s: %v", record.MessageID, err)
			continue
		}
		metrics.StoreUpsertsTotal.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case OutcomeInserted:
			stats.Inserted++
		case OutcomeUpdated:
			stats.Updated++
		case OutcomeUnchanged:
			stats.Unchanged++
		default:
			stats.Failed++
		}
	}
	return stats
}

// RecordFromTrackResult reshapes a targeted-scan result for persistence.
func RecordFromTrackResult(result *TrackResult) MessageStatusRecord {
	return MessageStatusRecord{
		MessageID:                result.MessageID,
		WaID:                     result.WaID,
		LatestStatus:             result.LatestStatus,
		LatestTimestamp:          result.LatestTimestamp,
		LatestTimestampFormatted: result.LatestTimestampFormatted,
		StatusCount:              result.FoundInExecutionsCount,
		History:                  result.History,
	}
}
