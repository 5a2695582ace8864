package watrack

import "sort"

// MessageStatusRecord is the reconciled view of one message. LatestStatus and
// LatestTimestamp are always derived from History, never set independently.
type MessageStatusRecord struct {
	MessageID                string        `json:"messageId"`
	WaID                     string        `json:"waId"`
	LatestStatus             string        `json:"latestStatus"`
	LatestTimestamp          *int64        `json:"latestTimestamp"`
	LatestTimestampFormatted *string       `json:"latestTimestampFormatted"`
	StatusCount              int           `json:"statusCount"`
	History                  []StatusEvent `json:"history"`
}

// DeduplicateEvents drops repeats of the same (status, timestamp, recipient,
// execution) tuple. First occurrence wins; relative order is preserved.
func DeduplicateEvents(events []StatusEvent) []StatusEvent {
	seen := make(map[string]struct{}, len(events))
	deduplicated := make([]StatusEvent, 0, len(events))
	for _, event := range events {
		key := event.dedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduplicated = append(deduplicated, event)
	}
	return deduplicated
}

// sortByRecency orders events by (timestamp-or-0, priority) descending, in
// place and stably. An absent timestamp sorts as 0, so a present timestamp
// always outranks an absent one at equal priority.
func sortByRecency(events []StatusEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		ti, tj := tsOrZero(events[i].Timestamp), tsOrZero(events[j].Timestamp)
		if ti != tj {
			return ti > tj
		}
		return statusPriority(events[i].Status) > statusPriority(events[j].Status)
	})
}

// ResolveLatest picks the authoritative status for one message's history.
// Mismatched events are excluded from ranking; if every event is mismatched
// the result is the wa_id_mismatch sentinel with the first event's timestamp,
// and an empty history resolves to not_found.
func ResolveLatest(history []StatusEvent) (string, *int64) {
	if len(history) == 0 {
		return StatusNotFound, nil
	}
	valid := make([]StatusEvent, 0, len(history))
	for _, event := range history {
		if !event.RecipientMismatch {
			valid = append(valid, event)
		}
	}
	if len(valid) == 0 {
		return StatusRecipientMismatch, history[0].Timestamp
	}
	sortByRecency(valid)
	return valid[0].Status, valid[0].Timestamp
}

// BuildMessageRecords groups bulk-scan events by message id, resolves each
// group, and returns the records most-recent-first, truncated to maxMessages
// (0 = no cap). The second return value is the number of distinct messages
// before truncation.
func BuildMessageRecords(events []StatusEvent, maxMessages int) ([]MessageStatusRecord, int) {
	order := []string{}
	groups := map[string][]StatusEvent{}
	for _, event := range events {
		if event.MessageID == "" {
			continue
		}
		if _, known := groups[event.MessageID]; !known {
			order = append(order, event.MessageID)
		}
		groups[event.MessageID] = append(groups[event.MessageID], event)
	}

	records := make([]MessageStatusRecord, 0, len(order))
	for _, messageID := range order {
		history := DeduplicateEvents(groups[messageID])
		sortByRecency(history)
		latestStatus, latestTimestamp := ResolveLatest(history)
		records = append(records, MessageStatusRecord{
			MessageID:                messageID,
			WaID:                     history[0].RecipientID,
			LatestStatus:             latestStatus,
			LatestTimestamp:          latestTimestamp,
			LatestTimestampFormatted: FormatTimestamp(latestTimestamp),
			StatusCount:              len(history),
			History:                  history,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return tsOrZero(records[i].LatestTimestamp) > tsOrZero(records[j].LatestTimestamp)
	})
	total := len(records)
	if maxMessages > 0 && len(records) > maxMessages {
		records = records[:maxMessages]
	}
	return records, total
}
