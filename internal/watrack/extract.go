package watrack

import (
	"log"

	"github.com/ageentiq/watrack/internal/metrics"
)

// ExtractStatusEvents walks one execution's payload tree and pulls out every
// status callback matching targetMessageID. With an empty targetMessageID it
// runs in bulk mode: every status carrying a non-empty message id is emitted,
// with MessageID populated for later grouping.
//
// The tree shape is an external contract uncertainty, not something to fix:
// the run-output container shows up under "data" or "executionData", the
// webhook body under item.json.body or item.json directly, sometimes wrapped
// in a single-element list. Each level is an optional match; a missing or
// mismatched level yields no events from that branch.
func ExtractStatusEvents(execution ExecutionRecord, targetMessageID, expectedRecipient string) []StatusEvent {
	events := []StatusEvent{}
	bulk := targetMessageID == ""

	execData := childMap(execution.Payload, "data")
	if len(execData) == 0 {
		execData = childMap(execution.Payload, "executionData")
	}
	runData := childMap(childMap(execData, "resultData"), "runData")

	for _, nodeRuns := range runData {
		runs, ok := nodeRuns.([]any)
		if !ok {
			continue
		}
		for _, runAny := range runs {
			run, ok := runAny.(map[string]any)
			if !ok {
				continue
			}
			mainSlots, ok := childMap(run, "data")["main"].([]any)
			if !ok {
				continue
			}
			for _, slotAny := range mainSlots {
				items, ok := slotAny.([]any)
				if !ok {
					continue
				}
				for _, itemAny := range items {
					item, ok := itemAny.(map[string]any)
					if !ok {
						continue
					}
					body, ok := webhookBodyOf(item)
					if !ok {
						continue
					}
					if !isValidWebhookBody(body) {
						log.Printf("[warn] execution %s: webhook body failed shape validation, skipping", execution.ID)
						continue
					}
					statuses, ok := body["statuses"].([]any)
					if !ok {
						continue
					}
					for _, statusAny := range statuses {
						statusObj, ok := statusAny.(map[string]any)
						if !ok {
							continue
						}
						messageID, _ := statusObj["id"].(string)
						if bulk {
							if messageID == "" {
								continue
							}
						} else if messageID != targetMessageID {
							continue
						}

						status, ok := statusObj["status"].(string)
						if !ok || status == "" {
							status = "unknown"
						}
						timestamp := normalizeTimestamp(statusObj["timestamp"])
						recipientID, _ := statusObj["recipient_id"].(string)

						event := StatusEvent{
							Status:             status,
							Timestamp:          timestamp,
							TimestampFormatted: FormatTimestamp(timestamp),
							RecipientID:        recipientID,
							ExecutionID:        execution.ID,
							RecipientMismatch:  expectedRecipient != "" && recipientID != "" && recipientID != expectedRecipient,
						}
						if bulk {
							event.MessageID = messageID
						}
						events = append(events, event)
					}
				}
			}
		}
	}
	metrics.StatusEventsTotal.Add(float64(len(events)))
	return events
}

// webhookBodyOf locates the webhook body for one output item: item.json.body
// when present and non-empty, otherwise item.json itself, unwrapping a
// single-element list around either.
func webhookBodyOf(item map[string]any) (map[string]any, bool) {
	jsonField, ok := item["json"].(map[string]any)
	if !ok {
		return nil, false
	}
	var candidate any = jsonField["body"]
	if isEmptyValue(candidate) {
		candidate = any(jsonField)
	}
	if list, ok := candidate.([]any); ok {
		if len(list) == 0 {
			return nil, false
		}
		candidate = list[0]
	}
	body, ok := candidate.(map[string]any)
	return body, ok
}

func childMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]any)
	return child
}

func isEmptyValue(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	}
	return false
}
