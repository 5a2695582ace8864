package watrack

import (
	"context"
	"log"
	"sort"

	"github.com/ageentiq/watrack/internal/metrics"
)

const defaultScanLimit = 200

// TrackResult is the targeted-scan output, shaped for direct JSON emission.
type TrackResult struct {
	WaID                     string        `json:"waId"`
	MessageID                string        `json:"messageId"`
	WorkflowID               string        `json:"workflowId"`
	LatestStatus             string        `json:"latestStatus"`
	LatestTimestamp          *int64        `json:"latestTimestamp"`
	LatestTimestampFormatted *string       `json:"latestTimestampFormatted"`
	History                  []StatusEvent `json:"history"`
	FoundInExecutionsCount   int           `json:"foundInExecutionsCount"`
}

// ListResult is the bulk-scan output.
type ListResult struct {
	WorkflowID      string                `json:"workflowId"`
	FilterRecipient string                `json:"filterRecipient"`
	TotalMessages   int                   `json:"totalMessages"`
	Messages        []MessageStatusRecord `json:"messages"`
}

type TrackOptions struct {
	Limit int   // max executions to scan, default 200
	Since int64 // drop events with timestamp < Since (0 = no filter)
}

type ListOptions struct {
	Limit       int   // max executions to scan, default 200
	MaxMessages int   // max records to return, default 10
	Since       int64 // drop events with timestamp < Since (0 = no filter)
}

// Scanner runs the fetch -> extract -> reconcile pipeline against one
// workflow's execution history.
type Scanner struct {
	source     ExecutionSource
	workflowID string
}

func NewScanner(source ExecutionSource, workflowID string) *Scanner {
	return &Scanner{source: source, workflowID: workflowID}
}

func (s *Scanner) WorkflowID() string {
	return s.workflowID
}

// TrackMessage scans executions most-recent-first for callbacks about one
// message. Once a terminal status shows up the remaining executions are
// neither fetched nor scanned: terminal states are never superseded.
func (s *Scanner) TrackMessage(ctx context.Context, waID, messageID string, opts TrackOptions) (*TrackResult, error) {
	if waID == "" || messageID == "" {
		return nil, ErrInvalidInput
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultScanLimit
	}

	collected := []StatusEvent{}
	scanned := 0
	cursor := ""
	foundTerminal := false

	log.Printf("[info] scanning up to %d executions for workflow %s...", limit, s.workflowID)
pages:
	for scanned < limit {
		pageSize := limit - scanned
		if pageSize > maxExecutionPageSize {
			pageSize = maxExecutionPageSize
		}
		page, err := s.source.FetchExecutionsPage(ctx, s.workflowID, pageSize, cursor)
		if err != nil {
			return nil, err
		}
		if len(page.Executions) == 0 {
			break
		}
		for _, execution := range page.Executions {
			if scanned >= limit {
				break pages
			}
			scanned++
			events := filterSince(ExtractStatusEvents(execution, messageID, waID), opts.Since)
			if len(events) == 0 {
				continue
			}
			collected = append(collected, events...)
			log.Printf("[info] found %d status update(s) in execution %s", len(events), execution.ID)
			for _, event := range events {
				if IsTerminalStatus(event.Status) {
					foundTerminal = true
				}
			}
			if foundTerminal {
				log.Printf("[info] found terminal status, stopping scan")
				break pages
			}
		}
		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}

	history := DeduplicateEvents(collected)
	if dropped := len(collected) - len(history); dropped > 0 {
		log.Printf("[info] deduplicated %d duplicate status entries", dropped)
	}
	sortHistoryByTimestamp(history)
	latestStatus, latestTimestamp := ResolveLatest(history)
	metrics.ScansTotal.Inc()

	return &TrackResult{
		WaID:                     waID,
		MessageID:                messageID,
		WorkflowID:               s.workflowID,
		LatestStatus:             latestStatus,
		LatestTimestamp:          latestTimestamp,
		LatestTimestampFormatted: FormatTimestamp(latestTimestamp),
		History:                  history,
		FoundInExecutionsCount:   len(history),
	}, nil
}

// ListRecentMessages bulk-scans executions and reconciles every message seen.
// waID, when set, keeps only events addressed to that recipient.
func (s *Scanner) ListRecentMessages(ctx context.Context, waID string, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultScanLimit
	}
	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 10
	}

	log.Printf("[info] fetching up to %d executions for workflow %s...", limit, s.workflowID)
	executions, err := fetchExecutions(ctx, s.source, s.workflowID, limit)
	if err != nil {
		return nil, err
	}
	log.Printf("[info] retrieved %d executions", len(executions))

	events := []StatusEvent{}
	for _, execution := range executions {
		extracted := filterSince(ExtractStatusEvents(execution, "", ""), opts.Since)
		for _, event := range extracted {
			if waID != "" && event.RecipientID != "" && event.RecipientID != waID {
				continue
			}
			events = append(events, event)
		}
	}

	messages, total := BuildMessageRecords(events, maxMessages)
	log.Printf("[info] found %d unique message(s), showing top %d", total, len(messages))
	metrics.ScansTotal.Inc()

	return &ListResult{
		WorkflowID:      s.workflowID,
		FilterRecipient: waID,
		TotalMessages:   total,
		Messages:        messages,
	}, nil
}

func filterSince(events []StatusEvent, since int64) []StatusEvent {
	if since <= 0 {
		return events
	}
	kept := events[:0]
	for _, event := range events {
		if tsOrZero(event.Timestamp) >= since {
			kept = append(kept, event)
		}
	}
	return kept
}

// Track-mode histories are presented newest-first by timestamp alone;
// priority only matters for resolution, not display order.
func sortHistoryByTimestamp(events []StatusEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return tsOrZero(events[i].Timestamp) > tsOrZero(events[j].Timestamp)
	})
}
