package watrack

import "testing"

func event(messageID, status string, ts int64, recipient, executionID string) StatusEvent {
	e := StatusEvent{
		MessageID:   messageID,
		Status:      status,
		RecipientID: recipient,
		ExecutionID: executionID,
	}
	if ts > 0 {
		e.Timestamp = &ts
		e.TimestampFormatted = FormatTimestamp(&ts)
	}
	return e
}

func TestDeduplicateEventsFirstWins(t *testing.T) {
	events := []StatusEvent{
		event("", "sent", 100, "111", "1"),
		event("", "sent", 100, "111", "1"),
		event("", "sent", 100, "111", "2"), // different execution, kept
		event("", "delivered", 100, "111", "1"),
	}
	deduplicated := DeduplicateEvents(events)
	if len(deduplicated) != 3 {
		t.Fatalf("expected 3 events after dedup, got %d", len(deduplicated))
	}
	if deduplicated[0].ExecutionID != "1" || deduplicated[1].ExecutionID != "2" {
		t.Fatal("dedup must preserve first occurrence and order")
	}
}

func TestResolveLatestEmpty(t *testing.T) {
	status, ts := ResolveLatest(nil)
	if status != StatusNotFound || ts != nil {
		t.Fatalf("expected %s with nil timestamp, got %s %v", StatusNotFound, status, ts)
	}
}

func TestResolveLatestNewestTimestampWins(t *testing.T) {
	// A later "delivered" outranks an earlier "read" despite the lower
	// priority: timestamp is the primary key.
	history := []StatusEvent{
		event("", "sent", 100, "111", "1"),
		event("", "delivered", 200, "111", "1"),
		event("", "read", 150, "111", "1"),
	}
	status, ts := ResolveLatest(history)
	if status != "delivered" || ts == nil || *ts != 200 {
		t.Fatalf("expected delivered@200, got %s@%v", status, ts)
	}
}

func TestResolveLatestPriorityBreaksTies(t *testing.T) {
	history := []StatusEvent{
		event("", "delivered", 100, "111", "1"),
		event("", "read", 100, "111", "2"),
	}
	status, _ := ResolveLatest(history)
	if status != "read" {
		t.Fatalf("expected read to win the tie, got %s", status)
	}
}

func TestResolveLatestAbsentTimestampSortsLast(t *testing.T) {
	history := []StatusEvent{
		event("", "failed", 0, "111", "1"), // no timestamp
		event("", "sent", 10, "111", "2"),
	}
	status, ts := ResolveLatest(history)
	if status != "sent" || ts == nil || *ts != 10 {
		t.Fatalf("expected sent@10, got %s@%v", status, ts)
	}
}

func TestResolveLatestAllMismatched(t *testing.T) {
	first := event("", "delivered", 100, "999", "1")
	first.RecipientMismatch = true
	second := event("", "read", 200, "999", "2")
	second.RecipientMismatch = true

	status, ts := ResolveLatest([]StatusEvent{first, second})
	if status != StatusRecipientMismatch {
		t.Fatalf("expected %s, got %s", StatusRecipientMismatch, status)
	}
	if ts == nil || *ts != 100 {
		t.Fatalf("mismatch sentinel must carry the first event's timestamp, got %v", ts)
	}
}

func TestResolveLatestIgnoresMismatchedEvents(t *testing.T) {
	mismatched := event("", "read", 500, "999", "1")
	mismatched.RecipientMismatch = true
	history := []StatusEvent{
		mismatched,
		event("", "sent", 10, "111", "2"),
	}
	status, ts := ResolveLatest(history)
	if status != "sent" || ts == nil || *ts != 10 {
		t.Fatalf("mismatched events must not be ranked, got %s@%v", status, ts)
	}
}

func TestResolveLatestIdempotent(t *testing.T) {
	history := []StatusEvent{
		event("", "sent", 100, "111", "1"),
		event("", "delivered", 200, "111", "1"),
	}
	firstStatus, firstTS := ResolveLatest(history)
	secondStatus, secondTS := ResolveLatest(history)
	if firstStatus != secondStatus || tsOrZero(firstTS) != tsOrZero(secondTS) {
		t.Fatal("resolution must be stable across repeated calls")
	}
}

func TestBuildMessageRecords(t *testing.T) {
	events := []StatusEvent{
		event("m1", "sent", 100, "111", "1"),
		event("m2", "delivered", 300, "222", "1"),
		event("m1", "delivered", 200, "111", "2"),
		event("m1", "delivered", 200, "111", "2"), // duplicate
		event("", "read", 400, "333", "3"),        // no message id, dropped
	}

	records, total := BuildMessageRecords(events, 0)
	if total != 2 || len(records) != 2 {
		t.Fatalf("expected 2 records, got %d (total %d)", len(records), total)
	}
	if records[0].MessageID != "m2" {
		t.Fatalf("records must be ordered by latest timestamp desc, got %s first", records[0].MessageID)
	}
	m1 := records[1]
	if m1.LatestStatus != "delivered" || tsOrZero(m1.LatestTimestamp) != 200 {
		t.Fatalf("unexpected m1 resolution: %s@%v", m1.LatestStatus, m1.LatestTimestamp)
	}
	if m1.StatusCount != 2 || len(m1.History) != 2 {
		t.Fatalf("m1 history must be deduplicated to 2 events, got count=%d len=%d", m1.StatusCount, len(m1.History))
	}
	if m1.WaID != "111" {
		t.Fatalf("unexpected m1 waId %q", m1.WaID)
	}
}

func TestBuildMessageRecordsTruncates(t *testing.T) {
	events := []StatusEvent{
		event("m1", "sent", 100, "111", "1"),
		event("m2", "sent", 200, "111", "1"),
		event("m3", "sent", 300, "111", "1"),
	}
	records, total := BuildMessageRecords(events, 2)
	if total != 3 {
		t.Fatalf("total must count before truncation, got %d", total)
	}
	if len(records) != 2 || records[0].MessageID != "m3" || records[1].MessageID != "m2" {
		t.Fatalf("unexpected truncated records: %+v", records)
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, status := range []string{"failed", "undelivered", "read", "READ", "Failed"} {
		if !IsTerminalStatus(status) {
			t.Fatalf("%s must be terminal", status)
		}
	}
	for _, status := range []string{"sent", "delivered", "", "unknown"} {
		if IsTerminalStatus(status) {
			t.Fatalf("%s must not be terminal", status)
		}
	}
}
