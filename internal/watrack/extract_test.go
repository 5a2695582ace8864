package watrack

import (
	"testing"
)

func executionWithBody(id string, body any) ExecutionRecord {
	item := map[string]any{"json": map[string]any{"body": body}}
	return ExecutionRecord{
		ID: id,
		Payload: map[string]any{
			"id": id,
			"data": map[string]any{
				"resultData": map[string]any{
					"runData": map[string]any{
						"Webhook": []any{
							map[string]any{
								"data": map[string]any{
									"main": []any{[]any{item}},
								},
							},
						},
					},
				},
			},
		},
	}
}

func statusObj(id, status string, timestamp any, recipient string) map[string]any {
	obj := map[string]any{"id": id, "status": status, "recipient_id": recipient}
	if timestamp != nil {
		obj["timestamp"] = timestamp
	}
	return obj
}

func TestExtractStatusEventsTargeted(t *testing.T) {
	execution := executionWithBody("7", map[string]any{
		"statuses": []any{
			statusObj("wamid.1", "delivered", float64(1700000000), "15551234567"),
			statusObj("wamid.other", "read", float64(1700000100), "15551234567"),
		},
	})

	events := ExtractStatusEvents(execution, "wamid.1", "15551234567")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Status != "delivered" {
		t.Fatalf("unexpected status %q", event.Status)
	}
	if event.MessageID != "" {
		t.Fatalf("targeted extraction must not set MessageID, got %q", event.MessageID)
	}
	if event.Timestamp == nil || *event.Timestamp != 1700000000 {
		t.Fatalf("unexpected timestamp %v", event.Timestamp)
	}
	if event.TimestampFormatted == nil || *event.TimestampFormatted != "2023-11-15 01:13" {
		t.Fatalf("unexpected formatted timestamp %v", event.TimestampFormatted)
	}
	if event.ExecutionID != "7" {
		t.Fatalf("unexpected execution id %q", event.ExecutionID)
	}
	if event.RecipientMismatch {
		t.Fatal("matching recipient flagged as mismatch")
	}
}

func TestExtractStatusEventsBulk(t *testing.T) {
	execution := executionWithBody("8", map[string]any{
		"statuses": []any{
			statusObj("wamid.a", "sent", float64(100), "111"),
			statusObj("wamid.b", "delivered", float64(200), "222"),
			statusObj("", "read", float64(300), "333"),
		},
	})

	events := ExtractStatusEvents(execution, "", "")
	if len(events) != 2 {
		t.Fatalf("expected 2 events (empty id skipped), got %d", len(events))
	}
	if events[0].MessageID != "wamid.a" || events[1].MessageID != "wamid.b" {
		t.Fatalf("bulk extraction must set MessageID, got %q and %q", events[0].MessageID, events[1].MessageID)
	}
}

func TestExtractStatusEventsRecipientMismatch(t *testing.T) {
	execution := executionWithBody("9", map[string]any{
		"statuses": []any{
			statusObj("wamid.1", "delivered", float64(100), "999"),
			statusObj("wamid.1", "sent", float64(50), ""),
		},
	})

	events := ExtractStatusEvents(execution, "wamid.1", "111")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].RecipientMismatch {
		t.Fatal("different recipient not flagged as mismatch")
	}
	if events[1].RecipientMismatch {
		t.Fatal("absent recipient must not be flagged as mismatch")
	}
}

func TestExtractStatusEventsExecutionDataFallback(t *testing.T) {
	execution := executionWithBody("10", map[string]any{
		"statuses": []any{statusObj("wamid.1", "sent", float64(1), "111")},
	})
	// An empty "data" container must fall through to "executionData".
	execution.Payload["executionData"] = execution.Payload["data"]
	execution.Payload["data"] = map[string]any{}

	events := ExtractStatusEvents(execution, "wamid.1", "111")
	if len(events) != 1 {
		t.Fatalf("expected 1 event via executionData, got %d", len(events))
	}
}

func TestExtractStatusEventsBodyFallsBackToJSON(t *testing.T) {
	item := map[string]any{"json": map[string]any{
		"statuses": []any{statusObj("wamid.1", "read", float64(5), "111")},
	}}
	execution := ExecutionRecord{
		ID: "11",
		Payload: map[string]any{
			"data": map[string]any{
				"resultData": map[string]any{
					"runData": map[string]any{
						"Webhook": []any{
							map[string]any{"data": map[string]any{"main": []any{[]any{item}}}},
						},
					},
				},
			},
		},
	}

	events := ExtractStatusEvents(execution, "wamid.1", "111")
	if len(events) != 1 {
		t.Fatalf("expected 1 event from json without body wrapper, got %d", len(events))
	}
}

func TestExtractStatusEventsUnwrapsSingleElementList(t *testing.T) {
	execution := executionWithBody("12", []any{map[string]any{
		"statuses": []any{statusObj("wamid.1", "delivered", float64(5), "111")},
	}})

	events := ExtractStatusEvents(execution, "wamid.1", "111")
	if len(events) != 1 {
		t.Fatalf("expected 1 event from list-wrapped body, got %d", len(events))
	}
}

func TestExtractStatusEventsRejectsMalformedStatuses(t *testing.T) {
	// statuses must be an array when present; a string body fails the shape
	// gate and the branch is skipped without error.
	execution := executionWithBody("13", map[string]any{"statuses": "broken"})
	if events := ExtractStatusEvents(execution, "wamid.1", "111"); len(events) != 0 {
		t.Fatalf("expected 0 events from malformed body, got %d", len(events))
	}
}

func TestExtractStatusEventsMissingLevels(t *testing.T) {
	cases := []ExecutionRecord{
		{ID: "a", Payload: nil},
		{ID: "b", Payload: map[string]any{}},
		{ID: "c", Payload: map[string]any{"data": map[string]any{"resultData": map[string]any{}}}},
		executionWithBody("d", map[string]any{}),
		executionWithBody("e", map[string]any{"statuses": []any{}}),
	}
	for _, execution := range cases {
		if events := ExtractStatusEvents(execution, "wamid.1", "111"); len(events) != 0 {
			t.Fatalf("execution %s: expected no events, got %d", execution.ID, len(events))
		}
	}
}

func TestExtractStatusEventsDefaultsStatusUnknown(t *testing.T) {
	execution := executionWithBody("14", map[string]any{
		"statuses": []any{map[string]any{"id": "wamid.1", "timestamp": float64(9)}},
	})
	events := ExtractStatusEvents(execution, "wamid.1", "")
	if len(events) != 1 || events[0].Status != "unknown" {
		t.Fatalf("expected one event with status unknown, got %+v", events)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	if ts := normalizeTimestamp(float64(42)); ts == nil || *ts != 42 {
		t.Fatalf("integral float: got %v", ts)
	}
	if ts := normalizeTimestamp(float64(42.5)); ts != nil {
		t.Fatalf("fractional float must normalize to absent, got %d", *ts)
	}
	if ts := normalizeTimestamp(" 1700000000 "); ts == nil || *ts != 1700000000 {
		t.Fatalf("numeric string: got %v", ts)
	}
	if ts := normalizeTimestamp("soon"); ts != nil {
		t.Fatalf("unparseable string must normalize to absent, got %d", *ts)
	}
	if ts := normalizeTimestamp(true); ts != nil {
		t.Fatalf("bool must normalize to absent, got %d", *ts)
	}
	if ts := normalizeTimestamp(nil); ts != nil {
		t.Fatalf("nil must normalize to absent, got %d", *ts)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := int64(1700000000)
	formatted := FormatTimestamp(&ts)
	if formatted == nil || *formatted != "2023-11-15 01:13" {
		t.Fatalf("unexpected formatted value %v", formatted)
	}
	if FormatTimestamp(nil) != nil {
		t.Fatal("nil timestamp must format to absent")
	}
	negative := int64(-5)
	if FormatTimestamp(&negative) != nil {
		t.Fatal("negative timestamp must format to absent")
	}
	huge := int64(maxDisplayUnix + 1)
	if FormatTimestamp(&huge) != nil {
		t.Fatal("out-of-range timestamp must format to absent")
	}
}
