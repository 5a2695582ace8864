package watrack

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Resolved-status sentinels. Neither is a real WhatsApp status value.
const (
	StatusNotFound          = "not_found"
	StatusRecipientMismatch = "wa_id_mismatch"
)

// Display timestamps are rendered in a fixed UTC+3 civil offset.
var displayZone = time.FixedZone("UTC+3", 3*60*60)

// formatTimestamp rejects values outside this range instead of rendering
// nonsense dates.
const maxDisplayUnix = 253402300799 // 9999-12-31T23:59:59Z

// StatusEvent is one delivery-status callback pulled out of an execution's
// run-data tree. MessageID is only populated in bulk scans, where events for
// many messages are collected together.
type StatusEvent struct {
	MessageID          string  `json:"messageId,omitempty"`
	Status             string  `json:"status"`
	Timestamp          *int64  `json:"timestamp"`
	TimestampFormatted *string `json:"timestampFormatted"`
	RecipientID        string  `json:"recipientId,omitempty"`
	ExecutionID        string  `json:"executionId"`
	RecipientMismatch  bool    `json:"recipientMismatch,omitempty"`
}

func (e StatusEvent) dedupKey() string {
	ts := ""
	if e.Timestamp != nil {
		ts = strconv.FormatInt(*e.Timestamp, 10)
	}
	return e.Status + "\x00" + ts + "\x00" + e.RecipientID + "\x00" + e.ExecutionID
}

// statusPriority ranks statuses for tie-breaking at equal timestamps.
// Terminal states outrank everything; unknown values sink to the bottom.
func statusPriority(status string) int {
	switch strings.ToLower(status) {
	case "failed", "undelivered":
		return 100
	case "read":
		return 50
	case "delivered":
		return 40
	case "sent":
		return 30
	default:
		return 10
	}
}

// IsTerminalStatus reports whether no further transition is expected after
// this status. Terminal states let a targeted scan stop early.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(status) {
	case "failed", "undelivered", "read":
		return true
	}
	return false
}

// normalizeTimestamp accepts integers and numeric strings; every other shape
// (floats with fractions, unparseable strings, booleans, objects) normalizes
// to absent.
func normalizeTimestamp(v any) *int64 {
	switch typed := v.(type) {
	case float64:
		if typed != math.Trunc(typed) {
			return nil
		}
		ts := int64(typed)
		return &ts
	case int64:
		ts := typed
		return &ts
	case int:
		ts := int64(typed)
		return &ts
	case json.Number:
		ts, err := typed.Int64()
		if err != nil {
			return nil
		}
		return &ts
	case string:
		ts, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return nil
		}
		return &ts
	}
	return nil
}

// FormatTimestamp renders Unix seconds as "YYYY-MM-DD HH:MM" in UTC+3.
// Invalid or out-of-range values format to absent.
func FormatTimestamp(ts *int64) *string {
	if ts == nil || *ts < 0 || *ts > maxDisplayUnix {
		return nil
	}
	formatted := time.Unix(*ts, 0).In(displayZone).Format("2006-01-02 15:04")
	return &formatted
}

func tsOrZero(ts *int64) int64 {
	if ts == nil {
		return 0
	}
	return *ts
}
