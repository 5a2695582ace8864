package watrack

import (
	"context"
	"fmt"
	"testing"
)

// fakeSource serves canned pages and records every page request.
type fakeSource struct {
	pages     []ExecutionPage
	requests  []int // pageSize per call
	cursors   []string
	callCount int
}

func (f *fakeSource) FetchExecutionsPage(ctx context.Context, workflowID string, pageSize int, cursor string) (ExecutionPage, error) {
	f.requests = append(f.requests, pageSize)
	f.cursors = append(f.cursors, cursor)
	if f.callCount >= len(f.pages) {
		return ExecutionPage{}, nil
	}
	page := f.pages[f.callCount]
	f.callCount++
	return page, nil
}

func executionsNamed(ids ...string) []ExecutionRecord {
	out := make([]ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, ExecutionRecord{ID: id, Payload: map[string]any{"id": id}})
	}
	return out
}

func TestFetchExecutionsPaginates(t *testing.T) {
	source := &fakeSource{pages: []ExecutionPage{
		{Executions: executionsNamed("1", "2", "3"), NextCursor: "a"},
		{Executions: executionsNamed("4", "5"), NextCursor: ""},
	}}

	records, err := fetchExecutions(context.Background(), source, "wf", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if source.callCount != 2 {
		t.Fatalf("expected 2 page fetches, got %d", source.callCount)
	}
	if source.cursors[1] != "a" {
		t.Fatalf("second fetch must pass the cursor, got %q", source.cursors[1])
	}
}

func TestFetchExecutionsTruncatesToLimit(t *testing.T) {
	source := &fakeSource{pages: []ExecutionPage{
		{Executions: executionsNamed("1", "2", "3"), NextCursor: "a"},
		{Executions: executionsNamed("4", "5", "6"), NextCursor: "b"},
	}}

	records, err := fetchExecutions(context.Background(), source, "wf", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected exactly 4 records, got %d", len(records))
	}
	if source.requests[1] != 1 {
		t.Fatalf("second page must only request the remainder, got %d", source.requests[1])
	}
}

func TestFetchExecutionsStopsOnEmptyBatch(t *testing.T) {
	// A cursor with an empty batch must not loop forever.
	source := &fakeSource{pages: []ExecutionPage{
		{Executions: executionsNamed("1"), NextCursor: "a"},
		{Executions: nil, NextCursor: "a"},
	}}

	records, err := fetchExecutions(context.Background(), source, "wf", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if source.callCount != 2 {
		t.Fatalf("expected 2 fetches before stopping, got %d", source.callCount)
	}
}

func TestFetchExecutionsZeroLimit(t *testing.T) {
	source := &fakeSource{}
	records, err := fetchExecutions(context.Background(), source, "wf", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 || source.callCount != 0 {
		t.Fatal("zero limit must fetch nothing")
	}
}

func TestStringifyExecutionID(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"abc", "abc"},
		{"", "unknown"},
		{float64(42), "42"},
		{nil, "unknown"},
		{true, "unknown"},
	}
	for _, tc := range cases {
		if got := stringifyExecutionID(tc.in); got != tc.want {
			t.Fatalf("stringifyExecutionID(%v): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestFetchExecutionsPropagatesError(t *testing.T) {
	source := &errorSource{}
	if _, err := fetchExecutions(context.Background(), source, "wf", 10); err == nil {
		t.Fatal("expected source error to propagate")
	}
}

type errorSource struct{}

func (errorSource) FetchExecutionsPage(ctx context.Context, workflowID string, pageSize int, cursor string) (ExecutionPage, error) {
	return ExecutionPage{}, fmt.Errorf("list executions failed (%s): boom", workflowID)
}
