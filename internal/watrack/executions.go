package watrack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ageentiq/watrack/internal/metrics"
)

// n8n caps the page size server-side; requesting more is silently clamped, so
// the client never asks for more than this per call.
const maxExecutionPageSize = 100

// ExecutionRecord is one recorded workflow run. Payload keeps the raw decoded
// body: the run-data tree is weakly typed and only the extractor walks it.
type ExecutionRecord struct {
	ID      string
	Payload map[string]any
}

type ExecutionPage struct {
	Executions []ExecutionRecord
	NextCursor string
}

// ExecutionSource yields pages of executions, most recent first. The scanner
// drives pagination itself so it can stop fetching once a terminal status has
// been observed.
type ExecutionSource interface {
	FetchExecutionsPage(ctx context.Context, workflowID string, pageSize int, cursor string) (ExecutionPage, error)
}

type executionListEnvelope struct {
	Data       []map[string]any `json:"data"`
	Executions []map[string]any `json:"executions"`
	NextCursor string           `json:"nextCursor"`
}

// FetchExecutionsPage requests one page of execution detail records
// (includeData=true: the extractor needs the nested run-data tree).
func (c *Client) FetchExecutionsPage(ctx context.Context, workflowID string, pageSize int, cursor string) (ExecutionPage, error) {
	if pageSize <= 0 || pageSize > maxExecutionPageSize {
		pageSize = maxExecutionPageSize
	}
	q := url.Values{}
	q.Set("workflowId", workflowID)
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("includeData", "true")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.fetchExecutionPage(ctx, workflowID, q)
}

func (c *Client) fetchExecutionPage(ctx context.Context, workflowID string, q url.Values) (ExecutionPage, error) {
	requestURL := c.baseURL + c.apiPrefix + "/executions?" + q.Encode()
	resp, err := c.doRequest(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return ExecutionPage{}, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return ExecutionPage{}, readErr
	}
	if resp.StatusCode != http.StatusOK {
		return ExecutionPage{}, fmt.Errorf("list executions failed (%s): %d %s", workflowID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var envelope executionListEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ExecutionPage{}, fmt.Errorf("list executions failed (%s): %w", workflowID, err)
	}
	batch := envelope.Data
	if len(batch) == 0 {
		batch = envelope.Executions
	}
	page := ExecutionPage{NextCursor: envelope.NextCursor}
	page.Executions = make([]ExecutionRecord, 0, len(batch))
	for _, raw := range batch {
		page.Executions = append(page.Executions, ExecutionRecord{
			ID:      stringifyExecutionID(raw["id"]),
			Payload: raw,
		})
	}
	metrics.ExecutionsFetchedTotal.Add(float64(len(page.Executions)))
	return page, nil
}

// FetchExecutions paginates until limit records are accumulated, the server
// stops handing out a cursor, or a page comes back empty. The result is
// truncated to exactly limit even if the last page overshoots.
func (c *Client) FetchExecutions(ctx context.Context, workflowID string, limit int) ([]ExecutionRecord, error) {
	return fetchExecutions(ctx, c, workflowID, limit)
}

func fetchExecutions(ctx context.Context, source ExecutionSource, workflowID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return []ExecutionRecord{}, nil
	}
	out := make([]ExecutionRecord, 0, limit)
	cursor := ""
	for len(out) < limit {
		pageSize := limit - len(out)
		if pageSize > maxExecutionPageSize {
			pageSize = maxExecutionPageSize
		}
		page, err := source.FetchExecutionsPage(ctx, workflowID, pageSize, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Executions...)
		cursor = page.NextCursor
		if cursor == "" || len(page.Executions) == 0 {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// stringifyExecutionID tolerates numeric and string ids; n8n has shipped both.
func stringifyExecutionID(v any) string {
	switch typed := v.(type) {
	case string:
		if typed != "" {
			return typed
		}
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	case json.Number:
		return typed.String()
	}
	return "unknown"
}
