package watrack

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ListFailedExecutions pages through executions with status=error for one
// workflow. Metadata only (includeData=false): the retrier never inspects
// run data.
func (c *Client) ListFailedExecutions(ctx context.Context, workflowID string, pageLimit int) ([]ExecutionRecord, error) {
	if pageLimit <= 0 || pageLimit > maxExecutionPageSize {
		pageLimit = maxExecutionPageSize
	}
	out := []ExecutionRecord{}
	cursor := ""
	for {
		q := url.Values{}
		q.Set("status", "error")
		q.Set("workflowId", workflowID)
		q.Set("limit", strconv.Itoa(pageLimit))
		q.Set("includeData", "false")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		page, err := c.fetchExecutionPage(ctx, workflowID, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Executions...)
		cursor = page.NextCursor
		if cursor == "" || len(page.Executions) == 0 {
			break
		}
	}
	return out, nil
}

// RetryExecution POSTs to the official retry endpoint with
// {"loadWorkflow": ...}. Some instances reject the body format; those get one
// fallback attempt with an empty JSON object.
func (c *Client) RetryExecution(ctx context.Context, executionID string, loadWorkflow bool) (bool, error) {
	requestURL := fmt.Sprintf("%s%s/executions/%s/retry", c.baseURL, c.apiPrefix, url.PathEscape(executionID))

	resp, err := c.doRequest(ctx, http.MethodPost, requestURL, map[string]bool{"loadWorkflow": loadWorkflow})
	if err != nil {
		return false, err
	}
	drainBody(resp)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		fallback, err := c.doRequest(ctx, http.MethodPost, requestURL, map[string]any{})
		if err != nil {
			return false, err
		}
		drainBody(fallback)
		return fallback.StatusCode >= 200 && fallback.StatusCode < 300, nil
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

type RetryFailedOptions struct {
	PageLimit     int
	MaxExecutions int // 0 = unlimited
	LoadWorkflow  bool
	SleepBetween  time.Duration
}

type RetrySummary struct {
	Found     int `json:"found"`
	Tried     int `json:"tried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryFailedExecutions lists a workflow's failed executions and replays them
// one by one. Individual failures are logged and counted, never fatal.
func (c *Client) RetryFailedExecutions(ctx context.Context, workflowID string, opts RetryFailedOptions) (RetrySummary, error) {
	executions, err := c.ListFailedExecutions(ctx, workflowID, opts.PageLimit)
	if err != nil {
		return RetrySummary{}, err
	}
	summary := RetrySummary{Found: len(executions)}
	log.Printf("[info] workflow %s: found %d failed executions", workflowID, len(executions))

	for _, execution := range executions {
		if opts.MaxExecutions > 0 && summary.Tried >= opts.MaxExecutions {
			break
		}
		if execution.ID == "" || execution.ID == "unknown" {
			continue
		}
		summary.Tried++
		ok, retryErr := c.RetryExecution(ctx, execution.ID, opts.LoadWorkflow)
		switch {
		case retryErr != nil:
			summary.Failed++
			log.Printf("[error] execution %s: %v", execution.ID, retryErr)
		case ok:
			summary.Succeeded++
			log.Printf("[ok] retried execution %s", execution.ID)
		default:
			summary.Failed++
			log.Printf("[fail] could not retry execution %s", execution.ID)
		}
		if opts.SleepBetween > 0 {
			if waitErr := sleepContext(ctx, opts.SleepBetween); waitErr != nil {
				return summary, waitErr
			}
		}
	}
	log.Printf("[summary] workflow %s: tried=%d ok=%d fail=%d", workflowID, summary.Tried, summary.Succeeded, summary.Failed)
	return summary, nil
}

func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}
