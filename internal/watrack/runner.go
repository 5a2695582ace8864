package watrack

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ageentiq/watrack/internal/metrics"
)

const defaultScanInterval = time.Minute

// ChangeFunc is notified once per record whose persisted status was inserted
// or updated by a scan. Unchanged records stay quiet.
type ChangeFunc func(record MessageStatusRecord, outcome UpsertOutcome)

// Runner drives periodic bulk scans and persists the results. The scanner is
// swappable at runtime so a config reload can rotate credentials without
// stopping the loop.
type Runner struct {
	mu       sync.Mutex
	scanner  *Scanner
	store    StatusStore
	interval time.Duration
	listOpts ListOptions
	onChange ChangeFunc
}

type RunnerOptions struct {
	Scanner  *Scanner
	Store    StatusStore
	Interval time.Duration
	ListOpts ListOptions
	OnChange ChangeFunc
}

func NewRunner(opts RunnerOptions) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultScanInterval
	}
	return &Runner{
		scanner:  opts.Scanner,
		store:    opts.Store,
		interval: interval,
		listOpts: opts.ListOpts,
		onChange: opts.OnChange,
	}
}

// SetScanner swaps the scanner used by subsequent scans.
func (r *Runner) SetScanner(scanner *Scanner) {
	r.mu.Lock()
	r.scanner = scanner
	r.mu.Unlock()
}

// SetOnChange installs the change callback. Exists because the HTTP server
// that consumes changes is constructed after the runner it observes.
func (r *Runner) SetOnChange(fn ChangeFunc) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Scanner returns the scanner currently driving scans.
func (r *Runner) Scanner() *Scanner {
	return r.currentScanner()
}

func (r *Runner) currentScanner() *Scanner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanner
}

// ScanOnce runs one bulk scan and, when a store is configured, merges every
// reconciled record into it.
func (r *Runner) ScanOnce(ctx context.Context) (*ListResult, UpsertStats, error) {
	scanner := r.currentScanner()
	if scanner == nil {
		return nil, UpsertStats{}, ErrMissingConfig
	}
	result, err := scanner.ListRecentMessages(ctx, "", r.listOpts)
	if err != nil {
		metrics.ScanErrorsTotal.Inc()
		return nil, UpsertStats{}, err
	}
	stats := UpsertStats{}
	if r.store != nil {
		stats = r.upsertAndNotify(ctx, scanner.WorkflowID(), result.Messages)
	}
	return result, stats, nil
}

func (r *Runner) upsertAndNotify(ctx context.Context, workflowID string, records []MessageStatusRecord) UpsertStats {
	r.mu.Lock()
	onChange := r.onChange
	r.mu.Unlock()

	stats := UpsertStats{}
	for _, record := range records {
		if record.MessageID == "" {
			stats.Failed++
			continue
		}
		outcome, err := r.store.UpsertMessage(ctx, workflowID, record)
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
		if onChange != nil && (outcome == OutcomeInserted || outcome == OutcomeUpdated) {
			onChange(record, outcome)
		}
	}
	return stats
}

// Run scans immediately, then on every interval tick until ctx is cancelled.
// Scan failures are logged and the loop keeps going.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		result, stats, err := r.ScanOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[error] scan failed: %v", err)
		} else {
			log.Printf("[info] scan complete: %d message(s), inserted=%d updated=%d unchanged=%d failed=%d",
				result.TotalMessages, stats.Inserted, stats.Updated, stats.Unchanged, stats.Failed)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
