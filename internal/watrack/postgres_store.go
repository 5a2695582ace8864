package watrack

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	defaultStatusTableName   = "message_statuses"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStatusStore keeps one row per message id. The merge decision rule
// is a single conditional upsert statement, so overlapping scans cannot race
// a read against a write.
type PostgresStatusStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStatusStore(dsn string) (*PostgresStatusStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStatusStore{
		dsn:       dsn,
		tableName: defaultStatusTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStatusStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		table := postgresQuoteIdentifier(s.tableName)
		statements := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				message_id TEXT PRIMARY KEY,
				recipient_id TEXT,
				workflow_id TEXT NOT NULL,
				latest_status TEXT NOT NULL,
				latest_timestamp BIGINT,
				latest_timestamp_formatted TEXT,
				status_count INTEGER NOT NULL DEFAULT 0,
				status_history JSONB NOT NULL DEFAULT '[]'::jsonb,
				first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				last_scanned_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (recipient_id)`,
				postgresQuoteIdentifier(s.tableName+"_recipient_idx"), table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (recipient_id, latest_timestamp DESC)`,
				postgresQuoteIdentifier(s.tableName+"_recipient_ts_idx"), table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (latest_status)`,
				postgresQuoteIdentifier(s.tableName+"_latest_status_idx"), table),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

// UpsertMessage merges one record. Insert and content update happen in one
// conditional upsert; when the condition does not hold (existing row already
// has an equal-or-newer timestamp and the same status) only the scan
// timestamp is refreshed.
func (s *PostgresStatusStore) UpsertMessage(ctx context.Context, workflowID string, record MessageStatusRecord) (UpsertOutcome, error) {
	if record.MessageID == "" {
		return OutcomeFailed, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return OutcomeFailed, err
	}
	history := DeduplicateEvents(record.History)
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return OutcomeFailed, err
	}

	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	table := postgresQuoteIdentifier(s.tableName)
	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (
			message_id, recipient_id, workflow_id, latest_status,
			latest_timestamp, latest_timestamp_formatted, status_count,
			status_history, first_seen_at, last_updated_at, last_scanned_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW(), NOW())
		ON CONFLICT (message_id) DO UPDATE SET
			recipient_id = EXCLUDED.recipient_id,
			workflow_id = EXCLUDED.workflow_id,
			latest_status = EXCLUDED.latest_status,
			latest_timestamp = EXCLUDED.latest_timestamp,
			latest_timestamp_formatted = EXCLUDED.latest_timestamp_formatted,
			status_count = EXCLUDED.status_count,
			status_history = EXCLUDED.status_history,
			last_updated_at = NOW(),
			last_scanned_at = NOW()
		WHERE COALESCE(%s.latest_timestamp, 0) < COALESCE(EXCLUDED.latest_timestamp, 0)
		   OR %s.latest_status IS DISTINCT FROM EXCLUDED.latest_status
		RETURNING (xmax = 0)`, table, table, table)

	var inserted bool
	err = s.db.QueryRowContext(opCtx, upsertQuery,
		record.MessageID,
		nullableString(record.WaID),
		workflowID,
		record.LatestStatus,
		record.LatestTimestamp,
		record.LatestTimestampFormatted,
		len(history),
		historyJSON,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		// Condition rejected the content write: refresh the scan time only.
		refreshQuery := fmt.Sprintf(`UPDATE %s SET last_scanned_at = NOW() WHERE message_id = $1`, table)
		if _, refreshErr := s.db.ExecContext(opCtx, refreshQuery, record.MessageID); refreshErr != nil {
			return OutcomeFailed, refreshErr
		}
		return OutcomeUnchanged, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

func (s *PostgresStatusStore) GetMessage(ctx context.Context, messageID string) (PersistedStatus, error) {
	if messageID == "" {
		return PersistedStatus{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return PersistedStatus{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT message_id, recipient_id, workflow_id, latest_status,
			latest_timestamp, latest_timestamp_formatted, status_count,
			status_history, first_seen_at, last_updated_at, last_scanned_at
		FROM %s
		WHERE message_id = $1`, postgresQuoteIdentifier(s.tableName))

	doc, err := scanPersistedStatus(s.db.QueryRowContext(opCtx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return PersistedStatus{}, ErrNotFound
	}
	return doc, err
}

func (s *PostgresStatusStore) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]PersistedStatus, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT message_id, recipient_id, workflow_id, latest_status,
			latest_timestamp, latest_timestamp_formatted, status_count,
			status_history, first_seen_at, last_updated_at, last_scanned_at
		FROM %s`, postgresQuoteIdentifier(s.tableName))
	args := []any{}
	if recipientID != "" {
		query += ` WHERE recipient_id = $1`
		args = append(args, recipientID)
	}
	query += ` ORDER BY latest_timestamp DESC NULLS LAST, message_id LIMIT ` + strconv.Itoa(limit)

	rows, err := s.db.QueryContext(opCtx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PersistedStatus{}
	for rows.Next() {
		doc, scanErr := scanPersistedStatus(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStatusStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT latest_status, COUNT(*) FROM %s GROUP BY latest_status`, postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(opCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, scanErr
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStatusStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersistedStatus(row rowScanner) (PersistedStatus, error) {
	var doc PersistedStatus
	var recipientID sql.NullString
	var latestTimestamp sql.NullInt64
	var latestFormatted sql.NullString
	var historyJSON []byte

	err := row.Scan(
		&doc.MessageID,
		&recipientID,
		&doc.WorkflowID,
		&doc.LatestStatus,
		&latestTimestamp,
		&latestFormatted,
		&doc.StatusCount,
		&historyJSON,
		&doc.FirstSeenAt,
		&doc.LastUpdatedAt,
		&doc.LastScannedAt,
	)
	if err != nil {
		return PersistedStatus{}, err
	}
	doc.RecipientID = recipientID.String
	if latestTimestamp.Valid {
		ts := latestTimestamp.Int64
		doc.LatestTimestamp = &ts
	}
	if latestFormatted.Valid {
		formatted := latestFormatted.String
		doc.LatestTimestampFormatted = &formatted
	}
	if len(historyJSON) > 0 {
		if unmarshalErr := json.Unmarshal(historyJSON, &doc.StatusHistory); unmarshalErr != nil {
			return PersistedStatus{}, unmarshalErr
		}
	}
	return doc, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
