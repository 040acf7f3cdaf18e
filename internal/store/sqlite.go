package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PratikDhanave/factory-events-service/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// sqliteMaxParams keeps IN (...) lists well under SQLite's bound-variable limit.
const sqliteMaxParams = 500

// SQLiteStore persists events in a single SQLite file for single-node deployments.
// Timestamps are stored as Unix nanoseconds so range predicates stay integer comparisons.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between our own statements.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Ping validates the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// FindByIDs loads the stored events among ids.
func (s *SQLiteStore) FindByIDs(ctx context.Context, ids []string) ([]models.Event, error) {
	out := make([]models.Event, 0, len(ids))
	for start := 0; start < len(ids); start += sqliteMaxParams {
		chunk := ids[start:min(start+sqliteMaxParams, len(ids))]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT `+eventColumns+`
			FROM events
			WHERE event_id IN (`+placeholders(len(chunk))+`)
		`, args...)
		if err != nil {
			return nil, unavailable("find by ids", err)
		}
		for rows.Next() {
			e, err := scanSQLiteEvent(rows)
			if err != nil {
				rows.Close()
				return nil, unavailable("scan event", err)
			}
			out = append(out, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, unavailable("find by ids", err)
		}
	}
	return out, nil
}

func scanSQLiteEvent(rows *sql.Rows) (models.Event, error) {
	var (
		e                  models.Event
		eventNs, receiveNs int64
		line, factory      sql.NullString
	)
	err := rows.Scan(&e.EventID, &eventNs, &receiveNs, &e.MachineID, &line, &factory,
		&e.DurationMs, &e.DefectCount, &e.Fingerprint)
	if err != nil {
		return models.Event{}, err
	}
	e.EventTime = time.Unix(0, eventNs).UTC()
	e.ReceivedTime = time.Unix(0, receiveNs).UTC()
	e.LineID = line.String
	e.FactoryID = factory.String
	return e, nil
}

// InsertAll inserts events in one transaction. Rows whose event_id already exists are
// skipped by ON CONFLICT and reported in InsertResult.Conflicted.
func (s *SQLiteStore) InsertAll(ctx context.Context, events []models.Event) (InsertResult, error) {
	if len(events) == 0 {
		return InsertResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, unavailable("begin insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (`+eventColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`)
	if err != nil {
		return InsertResult{}, unavailable("prepare insert", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	inserted := make(map[string]struct{}, len(events))
	for _, e := range events {
		res, err := stmt.ExecContext(ctx, e.EventID, e.EventTime.UnixNano(), e.ReceivedTime.UnixNano(),
			e.MachineID, nullable(e.LineID), nullable(e.FactoryID), e.DurationMs, e.DefectCount,
			e.Fingerprint, now, now)
		if err != nil {
			return InsertResult{}, unavailable("insert event "+e.EventID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			inserted[e.EventID] = struct{}{}
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, unavailable("commit insert", err)
	}
	return splitInserted(events, inserted), nil
}

// UpdateAll overwrites events by id when the incoming received_time is newer.
func (s *SQLiteStore) UpdateAll(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE events SET
			event_time = ?, received_time = ?, machine_id = ?, line_id = ?, factory_id = ?,
			duration_ms = ?, defect_count = ?, fingerprint = ?, updated_at = ?
		WHERE event_id = ? AND received_time < ?
	`)
	if err != nil {
		return unavailable("prepare update", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, e := range events {
		received := e.ReceivedTime.UnixNano()
		_, err := stmt.ExecContext(ctx, e.EventTime.UnixNano(), received, e.MachineID,
			nullable(e.LineID), nullable(e.FactoryID), e.DurationMs, e.DefectCount, e.Fingerprint,
			now, e.EventID, received)
		if err != nil {
			return unavailable("update event "+e.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit update", err)
	}
	return nil
}

// CountInWindow returns the number of events for machineID in [start,end).
func (s *SQLiteStore) CountInWindow(ctx context.Context, machineID string, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM events
		WHERE machine_id = ?
		  AND event_time >= ?
		  AND event_time <  ?
	`, machineID, start.UnixNano(), end.UnixNano()).Scan(&count)
	if err != nil {
		return 0, unavailable("count events", err)
	}
	return count, nil
}

// SumDefectsInWindow sums measured defect_count for machineID in [start,end).
func (s *SQLiteStore) SumDefectsInWindow(ctx context.Context, machineID string, start, end time.Time) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(defect_count), 0)
		FROM events
		WHERE machine_id = ?
		  AND event_time >= ?
		  AND event_time <  ?
		  AND defect_count >= 0
	`, machineID, start.UnixNano(), end.UnixNano()).Scan(&sum)
	if err != nil {
		return 0, unavailable("sum defects", err)
	}
	return sum, nil
}

// DefectsByLineInWindow groups factoryID's measured events in [start,end) by line_id.
func (s *SQLiteStore) DefectsByLineInWindow(ctx context.Context, factoryID string, start, end time.Time) ([]LineTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_id, COALESCE(SUM(defect_count), 0), COUNT(*)
		FROM events
		WHERE factory_id = ?
		  AND event_time >= ?
		  AND event_time <  ?
		  AND defect_count >= 0
		  AND line_id IS NOT NULL
		GROUP BY line_id
		ORDER BY line_id
	`, factoryID, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, unavailable("group defects", err)
	}
	defer rows.Close()

	var out []LineTotal
	for rows.Next() {
		var lt LineTotal
		if err := rows.Scan(&lt.LineID, &lt.Sum, &lt.Count); err != nil {
			return nil, unavailable("group defects", err)
		}
		out = append(out, lt)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("group defects", err)
	}
	return out, nil
}
