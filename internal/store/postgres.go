package store

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/factory-events-service/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

const eventColumns = `event_id, event_time, received_time, machine_id, line_id, factory_id,
	duration_ms, defect_count, fingerprint`

// PostgresStore is the durable persistence layer for events.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// FindByIDs loads the stored events among ids in a single round trip.
func (p *PostgresStore) FindByIDs(ctx context.Context, ids []string) ([]models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE event_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, unavailable("find by ids", err)
	}
	defer rows.Close()

	out := make([]models.Event, 0, len(ids))
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, unavailable("scan event", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("find by ids", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (models.Event, error) {
	var (
		e             models.Event
		line, factory *string
		defects       int32
	)
	err := row.Scan(&e.EventID, &e.EventTime, &e.ReceivedTime, &e.MachineID, &line, &factory,
		&e.DurationMs, &defects, &e.Fingerprint)
	if err != nil {
		return models.Event{}, err
	}
	if line != nil {
		e.LineID = *line
	}
	if factory != nil {
		e.FactoryID = *factory
	}
	e.DefectCount = int(defects)
	e.EventTime = e.EventTime.UTC()
	e.ReceivedTime = e.ReceivedTime.UTC()
	return e, nil
}

// eventColumnsArgs transposes events into one array per column for unnest().
func eventColumnsArgs(events []models.Event) []any {
	var (
		ids       = make([]string, len(events))
		times     = make([]time.Time, len(events))
		received  = make([]time.Time, len(events))
		machines  = make([]string, len(events))
		lines     = make([]*string, len(events))
		factories = make([]*string, len(events))
		durations = make([]int64, len(events))
		defects   = make([]int32, len(events))
		prints    = make([]string, len(events))
	)
	for i, e := range events {
		ids[i] = e.EventID
		times[i] = e.EventTime
		received[i] = e.ReceivedTime
		machines[i] = e.MachineID
		lines[i] = nullable(e.LineID)
		factories[i] = nullable(e.FactoryID)
		durations[i] = e.DurationMs
		defects[i] = int32(e.DefectCount)
		prints[i] = e.Fingerprint
	}
	return []any{ids, times, received, machines, lines, factories, durations, defects, prints}
}

const unnestEvents = `unnest($1::text[], $2::timestamptz[], $3::timestamptz[], $4::text[],
	$5::text[], $6::text[], $7::bigint[], $8::integer[], $9::text[])`

// InsertAll inserts events in one statement.
//
// Duplicate detection is enforced by the primary key on event_id: rows another transaction
// committed first are skipped by ON CONFLICT and come back in InsertResult.Conflicted.
func (p *PostgresStore) InsertAll(ctx context.Context, events []models.Event) (InsertResult, error) {
	if len(events) == 0 {
		return InsertResult{}, nil
	}

	rows, err := p.pool.Query(ctx, `
		INSERT INTO events (`+eventColumns+`)
		SELECT * FROM `+unnestEvents+`
		ON CONFLICT (event_id) DO NOTHING
		RETURNING event_id
	`, eventColumnsArgs(events)...)
	if err != nil {
		return InsertResult{}, unavailable("insert events", err)
	}
	defer rows.Close()

	inserted := make(map[string]struct{}, len(events))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return InsertResult{}, unavailable("insert events", err)
		}
		inserted[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return InsertResult{}, unavailable("insert events", err)
	}

	return splitInserted(events, inserted), nil
}

// UpdateAll overwrites events by id in one statement. A row is only replaced when the
// incoming received_time is newer, so two racing corrections settle on the latest one.
func (p *PostgresStore) UpdateAll(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	_, err := p.pool.Exec(ctx, `
		UPDATE events AS e SET
			event_time    = u.event_time,
			received_time = u.received_time,
			machine_id    = u.machine_id,
			line_id       = u.line_id,
			factory_id    = u.factory_id,
			duration_ms   = u.duration_ms,
			defect_count  = u.defect_count,
			fingerprint   = u.fingerprint,
			updated_at    = now()
		FROM `+unnestEvents+` AS u(`+eventColumns+`)
		WHERE e.event_id = u.event_id
		  AND e.received_time < u.received_time
	`, eventColumnsArgs(events)...)
	if err != nil {
		return unavailable("update events", err)
	}
	return nil
}

// CountInWindow returns the number of events for machineID in the time window [start,end).
// Using a half-open interval avoids double counting at window boundaries.
func (p *PostgresStore) CountInWindow(ctx context.Context, machineID string, start, end time.Time) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM events
		WHERE machine_id = $1
		  AND event_time >= $2
		  AND event_time <  $3
	`, machineID, start, end).Scan(&count)
	if err != nil {
		return 0, unavailable("count events", err)
	}
	return count, nil
}

// SumDefectsInWindow sums defect_count for machineID in [start,end), skipping unmeasured rows.
func (p *PostgresStore) SumDefectsInWindow(ctx context.Context, machineID string, start, end time.Time) (int64, error) {
	var sum int64
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(defect_count), 0)
		FROM events
		WHERE machine_id = $1
		  AND event_time >= $2
		  AND event_time <  $3
		  AND defect_count >= 0
	`, machineID, start, end).Scan(&sum)
	if err != nil {
		return 0, unavailable("sum defects", err)
	}
	return sum, nil
}

// DefectsByLineInWindow groups factoryID's measured events in [start,end) by line_id.
func (p *PostgresStore) DefectsByLineInWindow(ctx context.Context, factoryID string, start, end time.Time) ([]LineTotal, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT line_id, COALESCE(SUM(defect_count), 0), COUNT(*)
		FROM events
		WHERE factory_id = $1
		  AND event_time >= $2
		  AND event_time <  $3
		  AND defect_count >= 0
		  AND line_id IS NOT NULL
		GROUP BY line_id
		ORDER BY line_id
	`, factoryID, start, end)
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
