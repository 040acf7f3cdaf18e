// Package store persists machine events and answers windowed range queries over them.
//
// Every backend enforces uniqueness on event_id. Bulk inserts never fail on a duplicate key;
// they report the ids another writer got to first through InsertResult so the caller can
// reconcile its tally.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PratikDhanave/factory-events-service/internal/models"
)

// ErrUnavailable marks failures where the store could not be read or written at all.
// Callers match it with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// EventStore is the contract shared by every backend.
type EventStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Event, error)
	InsertAll(ctx context.Context, events []models.Event) (InsertResult, error)
	UpdateAll(ctx context.Context, events []models.Event) error
	CountInWindow(ctx context.Context, machineID string, start, end time.Time) (int64, error)
	SumDefectsInWindow(ctx context.Context, machineID string, start, end time.Time) (int64, error)
	DefectsByLineInWindow(ctx context.Context, factoryID string, start, end time.Time) ([]LineTotal, error)
	Ping(ctx context.Context) error
	Close()
}

// InsertResult reports how a bulk insert split between rows written and rows that
// collided with an existing event_id.
type InsertResult struct {
	Inserted   []string
	Conflicted []string
}

// HasConflicts reports whether any row lost a uniqueness race.
func (r InsertResult) HasConflicts() bool {
	return len(r.Conflicted) > 0
}

// LineTotal is one group of measured defects for a production line.
type LineTotal struct {
	LineID string
	Sum    int64
	Count  int64
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// splitInserted returns the ids in events that are not in inserted, preserving input order.
func splitInserted(events []models.Event, inserted map[string]struct{}) InsertResult {
	res := InsertResult{}
	for _, e := range events {
		if _, ok := inserted[e.EventID]; ok {
			res.Inserted = append(res.Inserted, e.EventID)
			continue
		}
		res.Conflicted = append(res.Conflicted, e.EventID)
	}
	return res
}

// nullable maps "" to a SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
