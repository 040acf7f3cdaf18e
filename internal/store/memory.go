package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PratikDhanave/factory-events-service/internal/models"
)

// MemoryStore keeps events in a map. Used for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]models.Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]models.Event)}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() {}

// Len returns the number of stored events.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Get returns one stored event.
func (m *MemoryStore) Get(id string) (models.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	return e, ok
}

// FindByIDs returns the stored events among ids. Unknown ids are skipped.
func (m *MemoryStore) FindByIDs(_ context.Context, ids []string) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.events[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// InsertAll writes events whose id is not yet present and reports the rest as conflicted.
func (m *MemoryStore) InsertAll(_ context.Context, events []models.Event) (InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, exists := m.events[e.EventID]; exists {
			continue
		}
		m.events[e.EventID] = e
		inserted[e.EventID] = struct{}{}
	}
	return splitInserted(events, inserted), nil
}

// UpdateAll overwrites stored events whose receivedTime is older than the replacement.
// Ids that are not stored are ignored.
func (m *MemoryStore) UpdateAll(_ context.Context, events []models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		if cur, exists := m.events[e.EventID]; exists && cur.ReceivedTime.Before(e.ReceivedTime) {
			m.events[e.EventID] = e
		}
	}
	return nil
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// CountInWindow counts machineID's events with eventTime in [start, end).
func (m *MemoryStore) CountInWindow(_ context.Context, machineID string, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, e := range m.events {
		if e.MachineID == machineID && inWindow(e.EventTime, start, end) {
			n++
		}
	}
	return n, nil
}

// SumDefectsInWindow sums measured defects for machineID in [start, end).
func (m *MemoryStore) SumDefectsInWindow(_ context.Context, machineID string, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, e := range m.events {
		if e.MachineID == machineID && e.DefectsMeasured() && inWindow(e.EventTime, start, end) {
			sum += int64(e.DefectCount)
		}
	}
	return sum, nil
}

// DefectsByLineInWindow groups factoryID's measured, line-tagged events in [start, end) by line.
func (m *MemoryStore) DefectsByLineInWindow(_ context.Context, factoryID string, start, end time.Time) ([]LineTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := map[string]*LineTotal{}
	for _, e := range m.events {
		if e.FactoryID != factoryID || e.LineID == "" || !e.DefectsMeasured() || !inWindow(e.EventTime, start, end) {
			continue
		}
		g, ok := groups[e.LineID]
		if !ok {
			g = &LineTotal{LineID: e.LineID}
			groups[e.LineID] = g
		}
		g.Sum += int64(e.DefectCount)
		g.Count++
	}

	out := make([]LineTotal, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineID < out[j].LineID })
	return out, nil
}
