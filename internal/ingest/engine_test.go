package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PratikDhanave/factory-events-service/internal/clock"
	"github.com/PratikDhanave/factory-events-service/internal/metrics"
	"github.com/PratikDhanave/factory-events-service/internal/models"
	"github.com/PratikDhanave/factory-events-service/internal/store"
	"github.com/PratikDhanave/factory-events-service/internal/validate"
)

var now = time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func input(id string, defects int) models.EventInput {
	return models.EventInput{
		EventID:     id,
		EventTime:   ptr(now.Add(-time.Hour)),
		MachineID:   "M-001",
		LineID:      ptr("L-1"),
		FactoryID:   ptr("F01"),
		DurationMs:  ptr(int64(1500)),
		DefectCount: ptr(int32(defects)),
	}
}

func batchOf(n int) []models.EventInput {
	out := make([]models.EventInput, n)
	for i := range out {
		out[i] = input(fmt.Sprintf("E-%04d", i), i%5)
	}
	return out
}

func mustProcess(t *testing.T, e *Engine, batch []models.EventInput) models.BatchResult {
	t.Helper()
	res, err := e.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Total() != len(batch) {
		t.Fatalf("tally %+v does not account for %d records", res, len(batch))
	}
	return res
}

func TestProcess_EmptyBatch(t *testing.T) {
	e := New(store.NewMemoryStore())
	res := mustProcess(t, e, nil)
	if res.Total() != 0 {
		t.Fatalf("unexpected tally %+v", res)
	}
	if res.Rejections == nil {
		t.Error("rejections must be an empty list, not nil")
	}
}

func TestProcess_NewThenIdenticalResubmit(t *testing.T) {
	st := store.NewMemoryStore()
	e := New(st, WithClock(clock.NewManual(now)))
	batch := batchOf(500)

	first := mustProcess(t, e, batch)
	if first.Accepted != 500 {
		t.Fatalf("first submit: %+v", first)
	}

	second := mustProcess(t, e, batch)
	if second.Deduped != 500 || second.Accepted != 0 || second.Updated != 0 {
		t.Fatalf("resubmit: %+v", second)
	}
	if st.Len() != 500 {
		t.Errorf("stored %d events, want 500", st.Len())
	}
}

func TestProcess_SupersedesWhenReceivedLater(t *testing.T) {
	st := store.NewMemoryStore()
	clk := clock.NewManual(now)
	e := New(st, WithClock(clk))

	mustProcess(t, e, []models.EventInput{input("E-1", 1)})

	clk.Advance(time.Second)
	res := mustProcess(t, e, []models.EventInput{input("E-1", 4)})
	if res.Updated != 1 {
		t.Fatalf("expected one update, got %+v", res)
	}

	got, _ := st.Get("E-1")
	if got.DefectCount != 4 {
		t.Errorf("defectCount = %d, want 4", got.DefectCount)
	}
	if !got.ReceivedTime.Equal(now.Add(time.Second)) {
		t.Errorf("receivedTime = %v, want %v", got.ReceivedTime, now.Add(time.Second))
	}
}

func TestProcess_DifferentPayloadAtSameInstantIsDeduped(t *testing.T) {
	st := store.NewMemoryStore()
	e := New(st, WithClock(clock.NewManual(now)))

	mustProcess(t, e, []models.EventInput{input("E-1", 1)})
	res := mustProcess(t, e, []models.EventInput{input("E-1", 4)})
	if res.Deduped != 1 || res.Updated != 0 {
		t.Fatalf("expected stale record to be deduped, got %+v", res)
	}

	got, _ := st.Get("E-1")
	if got.DefectCount != 1 {
		t.Errorf("stale record overwrote stored event: %+v", got)
	}
}

func TestProcess_RepeatsWithinBatch(t *testing.T) {
	t.Run("new id", func(t *testing.T) {
		st := store.NewMemoryStore()
		e := New(st, WithClock(clock.NewManual(now)))

		res := mustProcess(t, e, []models.EventInput{input("E-1", 1), input("E-1", 7), input("E-1", 1)})
		if res.Accepted != 1 || res.Deduped != 2 {
			t.Fatalf("unexpected tally %+v", res)
		}
		got, _ := st.Get("E-1")
		if got.DefectCount != 1 {
			t.Errorf("first occurrence must win, stored %+v", got)
		}
	})

	t.Run("stored id", func(t *testing.T) {
		st := store.NewMemoryStore()
		clk := clock.NewManual(now)
		e := New(st, WithClock(clk))
		mustProcess(t, e, []models.EventInput{input("E-1", 1)})

		clk.Advance(time.Minute)
		res := mustProcess(t, e, []models.EventInput{input("E-1", 2), input("E-1", 3)})
		if res.Updated != 1 || res.Deduped != 1 {
			t.Fatalf("unexpected tally %+v", res)
		}
		got, _ := st.Get("E-1")
		if got.DefectCount != 2 {
			t.Errorf("first occurrence must win, stored %+v", got)
		}
	})

	t.Run("invalid first occurrence", func(t *testing.T) {
		st := store.NewMemoryStore()
		e := New(st, WithClock(clock.NewManual(now)))

		bad := input("E-1", 1)
		bad.DurationMs = ptr(int64(-1))
		res := mustProcess(t, e, []models.EventInput{bad, input("E-1", 1)})
		if res.Rejected != 1 || res.Accepted != 1 {
			t.Fatalf("unexpected tally %+v", res)
		}
	})
}

func TestProcess_Rejections(t *testing.T) {
	st := store.NewMemoryStore()
	e := New(st, WithClock(clock.NewManual(now)))

	noMachine := input("E-2", 0)
	noMachine.MachineID = ""
	tooLong := input("E-3", 0)
	tooLong.DurationMs = ptr(validate.DefaultMaxDuration.Milliseconds() + 1)
	future := input("E-4", 0)
	future.EventTime = ptr(now.Add(time.Hour))

	res := mustProcess(t, e, []models.EventInput{input("E-1", 0), noMachine, tooLong, future})
	if res.Accepted != 1 || res.Rejected != 3 {
		t.Fatalf("unexpected tally %+v", res)
	}

	want := map[string]string{
		"E-2": string(validate.MissingMachineID),
		"E-3": string(validate.InvalidDuration),
		"E-4": string(validate.FutureEventTime),
	}
	for _, r := range res.Rejections {
		if want[r.EventID] != r.Reason {
			t.Errorf("%s rejected with %q, want %q", r.EventID, r.Reason, want[r.EventID])
		}
	}
	if st.Len() != 1 {
		t.Errorf("stored %d events, want 1", st.Len())
	}
}

func TestProcess_IgnoresClientReceivedTime(t *testing.T) {
	st := store.NewMemoryStore()
	e := New(st, WithClock(clock.NewManual(now)))

	in := input("E-1", 0)
	in.ReceivedTime = ptr(now.Add(48 * time.Hour))
	mustProcess(t, e, []models.EventInput{in})

	got, _ := st.Get("E-1")
	if !got.ReceivedTime.Equal(now) {
		t.Errorf("receivedTime = %v, want server time %v", got.ReceivedTime, now)
	}
}

func TestProcess_FingerprintFailureIsRejected(t *testing.T) {
	st := store.NewMemoryStore()
	broken := func(models.EventInput) (string, error) { return "", errors.New("digest unavailable") }
	e := New(st, WithClock(clock.NewManual(now)), WithFingerprint(broken))

	res := mustProcess(t, e, []models.EventInput{input("E-1", 0)})
	if res.Rejected != 1 {
		t.Fatalf("unexpected tally %+v", res)
	}
	if r := res.Rejections[0].Reason; !strings.HasPrefix(r, ProcessingErrorPrefix) {
		t.Errorf("reason %q lacks %q", r, ProcessingErrorPrefix)
	}
	if st.Len() != 0 {
		t.Error("nothing should be stored")
	}
}

// racingStore lets a competing writer insert some ids between the snapshot read and the insert.
type racingStore struct {
	*store.MemoryStore
	competitor []models.Event
}

func (r *racingStore) InsertAll(ctx context.Context, events []models.Event) (store.InsertResult, error) {
	if len(r.competitor) > 0 {
		if _, err := r.MemoryStore.InsertAll(ctx, r.competitor); err != nil {
			return store.InsertResult{}, err
		}
		r.competitor = nil
	}
	return r.MemoryStore.InsertAll(ctx, events)
}

func TestProcess_LostInsertRaceCountsAsDeduped(t *testing.T) {
	rival := models.NewEvent(input("E-0001", 9), now, "rival")
	st := &racingStore{MemoryStore: store.NewMemoryStore(), competitor: []models.Event{rival}}
	m := metrics.New()
	e := New(st, WithClock(clock.NewManual(now)), WithMetrics(m))

	res := mustProcess(t, e, batchOf(3))
	if res.Accepted != 2 || res.Deduped != 1 || res.Rejected != 0 {
		t.Fatalf("unexpected tally %+v", res)
	}
	got, _ := st.Get("E-0001")
	if got.Fingerprint != "rival" {
		t.Errorf("race winner must be kept, stored %+v", got)
	}
	if n := m.InsertConflictsTotal.Load(); n != 1 {
		t.Errorf("conflicts metric = %d, want 1", n)
	}
}

// vanishingStore reports every insert as conflicting but never returns the rows.
type vanishingStore struct{}

func (vanishingStore) FindByIDs(context.Context, []string) ([]models.Event, error) { return nil, nil }

func (vanishingStore) InsertAll(_ context.Context, events []models.Event) (store.InsertResult, error) {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.EventID
	}
	return store.InsertResult{Conflicted: ids}, nil
}

func (vanishingStore) UpdateAll(context.Context, []models.Event) error { return nil }

func TestProcess_UnresolvedConflictIsRejected(t *testing.T) {
	e := New(vanishingStore{}, WithClock(clock.NewManual(now)))

	res := mustProcess(t, e, batchOf(2))
	if res.Rejected != 2 || res.Accepted != 0 {
		t.Fatalf("unexpected tally %+v", res)
	}
	for _, r := range res.Rejections {
		if !strings.HasPrefix(r.Reason, ProcessingErrorPrefix) {
			t.Errorf("reason %q lacks %q", r.Reason, ProcessingErrorPrefix)
		}
	}
}

type failingStore struct {
	vanishingStore
	err error
}

func (f failingStore) FindByIDs(context.Context, []string) ([]models.Event, error) { return nil, f.err }

func TestProcess_StoreFailureAbortsBatch(t *testing.T) {
	m := metrics.New()
	e := New(failingStore{err: fmt.Errorf("%w: connection refused", store.ErrUnavailable)},
		WithClock(clock.NewManual(now)), WithMetrics(m))

	res, err := e.Process(context.Background(), batchOf(3))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("error %v does not wrap ErrUnavailable", err)
	}
	if res.Total() != 0 {
		t.Errorf("expected zero tally, got %+v", res)
	}
	if m.StoreErrorsTotal.Load() != 1 || m.BatchesTotal.Load() != 0 {
		t.Errorf("unexpected metrics:\n%s", m)
	}
}

func TestProcess_ConcurrentIdenticalBatches(t *testing.T) {
	st := store.NewMemoryStore()
	e := New(st, WithClock(clock.NewManual(now)))
	batch := batchOf(100)

	const workers = 8
	results := make([]models.BatchResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Process(context.Background(), batch)
			if err != nil {
				t.Errorf("Process: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	var accepted, deduped int
	for _, r := range results {
		accepted += r.Accepted
		deduped += r.Deduped
	}
	if accepted != 100 {
		t.Errorf("accepted across workers = %d, want 100", accepted)
	}
	if deduped != 100*(workers-1) {
		t.Errorf("deduped across workers = %d, want %d", deduped, 100*(workers-1))
	}
	if st.Len() != 100 {
		t.Errorf("stored %d events, want 100", st.Len())
	}
}

func TestProcess_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	e := New(store.NewMemoryStore(), WithClock(clock.NewManual(now)), WithMetrics(m))

	bad := input("E-9", 0)
	bad.EventID = ""
	mustProcess(t, e, []models.EventInput{input("E-1", 0), input("E-2", 0), bad})
	mustProcess(t, e, []models.EventInput{input("E-1", 0)})

	if got := m.BatchesTotal.Load(); got != 2 {
		t.Errorf("batches = %d, want 2", got)
	}
	if got := m.EventsAcceptedTotal.Load(); got != 2 {
		t.Errorf("accepted = %d, want 2", got)
	}
	if got := m.EventsDedupedTotal.Load(); got != 1 {
		t.Errorf("deduped = %d, want 1", got)
	}
	if got := m.EventsRejectedTotal.Load(); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}
