// Package ingest persists batches of machine events idempotently.
//
// Each batch is validated, fingerprinted and classified against one snapshot of the store,
// then written with at most one bulk insert and one bulk update. No locks are taken across
// batches: the store's uniqueness on event_id decides insert races, and the engine folds any
// lost race back into the deduped count.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PratikDhanave/factory-events-service/internal/clock"
	"github.com/PratikDhanave/factory-events-service/internal/fingerprint"
	"github.com/PratikDhanave/factory-events-service/internal/logctx"
	"github.com/PratikDhanave/factory-events-service/internal/metrics"
	"github.com/PratikDhanave/factory-events-service/internal/models"
	"github.com/PratikDhanave/factory-events-service/internal/store"
	"github.com/PratikDhanave/factory-events-service/internal/validate"
)

// ProcessingErrorPrefix starts the reason of records rejected after passing validation.
const ProcessingErrorPrefix = "PROCESSING_ERROR:"

// Store is the slice of the event store the engine writes through.
type Store interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Event, error)
	InsertAll(ctx context.Context, events []models.Event) (store.InsertResult, error)
	UpdateAll(ctx context.Context, events []models.Event) error
}

// Engine classifies and persists event batches. Safe for concurrent use.
type Engine struct {
	store       Store
	clock       clock.Clock
	fingerprint fingerprint.Func
	limits      validate.Limits
	metrics     *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the source of receivedTime and the validation "now".
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithFingerprint replaces the content digest.
func WithFingerprint(f fingerprint.Func) Option {
	return func(e *Engine) { e.fingerprint = f }
}

// WithLimits sets the validation limits.
func WithLimits(l validate.Limits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithMetrics records tallies and conflicts into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an Engine writing to st.
func New(st Store, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		clock:       clock.System{},
		fingerprint: fingerprint.Compute,
		limits:      validate.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type outcome int

const (
	outcomeNew outcome = iota
	outcomeDuplicate
	outcomeSupersede
	outcomeStale
)

func (o outcome) String() string {
	switch o {
	case outcomeNew:
		return "new"
	case outcomeDuplicate:
		return "duplicate"
	case outcomeSupersede:
		return "supersede"
	default:
		return "stale"
	}
}

// decision is the arena entry for one event_id within a batch.
type decision struct {
	outcome outcome
	event   models.Event // set for outcomeNew and outcomeSupersede
}

// Process ingests one batch.
//
// Accepted+Deduped+Updated+Rejected always equals len(batch). The only error returned is
// a store failure that prevented the batch from being read or written; in that case the
// tally is meaningless and the zero value is returned.
//
// Repeats of an event_id inside one batch share the batch's receivedTime, so they can never
// be strictly newer than the first occurrence: the first valid occurrence is classified
// against the store and every later one is counted as deduped.
func (e *Engine) Process(ctx context.Context, batch []models.EventInput) (models.BatchResult, error) {
	res := models.BatchResult{Rejections: []models.Rejection{}}
	if len(batch) == 0 {
		return res, nil
	}

	now := e.clock.Now().UTC()
	log := logctx.FromContext(ctx)

	valid, ids := e.validate(batch, now, &res)
	if len(valid) == 0 {
		e.metrics.ObserveBatch(res)
		return res, nil
	}

	existing, err := e.store.FindByIDs(ctx, ids)
	if err != nil {
		return e.fail(log, "load existing events", err)
	}
	snapshot := make(map[string]models.Event, len(existing))
	for _, ev := range existing {
		snapshot[ev.EventID] = ev
	}

	arena := make(map[string]*decision, len(ids))
	order := make([]string, 0, len(ids))

	for _, in := range valid {
		fp, err := e.fingerprint(in)
		if err != nil {
			res.Rejected++
			res.Rejections = append(res.Rejections, models.Rejection{
				EventID: in.EventID,
				Reason:  ProcessingErrorPrefix + err.Error(),
			})
			log.Error().Err(err).Str("event_id", in.EventID).Msg("fingerprint failed")
			continue
		}

		if _, seen := arena[in.EventID]; seen {
			res.Deduped++
			log.Debug().Str("event_id", in.EventID).Msg("repeat within batch folded")
			continue
		}

		d := classify(in, fp, now, snapshot)
		arena[in.EventID] = d
		order = append(order, in.EventID)

		switch d.outcome {
		case outcomeNew:
			res.Accepted++
		case outcomeSupersede:
			res.Updated++
		default:
			res.Deduped++
		}
		log.Debug().Str("event_id", in.EventID).Stringer("outcome", d.outcome).Msg("event classified")
	}

	var toInsert, toUpdate []models.Event
	for _, id := range order {
		d := arena[id]
		switch d.outcome {
		case outcomeNew:
			toInsert = append(toInsert, d.event)
		case outcomeSupersede:
			toUpdate = append(toUpdate, d.event)
		}
	}

	if len(toInsert) > 0 {
		ins, err := e.store.InsertAll(ctx, toInsert)
		if err != nil {
			return e.fail(log, "insert events", err)
		}
		if ins.HasConflicts() {
			if err := e.reconcileConflicts(ctx, log, ins.Conflicted, &res); err != nil {
				return e.fail(log, "reload conflicted events", err)
			}
		}
	}

	if len(toUpdate) > 0 {
		if err := e.store.UpdateAll(ctx, toUpdate); err != nil {
			return e.fail(log, "update events", err)
		}
	}

	e.metrics.ObserveBatch(res)
	log.Info().
		Int("accepted", res.Accepted).
		Int("deduped", res.Deduped).
		Int("updated", res.Updated).
		Int("rejected", res.Rejected).
		Msg("batch processed")
	return res, nil
}

// validate splits batch into valid records and rejections, and returns the distinct
// event_ids of the valid records in first-seen order.
func (e *Engine) validate(batch []models.EventInput, now time.Time, res *models.BatchResult) ([]models.EventInput, []string) {
	valid := make([]models.EventInput, 0, len(batch))
	ids := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))

	for _, in := range batch {
		if reason, ok := validate.Event(in, now, e.limits); !ok {
			res.Rejected++
			res.Rejections = append(res.Rejections, models.Rejection{EventID: in.EventID, Reason: string(reason)})
			continue
		}
		valid = append(valid, in)
		if _, dup := seen[in.EventID]; !dup {
			seen[in.EventID] = struct{}{}
			ids = append(ids, in.EventID)
		}
	}
	return valid, ids
}

// classify decides what one record means relative to the stored snapshot.
func classify(in models.EventInput, fp string, now time.Time, snapshot map[string]models.Event) *decision {
	cur, found := snapshot[in.EventID]
	switch {
	case !found:
		return &decision{outcome: outcomeNew, event: models.NewEvent(in, now, fp)}
	case cur.Fingerprint == fp:
		return &decision{outcome: outcomeDuplicate}
	case now.After(cur.ReceivedTime):
		return &decision{outcome: outcomeSupersede, event: models.NewEvent(in, now, fp)}
	default:
		return &decision{outcome: outcomeStale}
	}
}

// reconcileConflicts moves ids that lost an insert race from accepted to deduped.
// An id the store reported as conflicting but cannot return is rejected instead, so the
// tally still sums to the batch size.
func (e *Engine) reconcileConflicts(ctx context.Context, log zerolog.Logger, conflicted []string, res *models.BatchResult) error {
	nowExisting, err := e.store.FindByIDs(ctx, conflicted)
	if err != nil {
		return err
	}
	found := make(map[string]struct{}, len(nowExisting))
	for _, ev := range nowExisting {
		found[ev.EventID] = struct{}{}
	}

	for _, id := range conflicted {
		res.Accepted--
		if _, ok := found[id]; ok {
			res.Deduped++
			continue
		}
		res.Rejected++
		res.Rejections = append(res.Rejections, models.Rejection{
			EventID: id,
			Reason:  ProcessingErrorPrefix + "insert conflict could not be resolved",
		})
	}

	e.metrics.ObserveConflicts(len(conflicted))
	log.Warn().Int("conflicted", len(conflicted)).Msg("concurrent insert race; conflicting events counted as deduped")
	return nil
}

func (e *Engine) fail(log zerolog.Logger, op string, err error) (models.BatchResult, error) {
	e.metrics.ObserveStoreError()
	log.Error().Err(err).Str("op", op).Msg("batch aborted")
	return models.BatchResult{}, fmt.Errorf("ingest: %s: %w", op, err)
}
