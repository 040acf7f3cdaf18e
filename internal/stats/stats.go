// Package stats answers read-only windowed questions over stored machine events.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/factory-events-service/internal/logctx"
	"github.com/PratikDhanave/factory-events-service/internal/metrics"
	"github.com/PratikDhanave/factory-events-service/internal/models"
	"github.com/PratikDhanave/factory-events-service/internal/store"
)

// DefaultWarningThreshold is the defects-per-hour rate at which a machine reports Warning.
const DefaultWarningThreshold = 2.0

// Store is the read side of the event store.
type Store interface {
	CountInWindow(ctx context.Context, machineID string, start, end time.Time) (int64, error)
	SumDefectsInWindow(ctx context.Context, machineID string, start, end time.Time) (int64, error)
	DefectsByLineInWindow(ctx context.Context, factoryID string, start, end time.Time) ([]store.LineTotal, error)
}

// Cache holds encoded query results for a short time.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Service computes machine stats and line rankings. Safe for concurrent use.
type Service struct {
	store     Store
	threshold decimal.Decimal
	cache     Cache
	cacheTTL  time.Duration
	metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithWarningThreshold sets the inclusive defects-per-hour rate for Warning.
func WithWarningThreshold(t float64) Option {
	return func(s *Service) { s.threshold = decimal.NewFromFloat(t) }
}

// WithCache serves repeated queries from c for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithMetrics counts queries and cache hits into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New returns a Service reading from st.
func New(st Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		threshold: decimal.NewFromFloat(DefaultWarningThreshold),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MachineStats summarises machineID over [start, end).
//
// EventsCount includes events whose defects were not measured; DefectsCount does not.
func (s *Service) MachineStats(ctx context.Context, machineID string, start, end time.Time) (models.MachineStats, error) {
	start, end = start.UTC(), end.UTC()
	key := fmt.Sprintf("stats:machine:%s:%d:%d", machineID, start.UnixNano(), end.UnixNano())

	var out models.MachineStats
	if s.fromCache(ctx, key, &out) {
		return out, nil
	}

	var count, defects int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = s.store.CountInWindow(gctx, machineID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		defects, err = s.store.SumDefectsInWindow(gctx, machineID, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		s.metrics.ObserveStoreError()
		return models.MachineStats{}, fmt.Errorf("stats: machine %s: %w", machineID, err)
	}

	rate := defectRate(defects, end.Sub(start))
	status := models.StatusHealthy
	if rate.GreaterThanOrEqual(s.threshold) {
		status = models.StatusWarning
	}

	out = models.MachineStats{
		MachineID:     machineID,
		Start:         start,
		End:           end,
		EventsCount:   count,
		DefectsCount:  defects,
		AvgDefectRate: rate.InexactFloat64(),
		Status:        status,
	}
	s.toCache(ctx, key, out)
	return out, nil
}

// TopDefectLines ranks factoryID's lines by measured defects over [from, to).
// Ties are broken by lineId ascending. limit <= 0 yields an empty ranking.
func (s *Service) TopDefectLines(ctx context.Context, factoryID string, from, to time.Time, limit int) ([]models.TopDefectLine, error) {
	out := []models.TopDefectLine{}
	if limit <= 0 {
		return out, nil
	}

	from, to = from.UTC(), to.UTC()
	key := fmt.Sprintf("stats:lines:%s:%d:%d:%d", factoryID, from.UnixNano(), to.UnixNano(), limit)
	if s.fromCache(ctx, key, &out) {
		return out, nil
	}
	out = []models.TopDefectLine{}

	groups, err := s.store.DefectsByLineInWindow(ctx, factoryID, from, to)
	if err != nil {
		s.metrics.ObserveStoreError()
		return nil, fmt.Errorf("stats: factory %s: %w", factoryID, err)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Sum != groups[j].Sum {
			return groups[i].Sum > groups[j].Sum
		}
		return groups[i].LineID < groups[j].LineID
	})
	if len(groups) > limit {
		groups = groups[:limit]
	}

	for _, g := range groups {
		out = append(out, models.TopDefectLine{
			LineID:         g.LineID,
			TotalDefects:   g.Sum,
			EventCount:     g.Count,
			DefectsPercent: defectPercent(g.Sum, g.Count).InexactFloat64(),
		})
	}
	s.toCache(ctx, key, out)
	return out, nil
}

// defectRate is defects per hour over window, rounded half-up to one decimal.
// The window is measured in whole seconds; a window under one second has rate 0.
func defectRate(defects int64, window time.Duration) decimal.Decimal {
	seconds := int64(window / time.Second)
	if seconds <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(defects).
		Mul(decimal.NewFromInt(3600)).
		DivRound(decimal.NewFromInt(seconds), 1)
}

// defectPercent is total*100/count rounded half-up to two decimals, or 0 for an empty group.
func defectPercent(total, count int64) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(count), 2)
}

// fromCache decodes a cached result into dst. Cache failures are logged and treated as misses.
func (s *Service) fromCache(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		s.metrics.ObserveStatsQuery(false)
		return false
	}

	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log := logctx.FromContext(ctx)
		log.Warn().Err(err).Str("key", key).Msg("stats cache read failed")
	}
	if err != nil || !ok {
		s.metrics.ObserveStatsQuery(false)
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		log := logctx.FromContext(ctx)
		log.Warn().Err(err).Str("key", key).Msg("stats cache entry undecodable")
		s.metrics.ObserveStatsQuery(false)
		return false
	}
	s.metrics.ObserveStatsQuery(true)
	return true
}

func (s *Service) toCache(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err == nil {
		err = s.cache.Set(ctx, key, b, s.cacheTTL)
	}
	if err != nil {
		log := logctx.FromContext(ctx)
		log.Warn().Err(err).Str("key", key).Msg("stats cache write failed")
	}
}
