// Package validate holds the per-record acceptance rules for ingested machine events.
package validate

import (
	"time"

	"github.com/PratikDhanave/factory-events-service/internal/models"
)

// Reason is a rejection code reported back to producers.
type Reason string

// Rejection codes, in the order the checks run.
const (
	MissingEventID     Reason = "MISSING_EVENT_ID"
	MissingEventTime   Reason = "MISSING_EVENT_TIME"
	MissingMachineID   Reason = "MISSING_MACHINE_ID"
	MissingDuration    Reason = "MISSING_DURATION"
	MissingDefectCount Reason = "MISSING_DEFECT_COUNT"
	InvalidDuration    Reason = "INVALID_DURATION"
	FutureEventTime    Reason = "FUTURE_EVENT_TIME"
)

// Defaults applied when Limits fields are zero.
const (
	DefaultMaxDuration         = 6 * time.Hour
	DefaultFutureSkewTolerance = 15 * time.Minute
)

// Limits bounds what a record may claim.
type Limits struct {
	// MaxDuration is the inclusive ceiling for durationMs.
	MaxDuration time.Duration
	// FutureSkew is how far past "now" an eventTime may be. Exactly now+FutureSkew is accepted.
	FutureSkew time.Duration
}

// DefaultLimits returns the 6h duration ceiling and 15m future tolerance.
func DefaultLimits() Limits {
	return Limits{
		MaxDuration: DefaultMaxDuration,
		FutureSkew:  DefaultFutureSkewTolerance,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxDuration <= 0 {
		l.MaxDuration = DefaultMaxDuration
	}
	if l.FutureSkew < 0 {
		l.FutureSkew = 0
	}
	return l
}

// Event checks one record against the rules, stopping at the first failure.
// ok is true when the record is acceptable.
func Event(in models.EventInput, now time.Time, limits Limits) (reason Reason, ok bool) {
	limits = limits.withDefaults()

	switch {
	case in.EventID == "":
		return MissingEventID, false
	case in.EventTime == nil:
		return MissingEventTime, false
	case in.MachineID == "":
		return MissingMachineID, false
	case in.DurationMs == nil:
		return MissingDuration, false
	case in.DefectCount == nil:
		return MissingDefectCount, false
	}

	if d := *in.DurationMs; d < 0 || d > limits.MaxDuration.Milliseconds() {
		return InvalidDuration, false
	}

	if in.EventTime.After(now.Add(limits.FutureSkew)) {
		return FutureEventTime, false
	}

	return "", true
}
