package models

import "time"

// UnmeasuredDefects is the defect_count sentinel producers send when a cycle was not inspected.
// Any negative value is treated the same way.
const UnmeasuredDefects = -1

// EventInput is one element of the POST /events/batch payload.
// Pointer fields distinguish "absent" from a zero value so validation can name what is missing.
// ReceivedTime is accepted for compatibility and always ignored.
type EventInput struct {
	EventID      string     `json:"eventId"`
	EventTime    *time.Time `json:"eventTime"`
	ReceivedTime *time.Time `json:"receivedTime,omitempty"`
	MachineID    string     `json:"machineId"`
	LineID       *string    `json:"lineId,omitempty"`
	FactoryID    *string    `json:"factoryId,omitempty"`
	DurationMs   *int64     `json:"durationMs"`
	DefectCount  *int32     `json:"defectCount"`
}

// Line returns the line id, with null and "" both reported as "".
func (in EventInput) Line() string {
	if in.LineID == nil {
		return ""
	}
	return *in.LineID
}

// Factory returns the factory id, with null and "" both reported as "".
func (in EventInput) Factory() string {
	if in.FactoryID == nil {
		return ""
	}
	return *in.FactoryID
}

// Event is the persisted form of one machine event, keyed by EventID.
// LineID and FactoryID are "" when the producer did not supply them; stores persist "" as NULL.
type Event struct {
	EventID      string    `json:"eventId"`
	EventTime    time.Time `json:"eventTime"`
	ReceivedTime time.Time `json:"receivedTime"`
	MachineID    string    `json:"machineId"`
	LineID       string    `json:"lineId,omitempty"`
	FactoryID    string    `json:"factoryId,omitempty"`
	DurationMs   int64     `json:"durationMs"`
	DefectCount  int       `json:"defectCount"`
	Fingerprint  string    `json:"fingerprint"`
}

// DefectsMeasured reports whether DefectCount carries a real measurement.
func (e Event) DefectsMeasured() bool {
	return e.DefectCount >= 0
}

// NewEvent builds the stored form of a validated input.
// The caller guarantees the required pointer fields are non-nil.
func NewEvent(in EventInput, receivedTime time.Time, fingerprint string) Event {
	return Event{
		EventID:      in.EventID,
		EventTime:    in.EventTime.UTC(),
		ReceivedTime: receivedTime.UTC(),
		MachineID:    in.MachineID,
		LineID:       in.Line(),
		FactoryID:    in.Factory(),
		DurationMs:   *in.DurationMs,
		DefectCount:  int(*in.DefectCount),
		Fingerprint:  fingerprint,
	}
}
