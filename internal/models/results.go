package models

import "time"

// Rejection explains why one input record was not persisted.
type Rejection struct {
	EventID string `json:"eventId"`
	Reason  string `json:"reason"`
}

// BatchResult is the per-batch tally returned by POST /events/batch.
// Accepted+Deduped+Updated+Rejected always equals the submitted batch size.
type BatchResult struct {
	Accepted   int         `json:"accepted"`
	Deduped    int         `json:"deduped"`
	Updated    int         `json:"updated"`
	Rejected   int         `json:"rejected"`
	Rejections []Rejection `json:"rejections"`
}

// Total returns the number of records the tally accounts for.
func (r BatchResult) Total() int {
	return r.Accepted + r.Deduped + r.Updated + r.Rejected
}

// Machine health labels reported by GET /stats.
const (
	StatusHealthy = "Healthy"
	StatusWarning = "Warning"
)

// MachineStats summarises one machine over the half-open window [Start, End).
type MachineStats struct {
	MachineID     string    `json:"machineId"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	EventsCount   int64     `json:"eventsCount"`
	DefectsCount  int64     `json:"defectsCount"`
	AvgDefectRate float64   `json:"avgDefectRate"`
	Status        string    `json:"status"`
}

// TopDefectLine is one row of the GET /stats/top-defect-lines ranking.
type TopDefectLine struct {
	LineID         string  `json:"lineId"`
	TotalDefects   int64   `json:"totalDefects"`
	EventCount     int64   `json:"eventCount"`
	DefectsPercent float64 `json:"defectsPercent"`
}
