// Package outage implements the Outage History ledger (OH): a bounded
// ring of outage records persisted as a JSON array, with MTTR/MTBF/
// availability arithmetic computed on read. Persistence reuses the same
// atomic-file approach as the circuit breaker and recovery scheduler
// (internal/filestate).
package outage

import (
	"time"

	"github.com/yungbote/syncqueue/internal/filestate"
	"github.com/yungbote/syncqueue/internal/pkg/pointers"
)

// DefaultCapacity is the ring's default size.
const DefaultCapacity = 30

// Record is one outage entry.
type Record struct {
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	Duration     *float64   `json:"duration_seconds,omitempty"`
	JobsAffected int        `json:"jobs_affected"`
}

// Metrics is the aggregate view returned by Metrics().
type Metrics struct {
	MTTR          float64
	MTBF          float64
	Availability  float64
	TotalDowntime float64
	OutageCount   int
}

type persisted struct {
	Records []Record `json:"records"`
}

// History is the Outage History ledger.
type History struct {
	store    *filestate.Store
	capacity int
	p        persisted
}

// Open loads (or initializes) the outage ledger at path with the given
// ring capacity. A non-positive capacity falls back to DefaultCapacity.
func Open(path string, capacity int) (*History, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	store := filestate.New(path)
	var p persisted
	if err := store.Load(&p); err != nil {
		p = persisted{}
	}
	return &History{store: store, capacity: capacity, p: p}, nil
}

// RecordStart appends a new in-progress outage record starting at
// startedAt, discarding the oldest record if the ring is at capacity.
// Invoked when CB transitions into OPEN.
func (h *History) RecordStart(startedAt time.Time) {
	h.p.Records = append(h.p.Records, Record{StartedAt: startedAt})
	if len(h.p.Records) > h.capacity {
		h.p.Records = h.p.Records[len(h.p.Records)-h.capacity:]
	}
	_ = h.store.Save(&h.p)
}

// RecordEnd closes the most recent outage record if it is still
// ongoing (EndedAt == nil); otherwise it is a no-op.
// Invoked when CB transitions OPEN/HALF_OPEN -> CLOSED.
func (h *History) RecordEnd(endedAt time.Time, jobsAffected int) {
	if len(h.p.Records) == 0 {
		return
	}
	last := &h.p.Records[len(h.p.Records)-1]
	if last.EndedAt != nil {
		return
	}
	last.EndedAt = pointers.Ptr(endedAt)
	last.Duration = pointers.Float64(endedAt.Sub(last.StartedAt).Seconds())
	last.JobsAffected = jobsAffected
	_ = h.store.Save(&h.p)
}

// History returns the full record list, most recent last.
func (h *History) History() []Record {
	out := make([]Record, len(h.p.Records))
	copy(out, h.p.Records)
	return out
}

// Metrics computes MTTR, MTBF, availability, total downtime, and the
// completed-outage count. Only completed
// outages (EndedAt != nil) are included; MTBF requires at least two
// completed outages, otherwise it is 0; availability defaults to 100
// when MTTR is 0.
func (h *History) Metrics() Metrics {
	var completed []Record
	for _, r := range h.p.Records {
		if r.EndedAt != nil {
			completed = append(completed, r)
		}
	}

	m := Metrics{OutageCount: len(completed)}
	if len(completed) == 0 {
		m.Availability = 100
		return m
	}

	var totalDowntime float64
	for _, r := range completed {
		totalDowntime += *r.Duration
	}
	m.TotalDowntime = totalDowntime
	m.MTTR = totalDowntime / float64(len(completed))

	if len(completed) >= 2 {
		first := completed[0].StartedAt
		last := completed[len(completed)-1].StartedAt
		span := last.Sub(first).Seconds()
		gaps := span - totalDowntime
		m.MTBF = gaps / float64(len(completed)-1)
	}

	if m.MTTR == 0 {
		m.Availability = 100
	} else {
		m.Availability = m.MTBF / (m.MTBF + m.MTTR) * 100
	}
	return m
}
