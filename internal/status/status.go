// Package status implements the Status Reporter: a single, read-only
// seam through which every other component's durable state is observed
// together. Snapshot assembly touches no locks beyond what each
// collaborator's own read-only accessor already takes, so it is safe
// to call from an operator CLI running alongside a live worker.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/syncqueue/internal/breaker"
	"github.com/yungbote/syncqueue/internal/dlq"
	"github.com/yungbote/syncqueue/internal/outage"
	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/queue"
	"github.com/yungbote/syncqueue/internal/recovery"
)

// CircuitBreaker mirrors the subset of *breaker.Breaker the reporter
// reads from, named so tests can substitute a fake.
type CircuitBreaker interface {
	Snapshot() breaker.Snapshot
}

// RecoverySource mirrors the subset of *recovery.Scheduler the
// reporter reads from.
type RecoverySource interface {
	Snapshot() recovery.Snapshot
}

// OutageSource mirrors the subset of *outage.History the reporter
// reads from.
type OutageSource interface {
	History() []outage.Record
	Metrics() outage.Metrics
}

// CircuitBreakerSnapshot is the status view of the breaker's state,
// with AgeSeconds filled in only while OPEN (time since opened_at).
type CircuitBreakerSnapshot struct {
	State      string  `json:"state"`
	AgeSeconds float64 `json:"age_seconds,omitempty"`
}

// ProbeSnapshot is the status view of the most recent health probe.
type ProbeSnapshot struct {
	LastProbeTime  time.Time `json:"last_probe_time"`
	LastProbeOK    bool      `json:"last_probe_ok"`
	LastLatencyMS  float64   `json:"last_latency_ms"`
}

// RecoverySnapshot is the status view of the recovery scheduler's
// durable counters.
type RecoverySnapshot struct {
	LastRecoveryTime time.Time `json:"last_recovery_time"`
	RecoveryCount    int       `json:"recovery_count"`
}

// OutageSnapshot is a single human-readable outage history entry.
type OutageSnapshot struct {
	StartedAt    time.Time `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Duration     string    `json:"duration,omitempty"`
	JobsAffected int       `json:"jobs_affected"`
}

// Snapshot is the full status report.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`

	QueueSize int64 `json:"queue_size"`
	DLQSize   int64 `json:"dlq_size"`

	CircuitBreaker CircuitBreakerSnapshot `json:"circuit_breaker"`
	Probe          ProbeSnapshot          `json:"probe"`
	Recovery       RecoverySnapshot       `json:"recovery"`

	RecentOutages []OutageSnapshot `json:"recent_outages"`
	MTTRSeconds   float64          `json:"mttr_seconds"`
	MTBFSeconds   float64          `json:"mtbf_seconds"`
	Availability  float64          `json:"availability_pct"`
}

// recentOutageLimit caps how many history entries a snapshot carries.
const recentOutageLimit = 10

// Reporter assembles Snapshots from the components' durable state.
type Reporter struct {
	pq  *queue.PQ
	dlq *dlq.Store
	cb  CircuitBreaker
	rs  RecoverySource
	oh  OutageSource
	now func() time.Time
}

// New builds a Reporter over the given collaborators.
func New(pq *queue.PQ, dlqStore *dlq.Store, cb CircuitBreaker, rs RecoverySource, oh OutageSource) *Reporter {
	return &Reporter{pq: pq, dlq: dlqStore, cb: cb, rs: rs, oh: oh, now: time.Now}
}

// Snapshot assembles a point-in-time report.
func (r *Reporter) Snapshot() (Snapshot, error) {
	now := r.now()

	queueSize, err := r.pq.Size()
	if err != nil {
		return Snapshot{}, fmt.Errorf("status: queue size: %w", err)
	}
	dlqSize, err := r.dlq.Count()
	if err != nil {
		return Snapshot{}, fmt.Errorf("status: dlq count: %w", err)
	}

	cbSnap := r.cb.Snapshot()
	cbStatus := CircuitBreakerSnapshot{State: string(cbSnap.State)}
	if cbSnap.State == breaker.StateOpen && cbSnap.OpenedAt != nil {
		cbStatus.AgeSeconds = now.Sub(*cbSnap.OpenedAt).Seconds()
	}

	rsSnap := r.rs.Snapshot()

	metrics := r.oh.Metrics()
	history := r.oh.History()
	recent := make([]OutageSnapshot, 0, recentOutageLimit)
	for i := len(history) - 1; i >= 0 && len(recent) < recentOutageLimit; i-- {
		rec := history[i]
		entry := OutageSnapshot{StartedAt: rec.StartedAt, EndedAt: rec.EndedAt, JobsAffected: rec.JobsAffected}
		if rec.Duration != nil {
			entry.Duration = formatDuration(time.Duration(*rec.Duration * float64(time.Second)))
		}
		recent = append(recent, entry)
	}

	return Snapshot{
		TakenAt:        now,
		QueueSize:      queueSize,
		DLQSize:        dlqSize,
		CircuitBreaker: cbStatus,
		Probe: ProbeSnapshot{
			LastProbeTime: rsSnap.LastCheckTime,
			LastProbeOK:   rsSnap.LastCheckResult,
			LastLatencyMS: rsSnap.LastCheckLatencyMS,
		},
		Recovery: RecoverySnapshot{
			LastRecoveryTime: rsSnap.LastRecoveryTime,
			RecoveryCount:    rsSnap.RecoveryCount,
		},
		RecentOutages: recent,
		MTTRSeconds:   metrics.MTTR,
		MTBFSeconds:   metrics.MTBF,
		Availability:  metrics.Availability,
	}, nil
}

// formatDuration renders d the way an operator reads a dashboard:
// "5m 30s", "1h 15m", "45s".
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// Publisher broadcasts status snapshots over a Redis channel for
// multi-process operators (e.g. a dashboard subscribed from another
// host). It only publishes; nothing in this module subscribes. Redis
// stays entirely optional: a Reporter never depends on a Publisher to
// compute a Snapshot.
type Publisher struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

// NewPublisher dials addr and wraps it for status fan-out over
// channel.
func NewPublisher(addr, channel string, log *logger.Logger) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("status: redis ping: %w", err)
	}
	return &Publisher{log: log.With("component", "status-publisher"), rdb: rdb, channel: channel}, nil
}

// Publish serializes snap and broadcasts it to the configured channel.
// Failures are logged, not returned: a down Redis should never block
// or fail the underlying status read.
func (p *Publisher) Publish(ctx context.Context, snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		p.log.Error("failed to marshal status snapshot", "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Error("failed to publish status snapshot", "error", err, "channel", p.channel)
	}
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
