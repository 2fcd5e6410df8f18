// Package queue implements the persistent FIFO job queue (PQ). Storage
// is an embedded SQLite database in WAL mode via gorm.io/gorm +
// gorm.io/driver/sqlite. The claim query is a single transaction that
// selects the oldest ready row and marks it in-flight. SQLite has no
// SKIP LOCKED, but PQ is driven by one sync-worker goroutine per
// process, so a plain single-writer transaction is sufficient.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/syncqueue/internal/job"
	"github.com/yungbote/syncqueue/internal/platform/logger"
)

// State is the lifecycle state of a queued row:
// ready -> in_flight -> acked | ready (nack) | failed.
type State string

const (
	StateReady    State = "ready"
	StateInFlight State = "in_flight"
	StateAcked    State = "acked"
	StateFailed   State = "failed"
)

// row is the GORM model backing the sync_jobs table.
type row struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	State         State  `gorm:"column:state;index:idx_state_next_visible"`
	Payload       []byte `gorm:"column:payload"`
	EnqueuedAt    time.Time
	RetryCount    int
	NextVisibleAt time.Time `gorm:"index:idx_state_next_visible"`
	SceneID       string    `gorm:"index"`
	UpdateType    string
	JobKey        string
}

func (row) TableName() string { return "sync_jobs" }

// ClaimedJob is a job pulled off the queue, paired with the row id
// callers must pass back to Ack/Nack/Fail.
type ClaimedJob struct {
	ID         uint64
	Job        job.Job
	RetryCount int
}

// PQ is the persistent queue. One PQ is opened per data_dir/queue.db and
// is safe for use by a single sync-worker goroutine; it is not
// designed for concurrent claimers within one process.
type PQ struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open opens (creating if necessary) the SQLite-backed queue at dbPath
// in WAL mode, migrates the schema, and sweeps any row left in_flight
// from a prior crash back to ready so nothing is silently lost.
func Open(dbPath string, log *logger.Logger) (*PQ, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", dbPath, err)
	}
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}

	pq := &PQ{db: db, log: log.With("component", "PQ")}
	if err := pq.resumeOnLoad(); err != nil {
		return nil, err
	}
	return pq, nil
}

// resumeOnLoad resets every in_flight row to ready. Any job the queue
// had claimed but not yet acked/nacked/failed at crash time must
// re-appear as ready on the next startup.
func (pq *PQ) resumeOnLoad() error {
	res := pq.db.Model(&row{}).
		Where("state = ?", StateInFlight).
		Updates(map[string]interface{}{
			"state":           StateReady,
			"next_visible_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("queue: resume-on-load: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		pq.log.Info("resumed in-flight jobs as ready", "count", res.RowsAffected)
	}
	return nil
}

// Enqueue inserts j as a ready row and returns its id. Expected to
// complete in under 100ms on a warm store.
func (pq *PQ) Enqueue(j job.Job) (uint64, error) {
	payload, err := json.Marshal(j)
	if err != nil {
		return 0, fmt.Errorf("queue: marshal job: %w", err)
	}
	r := row{
		State:         StateReady,
		Payload:       payload,
		EnqueuedAt:    j.EnqueuedAt,
		NextVisibleAt: j.EnqueuedAt,
		SceneID:       j.SceneID,
		UpdateType:    string(j.UpdateType),
		JobKey:        j.JobKey,
	}
	if err := pq.db.Create(&r).Error; err != nil {
		return 0, fmt.Errorf("queue: enqueue: %w", err)
	}
	return r.ID, nil
}

// ErrNoPendingJob is returned by GetPending when no job became ready
// before timeout elapsed.
var ErrNoPendingJob = errors.New("queue: no pending job")

// GetPending claims and returns the oldest ready job, blocking up to
// timeout if none is immediately available. It polls in small slices so
// ctx cancellation is honored promptly rather than only at the timeout
// boundary.
func (pq *PQ) GetPending(ctx context.Context, timeout time.Duration) (*ClaimedJob, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 50 * time.Millisecond

	for {
		claimed, err := pq.claimOne()
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, ErrNoPendingJob
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (pq *PQ) claimOne() (*ClaimedJob, error) {
	var claimed *ClaimedJob
	err := pq.db.Transaction(func(tx *gorm.DB) error {
		var r row
		err := tx.Where("state = ? AND next_visible_at <= ?", StateReady, time.Now()).
			Order("enqueued_at ASC").
			Limit(1).
			First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&row{}).
			Where("id = ? AND state = ?", r.ID, StateReady).
			Updates(map[string]interface{}{"state": StateInFlight})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race (shouldn't happen with one writer, but be safe).
			return nil
		}

		var j job.Job
		if err := json.Unmarshal(r.Payload, &j); err != nil {
			return fmt.Errorf("queue: decode payload for row %d: %w", r.ID, err)
		}
		claimed = &ClaimedJob{ID: r.ID, Job: j, RetryCount: r.RetryCount}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	return claimed, nil
}

// Ack marks id as acked — consumed successfully, eligible for pruning.
func (pq *PQ) Ack(id uint64) error {
	return pq.setState(id, StateAcked, map[string]interface{}{})
}

// Nack returns id to ready, incrementing retry_count so the backoff
// calculator can be driven off it, and making it visible again
// immediately. SW is responsible for computing any delay before the job
// should become visible again and passing it via NackAfter if desired.
func (pq *PQ) Nack(id uint64) error {
	return pq.setState(id, StateReady, map[string]interface{}{
		"retry_count":     gorm.Expr("retry_count + 1"),
		"next_visible_at": time.Now(),
	})
}

// NackAfter behaves like Nack but delays the row's next visibility by
// delay — used by SW to apply the backoff calculator's result between
// retries instead of making a failed job immediately re-claimable.
func (pq *PQ) NackAfter(id uint64, delay time.Duration) error {
	return pq.setState(id, StateReady, map[string]interface{}{
		"retry_count":     gorm.Expr("retry_count + 1"),
		"next_visible_at": time.Now().Add(delay),
	})
}

// Fail marks id as permanently failed. The caller (sync worker) is
// responsible for writing the corresponding entry to the dead-letter
// store; PQ only tracks that this row has left the active lifecycle.
func (pq *PQ) Fail(id uint64) error {
	return pq.setState(id, StateFailed, map[string]interface{}{})
}

func (pq *PQ) setState(id uint64, state State, extra map[string]interface{}) error {
	updates := map[string]interface{}{"state": state}
	for k, v := range extra {
		updates[k] = v
	}
	res := pq.db.Model(&row{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("queue: update row %d: %w", id, res.Error)
	}
	return nil
}

// Size returns the count of jobs still in the active lifecycle (ready
// or in_flight) — excludes acked and failed rows.
func (pq *PQ) Size() (int64, error) {
	var count int64
	err := pq.db.Model(&row{}).
		Where("state IN ?", []State{StateReady, StateInFlight}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("queue: size: %w", err)
	}
	return count, nil
}

// QueuedSceneIDs returns the set of scene_ids currently active (ready or
// in_flight), used for in-process deduplication by the sync worker and
// by the DLQ recovery pipeline's dedup gate.
func (pq *PQ) QueuedSceneIDs() (map[string]struct{}, error) {
	var sceneIDs []string
	err := pq.db.Model(&row{}).
		Where("state IN ?", []State{StateReady, StateInFlight}).
		Pluck("scene_id", &sceneIDs).Error
	if err != nil {
		return nil, fmt.Errorf("queue: queued_scene_ids: %w", err)
	}
	out := make(map[string]struct{}, len(sceneIDs))
	for _, id := range sceneIDs {
		out[id] = struct{}{}
	}
	return out, nil
}

// Close releases the underlying database handle.
func (pq *PQ) Close() error {
	sqlDB, err := pq.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
