// Package syncworker orchestrates PQ, CB, RL, RS, OH, and the downstream
// client into a single drain loop: a ticking poll, a claimed job
// dispatched through a narrow interface, and the outcome recorded back
// onto the claimed row. The loop runs as a single goroutine per
// process, since PQ and CB each require exactly one mutator;
// parallelism for throughput comes entirely from the rate limiter's
// target_rate once ramped.
package syncworker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/yungbote/syncqueue/internal/backoff"
	"github.com/yungbote/syncqueue/internal/breaker"
	"github.com/yungbote/syncqueue/internal/dlq"
	"github.com/yungbote/syncqueue/internal/health"
	"github.com/yungbote/syncqueue/internal/metrics"
	"github.com/yungbote/syncqueue/internal/outage"
	"github.com/yungbote/syncqueue/internal/platform/ctxutil"
	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/queue"
	"github.com/yungbote/syncqueue/internal/ratelimit"
	"github.com/yungbote/syncqueue/internal/recovery"
	"github.com/yungbote/syncqueue/internal/syncclient"
)

// maxShutdownSlice bounds every sleep so a cancelled context is
// honored within a bounded shutdown latency.
const maxShutdownSlice = 500 * time.Millisecond

// Config holds the worker's tunable knobs.
type Config struct {
	// PullTimeout bounds how long GetPending blocks per iteration when
	// the queue is empty.
	PullTimeout time.Duration
	// IdleSleep is the pause between idle cycles while CB is OPEN.
	IdleSleep time.Duration
	// RetryBase/RetryCap parameterize the backoff applied between nacked
	// retries via NackAfter.
	RetryBase time.Duration
	RetryCap  time.Duration
}

// DefaultConfig returns sane defaults for the worker loop.
func DefaultConfig() Config {
	return Config{
		PullTimeout: 2 * time.Second,
		IdleSleep:   1 * time.Second,
		RetryBase:   1 * time.Second,
		RetryCap:    30 * time.Second,
	}
}

// Worker is the sync worker orchestrator.
type Worker struct {
	cfg Config

	pq  *queue.PQ
	dlq *dlq.Store
	cb  *breaker.Breaker
	rl  *ratelimit.Limiter
	rs  *recovery.Scheduler
	oh  *outage.History

	healthChecker *health.Checker
	client        syncclient.Client
	classifier    *syncclient.Classifier

	log *logger.Logger

	wasInRecovery bool
}

// New wires a Worker from its already-open collaborators.
func New(
	cfg Config,
	pq *queue.PQ,
	dlqStore *dlq.Store,
	cb *breaker.Breaker,
	rl *ratelimit.Limiter,
	rs *recovery.Scheduler,
	oh *outage.History,
	healthChecker *health.Checker,
	client syncclient.Client,
	classifier *syncclient.Classifier,
	log *logger.Logger,
) *Worker {
	return &Worker{
		cfg:           cfg,
		pq:            pq,
		dlq:           dlqStore,
		cb:            cb,
		rl:            rl,
		rs:            rs,
		oh:            oh,
		healthChecker: healthChecker,
		client:        client,
		classifier:    classifier,
		log:           log.With("component", "SW"),
	}
}

// Run drains the queue until ctx is cancelled. It returns once the
// cooperative shutdown flag (ctx.Done()) is observed, within
// maxShutdownSlice of the current sleep or gate.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("sync worker starting")
	defer w.log.Info("sync worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		if !w.iterate(ctx) {
			return
		}
	}
}

// iterate runs one pass of the drain loop. It returns false when the
// caller should stop (shutdown observed).
func (w *Worker) iterate(ctx context.Context) bool {
	now := time.Now()
	w.reportGauges(now)

	// Step 1: recovery-mode one-shot transition.
	isInRecovery := w.rl.IsInRecovery(now)
	if w.wasInRecovery && !isInRecovery {
		w.rl.EndRecoveryPeriod()
		w.rs.ClearRecoveryPeriod()
		w.log.Info("rate limiter ramp complete, recovery period ended")
	}
	w.wasInRecovery = isInRecovery

	// Step 2: CB gate.
	if w.cb.State() == breaker.StateOpen {
		if due, release := w.rs.ShouldCheck(w.cb.State(), now); due {
			result := w.healthChecker.Check(ctx)
			w.rs.RecordCheck(result.Healthy, time.Duration(result.LatencyMS*float64(time.Millisecond)), time.Now(), w.cb)
			release()
		}
		return sleepChunked(ctx, w.cfg.IdleSleep)
	}

	// Step 3: RL gate.
	if wait := w.rl.ShouldWait(now); wait > 0 {
		return sleepChunked(ctx, time.Duration(wait*float64(time.Second)))
	}

	// Step 4: pull job.
	claimed, err := w.pq.GetPending(ctx, w.cfg.PullTimeout)
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, queue.ErrNoPendingJob) {
		return true
	}
	if err != nil {
		w.log.Error("failed to pull pending job", "error", err)
		return true
	}

	if !w.cb.Allow() {
		// Lost the HALF_OPEN single-admission race between the gate
		// check and the claim; return the job untouched.
		_ = w.pq.Nack(claimed.ID)
		return true
	}

	// Step 5: dispatch.
	dispatchErr := w.dispatch(ctx, claimed)

	// Step 6: record outcome.
	w.recordOutcome(claimed, dispatchErr, time.Now())
	return true
}

// reportGauges refreshes the point-in-time Prometheus gauges once per
// iteration; it never fails the loop on a read error, only logs it.
func (w *Worker) reportGauges(now time.Time) {
	if size, err := w.pq.Size(); err == nil {
		metrics.QueueDepth.Set(float64(size))
	}
	if count, err := w.dlq.Count(); err == nil {
		metrics.DLQDepth.Set(float64(count))
	}
	metrics.RateLimiterCurrentRate.Set(w.rl.CurrentRate(now))
}

func (w *Worker) dispatch(ctx context.Context, claimed *queue.ClaimedJob) error {
	ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{TraceID: claimed.Job.CorrelationID})

	var payload syncclient.ScenePayload
	if len(claimed.Job.Payload) > 0 {
		if err := json.Unmarshal(claimed.Job.Payload, &payload); err != nil {
			return err
		}
	}
	if payload == nil {
		payload = syncclient.ScenePayload{}
	}
	payload["scene_id"] = claimed.Job.SceneID
	payload["update_type"] = string(claimed.Job.UpdateType)
	return w.client.Sync(ctx, payload)
}

func (w *Worker) recordOutcome(claimed *queue.ClaimedJob, dispatchErr error, now time.Time) {
	if dispatchErr == nil {
		w.recordSuccess(claimed, now)
		return
	}
	w.recordFailure(claimed, dispatchErr, now)
}

func (w *Worker) recordSuccess(claimed *queue.ClaimedJob, now time.Time) {
	if err := w.pq.Ack(claimed.ID); err != nil {
		w.log.Error("failed to ack job", "job_id", claimed.ID, "error", err)
	}
	w.rl.RecordResult(true, now)
	metrics.RecordJobOutcome("success")

	transitioned, newState := w.cb.RecordSuccess()
	metrics.CircuitBreakerState.Set(metrics.CircuitBreakerStateValue(string(newState)))
	if transitioned && newState == breaker.StateClosed {
		w.rl.StartRecoveryPeriod(now)
		jobsAffected := w.jobsAffectedSinceLastOutage(now)
		w.oh.RecordEnd(now, jobsAffected)
		w.log.Info("circuit breaker closed, recovery ramp started", "jobs_affected", jobsAffected)
	}
}

func (w *Worker) recordFailure(claimed *queue.ClaimedJob, dispatchErr error, now time.Time) {
	kind := w.classifier.Kind(dispatchErr)

	if kind.Resolved() {
		payload, _ := json.Marshal(claimed.Job)
		if _, err := w.dlq.Add(claimed.Job.SceneID, kind.ErrorKind, dispatchErr.Error(), "", claimed.RetryCount, payload); err != nil {
			w.log.Error("failed to write dead-letter entry", "job_id", claimed.ID, "error", err)
		}
		if err := w.pq.Ack(claimed.ID); err != nil {
			w.log.Error("failed to ack permanently-failed job", "job_id", claimed.ID, "error", err)
		}
		metrics.RecordJobOutcome("permanent_failure")
		return
	}

	delay := backoff.Calculate(claimed.RetryCount, w.cfg.RetryBase, w.cfg.RetryCap, nil)
	if err := w.pq.NackAfter(claimed.ID, delay); err != nil {
		w.log.Error("failed to nack job", "job_id", claimed.ID, "error", err)
	}
	w.rl.RecordResult(false, now)
	metrics.RecordJobOutcome("retried")

	transitioned, newState := w.cb.RecordFailure(kind.ErrorKind)
	metrics.CircuitBreakerState.Set(metrics.CircuitBreakerStateValue(string(newState)))
	if transitioned && newState == breaker.StateOpen {
		w.oh.RecordStart(now)
		metrics.OutagesTotal.Inc()
		w.log.Info("circuit breaker opened", "kind", kind.ErrorKind)
	}
}

// jobsAffectedSinceLastOutage counts DLQ entries written during the
// still-open outage record's window: DLQ entries whose failed_at lies
// in [started_at,
// ended_at]".
func (w *Worker) jobsAffectedSinceLastOutage(now time.Time) int {
	history := w.oh.History()
	if len(history) == 0 {
		return 0
	}
	last := history[len(history)-1]
	if last.EndedAt != nil {
		return 0
	}
	count, err := w.dlq.CountInWindow(last.StartedAt, now)
	if err != nil {
		w.log.Error("failed to count dlq entries in outage window", "error", err)
		return 0
	}
	return count
}

// sleepChunked sleeps for d in slices no larger than maxShutdownSlice,
// returning false as soon as ctx is cancelled so shutdown latency never
// exceeds one slice.
func sleepChunked(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		slice := d
		if slice > maxShutdownSlice {
			slice = maxShutdownSlice
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(slice):
			d -= slice
		}
	}
	return true
}
