// Package dlqrecovery implements the three-gate idempotent pipeline
// that re-queues eligible dead-letter entries from a given time window:
// health, then dedup against the active queue, then existence against
// the upstream scene lookup.
package dlqrecovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yungbote/syncqueue/internal/dlq"
	"github.com/yungbote/syncqueue/internal/health"
	"github.com/yungbote/syncqueue/internal/job"
	"github.com/yungbote/syncqueue/internal/metrics"
	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/queue"
	"github.com/yungbote/syncqueue/internal/syncclient"
)

// DefaultAllowList is the safe default set of error types eligible for
// recovery. KindAuth, KindPermanentData are hard-denied
// and must never appear in a caller-supplied allow list.
var DefaultAllowList = []syncclient.ErrorKind{syncclient.KindDownstreamDown}

// hardDenied can never be recovered regardless of caller input.
var hardDenied = map[syncclient.ErrorKind]bool{
	syncclient.KindAuth:          true,
	syncclient.KindPermanentData: true,
}

// Result is the outcome of one recover_outage_jobs run.
type Result struct {
	Recovered              int
	SkippedAlreadyQueued   int
	SkippedDownstreamDown  int
	SkippedSceneMissing    int
	Failed                 int
	RecoveredSceneIDs      []string
}

// Pipeline is the DLQ recovery pipeline.
type Pipeline struct {
	dlq         *dlq.Store
	pq          *queue.PQ
	healthCheck *health.Checker
	sceneLookup syncclient.SceneLookup
	log         *logger.Logger
}

// New constructs a Pipeline from its collaborators.
func New(dlqStore *dlq.Store, pq *queue.PQ, healthCheck *health.Checker, sceneLookup syncclient.SceneLookup, log *logger.Logger) *Pipeline {
	return &Pipeline{dlq: dlqStore, pq: pq, healthCheck: healthCheck, sceneLookup: sceneLookup, log: log.With("component", "dlq-recovery")}
}

// RecoverOutageJobs runs the three-gate algorithm over DLQ entries whose
// failed_at falls in [start, end] and whose error_type is in
// allowList (falling back to DefaultAllowList when empty). Hard-denied
// kinds are stripped from the allow list regardless of caller input.
func (p *Pipeline) RecoverOutageJobs(ctx context.Context, start, end time.Time, allowList []syncclient.ErrorKind) (Result, error) {
	var result Result

	effectiveAllowList := sanitizeAllowList(allowList)

	// Gate 1: health.
	healthResult := p.healthCheck.Check(ctx)
	if !healthResult.Healthy {
		count, err := p.dlq.CountInWindow(start, end)
		if err != nil {
			return result, err
		}
		result.SkippedDownstreamDown = count
		p.log.Info("dlq recovery skipped: downstream unhealthy", "skipped", count)
		return result, nil
	}

	entries, err := p.dlq.EntriesInWindow(start, end, effectiveAllowList)
	if err != nil {
		return result, err
	}

	// Gate 2 setup: dedup against the currently active queue, updated in
	// place after each successful enqueue so duplicates within this same
	// batch are also caught.
	alreadyQueued, err := p.pq.QueuedSceneIDs()
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if _, ok := alreadyQueued[entry.SceneID]; ok {
			result.SkippedAlreadyQueued++
			continue
		}

		// Gate 3: existence.
		exists, err := p.sceneLookup.FindScene(ctx, entry.SceneID)
		if err != nil {
			result.Failed++
			p.log.Error("scene lookup failed during dlq recovery", "scene_id", entry.SceneID, "error", err)
			continue
		}
		if !exists {
			result.SkippedSceneMissing++
			continue
		}

		j, err := jobFromEntry(entry)
		if err != nil {
			result.Failed++
			p.log.Error("failed to decode dlq entry payload", "scene_id", entry.SceneID, "error", err)
			continue
		}

		if _, err := p.pq.Enqueue(j); err != nil {
			result.Failed++
			p.log.Error("failed to re-enqueue recovered job", "scene_id", entry.SceneID, "error", err)
			continue
		}

		alreadyQueued[entry.SceneID] = struct{}{}
		result.Recovered++
		result.RecoveredSceneIDs = append(result.RecoveredSceneIDs, entry.SceneID)
		metrics.DLQRecoveredTotal.Inc()
	}

	return result, nil
}

// jobFromEntry reconstructs the original job envelope from a dead-letter
// entry's stored payload, refreshing EnqueuedAt so it re-enters the
// queue's FIFO ordering as a new arrival rather than with its original
// (now stale) timestamp.
func jobFromEntry(entry dlq.Entry) (job.Job, error) {
	var j job.Job
	if len(entry.OriginalJobPayload) > 0 {
		if err := json.Unmarshal(entry.OriginalJobPayload, &j); err != nil {
			return job.Job{}, err
		}
	} else {
		j.SceneID = entry.SceneID
	}
	j.EnqueuedAt = time.Now()
	return j, nil
}

// sanitizeAllowList falls back to DefaultAllowList when allowList is
// empty, and unconditionally strips hard-denied kinds.
func sanitizeAllowList(allowList []syncclient.ErrorKind) []syncclient.ErrorKind {
	if len(allowList) == 0 {
		allowList = DefaultAllowList
	}
	out := make([]syncclient.ErrorKind, 0, len(allowList))
	for _, k := range allowList {
		if !hardDenied[k] {
			out = append(out, k)
		}
	}
	return out
}
