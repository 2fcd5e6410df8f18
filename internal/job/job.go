// Package job defines the unit of work that flows through the queue,
// the dead-letter store, and the sync worker.
package job

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// UpdateType is a closed enum of the kinds of change an upstream event
// can describe. Unknown values are rejected at enqueue time rather than
// silently accepted.
type UpdateType string

const (
	UpdateMetadata      UpdateType = "metadata"
	UpdateCreate        UpdateType = "create"
	UpdateDelete        UpdateType = "delete"
	UpdateRelationships UpdateType = "relationships"
)

// IsValid reports whether u is one of the known update types.
func (u UpdateType) IsValid() bool {
	switch u {
	case UpdateMetadata, UpdateCreate, UpdateDelete, UpdateRelationships:
		return true
	default:
		return false
	}
}

// Job is the envelope produced by the event hook and consumed by the sync
// worker. It is a tagged variant: a fixed set of routing/identity fields
// plus an opaque payload bag for pass-through metadata, avoiding
// reflection-driven decoding on the hot path.
type Job struct {
	SceneID    string          `json:"scene_id"`
	UpdateType UpdateType      `json:"update_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	JobKey     string          `json:"job_key"`
	// CorrelationID threads one job's retries, DLQ entry, and eventual
	// DLQ-recovery re-enqueue through the logs as a single traceable id.
	// It survives DLQ round-tripping because the original envelope
	// (including this field) is what gets persisted as the entry's
	// opaque payload.
	CorrelationID string `json:"correlation_id"`
}

// New constructs a Job, validating update_type and computing job_key.
// Returns an error for unknown update types so bad events never reach
// the queue.
func New(sceneID string, updateType UpdateType, payload json.RawMessage) (Job, error) {
	if sceneID == "" {
		return Job{}, fmt.Errorf("job: scene_id must not be empty")
	}
	if !updateType.IsValid() {
		return Job{}, fmt.Errorf("job: unknown update_type %q", updateType)
	}
	return Job{
		SceneID:       sceneID,
		UpdateType:    updateType,
		Payload:       payload,
		EnqueuedAt:    time.Now(),
		JobKey:        Key(sceneID, updateType),
		CorrelationID: uuid.NewString(),
	}, nil
}

// Key computes the deterministic deduplication hash for a (scene_id,
// update_type) pair. FNV-1a is used because it is allocation-free,
// non-cryptographic, and stable across processes — exactly what an
// in-memory dedup set needs.
func Key(sceneID string, updateType UpdateType) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sceneID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(updateType))
	return fmt.Sprintf("%016x", h.Sum64())
}
