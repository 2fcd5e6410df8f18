package dlqrecovery

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/yungbote/syncqueue/internal/dlq"
	"github.com/yungbote/syncqueue/internal/health"
	"github.com/yungbote/syncqueue/internal/job"
	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/queue"
	"github.com/yungbote/syncqueue/internal/syncclient"
)

type fakeProber struct{ err error }

func (f fakeProber) Probe(ctx context.Context, timeout time.Duration) error { return f.err }

type fakeSceneLookup struct {
	missing map[string]bool
	errFor  map[string]error
}

func (f fakeSceneLookup) FindScene(ctx context.Context, sceneID string) (bool, error) {
	if err, ok := f.errFor[sceneID]; ok {
		return false, err
	}
	if f.missing[sceneID] {
		return false, nil
	}
	return true, nil
}

func newTestPipeline(t *testing.T, probeErr error, lookup syncclient.SceneLookup) (*Pipeline, *dlq.Store, *queue.PQ) {
	t.Helper()
	dir := t.TempDir()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	dbPath := filepath.Join(dir, "queue.db")
	dlqStore, err := dlq.Open(dbPath)
	if err != nil {
		t.Fatalf("dlq.Open: %v", err)
	}
	t.Cleanup(func() { _ = dlqStore.Close() })

	pq, err := queue.Open(dbPath, log)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { _ = pq.Close() })

	checker := health.New(fakeProber{err: probeErr}, time.Second, log)
	p := New(dlqStore, pq, checker, lookup, log)
	return p, dlqStore, pq
}

// addEntry adds a dead-letter entry whose failed_at is set by Store.Add
// to the current wall-clock time, which is sufficient for these tests'
// generous [-1h, +1h] windows.
func addEntry(t *testing.T, store *dlq.Store, sceneID string, kind syncclient.ErrorKind, _ time.Time) uint64 {
	t.Helper()
	j, err := job.New(sceneID, job.UpdateMetadata, nil)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	payload, _ := json.Marshal(j)
	id, err := store.Add(sceneID, kind, "downstream unavailable", "", 3, payload)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}

func TestUnhealthyDownstreamSkipsAllEntries(t *testing.T) {
	lookup := fakeSceneLookup{}
	p, dlqStore, _ := newTestPipeline(t, context.DeadlineExceeded, lookup)
	now := time.Now()
	addEntry(t, dlqStore, "scene-1", syncclient.KindDownstreamDown, now)
	addEntry(t, dlqStore, "scene-2", syncclient.KindDownstreamDown, now)

	result, err := p.RecoverOutageJobs(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("RecoverOutageJobs: %v", err)
	}
	if result.SkippedDownstreamDown != 2 {
		t.Fatalf("expected 2 skipped_downstream_down, got %d", result.SkippedDownstreamDown)
	}
	if result.Recovered != 0 {
		t.Fatalf("expected no recoveries while unhealthy, got %d", result.Recovered)
	}
}

func TestRecoversEligibleEntries(t *testing.T) {
	lookup := fakeSceneLookup{}
	p, dlqStore, pq := newTestPipeline(t, nil, lookup)
	now := time.Now()
	addEntry(t, dlqStore, "scene-a", syncclient.KindDownstreamDown, now)
	addEntry(t, dlqStore, "scene-b", syncclient.KindDownstreamDown, now)

	result, err := p.RecoverOutageJobs(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("RecoverOutageJobs: %v", err)
	}
	if result.Recovered != 2 {
		t.Fatalf("expected 2 recovered, got %d (%+v)", result.Recovered, result)
	}
	size, _ := pq.Size()
	if size != 2 {
		t.Fatalf("expected both jobs re-enqueued, got queue size=%d", size)
	}
}

func TestIdempotentSecondRunSkipsAlreadyQueued(t *testing.T) {
	lookup := fakeSceneLookup{}
	p, dlqStore, _ := newTestPipeline(t, nil, lookup)
	now := time.Now()
	for i := 0; i < 10; i++ {
		addEntry(t, dlqStore, "scene-"+string(rune('a'+i)), syncclient.KindDownstreamDown, now)
	}

	first, err := p.RecoverOutageJobs(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Recovered != 10 {
		t.Fatalf("expected first run to recover all 10, got %d", first.Recovered)
	}

	second, err := p.RecoverOutageJobs(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Recovered != 0 {
		t.Fatalf("expected second run to recover nothing, got %d", second.Recovered)
	}
	if second.SkippedAlreadyQueued != first.Recovered {
		t.Fatalf("expected skipped_already_queued (%d) to equal first run's recovered count (%d)", second.SkippedAlreadyQueued, first.Recovered)
	}
}

func TestSceneMissingIsSkipped(t *testing.T) {
	lookup := fakeSceneLookup{missing: map[string]bool{"scene-gone": true}}
	p, dlqStore, _ := newTestPipeline(t, nil, lookup)
	now := time.Now()
	addEntry(t, dlqStore, "scene-gone", syncclient.KindDownstreamDown, now)

	result, err := p.RecoverOutageJobs(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("RecoverOutageJobs: %v", err)
	}
	if result.SkippedSceneMissing != 1 {
		t.Fatalf("expected 1 skipped_scene_missing, got %d", result.SkippedSceneMissing)
	}
}

func TestHardDeniedKindsAreStrippedFromAllowList(t *testing.T) {
	lookup := fakeSceneLookup{}
	p, dlqStore, _ := newTestPipeline(t, nil, lookup)
	now := time.Now()
	addEntry(t, dlqStore, "scene-auth", syncclient.KindAuth, now)

	result, err := p.RecoverOutageJobs(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), []syncclient.ErrorKind{syncclient.KindAuth})
	if err != nil {
		t.Fatalf("RecoverOutageJobs: %v", err)
	}
	if result.Recovered != 0 {
		t.Fatalf("expected auth-kind entries never recovered even when explicitly allow-listed, got %d", result.Recovered)
	}
}
