//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/lnmt-project/lnmt/pkg/model"
)

// Needs a reachable Redis; set LNMT_TEST_REDIS_ADDR to run.
func openTestOpTier(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("LNMT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("test Redis not configured: set LNMT_TEST_REDIS_ADDR")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	probe := redis.NewClient(&redis.Options{Addr: addr})
	defer probe.Close()
	if err := probe.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}

	s := openTestStore(t)
	op := NewOpTier(addr, 0, 0)
	t.Cleanup(func() { _ = op.Close() })
	s.AttachOpTier(op)
	return s
}

func finishRun(t *testing.T, s *Store, jobID string, startedAt time.Time) {
	t.Helper()
	run := &model.JobRun{RunID: uuid.NewString(), JobID: jobID, Trigger: model.TriggerSchedule, StartedAt: startedAt}
	if err := s.ClaimRun(run); err != nil {
		t.Fatalf("ClaimRun() failed: %v", err)
	}
	ended := startedAt.Add(time.Second)
	if err := s.TransitionRun(run.RunID, model.RunRunning, model.RunCompleted, &ended, "", "ok"); err != nil {
		t.Fatalf("TransitionRun() failed: %v", err)
	}
}

func TestRunHistory_ShortCacheFallsBackToSQLite(t *testing.T) {
	s := openTestOpTier(t)
	jobID := fmt.Sprintf("short-cache-%s", uuid.NewString())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Three runs land, then the cache key is flushed: SQLite now holds
	// history the tier has lost, as after a Redis restart.
	for i := 0; i < 3; i++ {
		finishRun(t, s, jobID, base.Add(time.Duration(i)*time.Minute))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.op.client.Del(ctx, runKey(jobID)).Err(); err != nil {
		t.Fatalf("flushing cache key: %v", err)
	}

	// Two more runs repopulate the cache, which is now shorter than the
	// history SQLite holds.
	for i := 3; i < 5; i++ {
		finishRun(t, s, jobID, base.Add(time.Duration(i)*time.Minute))
	}

	runs, err := s.RunHistory(jobID, 5)
	if err != nil {
		t.Fatalf("RunHistory() failed: %v", err)
	}
	if len(runs) != 5 {
		t.Fatalf("RunHistory() returned %d runs, want all 5 despite short cache", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.After(runs[i-1].StartedAt) {
			t.Errorf("runs out of order at %d: %s after %s", i, runs[i].StartedAt, runs[i-1].StartedAt)
		}
	}
}

func TestRunHistory_CacheServesWithLiveRunningRun(t *testing.T) {
	s := openTestOpTier(t)
	jobID := fmt.Sprintf("live-run-%s", uuid.NewString())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		finishRun(t, s, jobID, base.Add(time.Duration(i)*time.Minute))
	}
	live := &model.JobRun{RunID: uuid.NewString(), JobID: jobID, Trigger: model.TriggerManual, StartedAt: base.Add(10 * time.Minute)}
	if err := s.ClaimRun(live); err != nil {
		t.Fatalf("ClaimRun(live) failed: %v", err)
	}

	runs, err := s.RunHistory(jobID, 3)
	if err != nil {
		t.Fatalf("RunHistory() failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("RunHistory() returned %d runs, want 3", len(runs))
	}
	if runs[0].RunID != live.RunID || runs[0].Status != model.RunRunning {
		t.Errorf("newest run = %s/%s, want the in-flight run %s/RUNNING",
			runs[0].RunID, runs[0].Status, live.RunID)
	}
}
