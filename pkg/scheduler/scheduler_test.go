package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// base sits mid-minute so stepping the clock by a few seconds never
// crosses a tick boundary by accident.
var base = time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

func newTestSched(t *testing.T, workers int) (*Scheduler, *store.Store, *clocktesting.FakeClock, *FuncRegistry) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clk := clocktesting.NewFakeClock(base)
	funcs := NewFuncRegistry()
	s := New(st, funcs, workers, time.UTC, clk)
	return s, st, clk, funcs
}

func noop(ctx context.Context, args []string, kwargs map[string]string) (string, error) {
	return "ok", nil
}

func testJob(id, target, schedule string) *model.Job {
	return &model.Job{
		ID:          id,
		Name:        id,
		Target:      target,
		Schedule:    schedule,
		Priority:    model.PriorityNormal,
		MaxRetries:  0,
		RetryDelayS: 10,
		TimeoutS:    60,
		Enabled:     true,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegister_Validation(t *testing.T) {
	s, _, _, funcs := newTestSched(t, 1)
	if err := funcs.RegisterFunc("task.noop", noop); err != nil {
		t.Fatalf("RegisterFunc() failed: %v", err)
	}

	cases := []struct {
		name string
		job  *model.Job
		want error
	}{
		{"bad cron", testJob("j1", "task.noop", "not a schedule"), util.ErrInvalidInput},
		{"unknown target", testJob("j2", "task.missing", "* * * * *"), util.ErrInvalidInput},
		{"main target", testJob("j3", "__main__", "* * * * *"), util.ErrInvalidInput},
		{"main dotted target", testJob("j4", "__main__.cleanup", "* * * * *"), util.ErrInvalidInput},
		{"unknown dependency", func() *model.Job {
			j := testJob("j5", "task.noop", "* * * * *")
			j.Dependencies = []string{"nope"}
			return j
		}(), util.ErrInvalidInput},
		{"self dependency", func() *model.Job {
			j := testJob("j6", "task.noop", "* * * * *")
			j.Dependencies = []string{"j6"}
			return j
		}(), util.ErrInvalidInput},
	}
	for _, tc := range cases {
		if err := s.Register(tc.job, "tester"); !errors.Is(err, tc.want) {
			t.Errorf("%s: Register() = %v, want %v", tc.name, err, tc.want)
		}
	}

	good := testJob("good", "task.noop", "*/5 * * * *")
	if err := s.Register(good, "tester"); err != nil {
		t.Fatalf("Register(good) failed: %v", err)
	}
	if err := s.Register(good, "tester"); !errors.Is(err, util.ErrAlreadyExists) {
		t.Errorf("duplicate Register() = %v, want ErrAlreadyExists", err)
	}
}

func TestRegister_CycleDetection(t *testing.T) {
	s, _, _, funcs := newTestSched(t, 1)
	_ = funcs.RegisterFunc("task.noop", noop)

	a := testJob("a", "task.noop", "* * * * *")
	b := testJob("b", "task.noop", "* * * * *")
	b.Dependencies = []string{"a"}
	c := testJob("c", "task.noop", "* * * * *")
	c.Dependencies = []string{"b"}
	for _, j := range []*model.Job{a, b, c} {
		if err := s.Register(j, "tester"); err != nil {
			t.Fatalf("Register(%s) failed: %v", j.ID, err)
		}
	}

	// Closing the chain a -> b -> c -> a must be rejected.
	a.Dependencies = []string{"c"}
	err := s.Update(a, "tester")
	if !errors.Is(err, util.ErrInvalidInput) {
		t.Fatalf("Update(cycle) = %v, want ErrInvalidInput", err)
	}
	if util.Code(err) != "cycle_detected" {
		t.Errorf("Update(cycle) code = %q, want cycle_detected", util.Code(err))
	}
}

func TestTick_PriorityAndSaturation(t *testing.T) {
	s, st, clk, funcs := newTestSched(t, 1)
	gate := make(chan struct{})
	_ = funcs.RegisterFunc("task.block", func(ctx context.Context, _ []string, _ map[string]string) (string, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return "done", nil
	})
	_ = funcs.RegisterFunc("task.noop", noop)

	urgent := testJob("ingest", "task.block", "* * * * *")
	urgent.Priority = model.PriorityCritical
	cleanup := testJob("cleanup", "task.noop", "* * * * *")
	cleanup.Priority = model.PriorityLow
	if err := s.Register(urgent, "tester"); err != nil {
		t.Fatalf("Register(ingest) failed: %v", err)
	}
	if err := s.Register(cleanup, "tester"); err != nil {
		t.Fatalf("Register(cleanup) failed: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer func() {
		close(gate)
		s.Stop(time.Second)
	}()

	// One worker: the critical job takes the slot, the low one is
	// skipped until the next tick rather than queued.
	res := s.Tick(clk.Now())
	if res.Matched != 2 || res.Dispatched != 1 || res.Skipped != 1 {
		t.Fatalf("Tick() = %+v, want matched 2, dispatched 1, skipped 1", res)
	}

	waitFor(t, "critical run to claim", func() bool {
		run, _ := st.RunningRun("ingest")
		return run != nil
	})
	if runs, _ := st.RunHistory("cleanup", 5); len(runs) != 0 {
		t.Errorf("cleanup ran despite saturation: %d runs", len(runs))
	}
}

func TestRetry_BackoffAndHistory(t *testing.T) {
	s, st, clk, funcs := newTestSched(t, 1)
	var mu sync.Mutex
	attempts := 0
	_ = funcs.RegisterFunc("task.flaky", func(ctx context.Context, _ []string, _ map[string]string) (string, error) {
		mu.Lock()
		n := attempts
		attempts++
		mu.Unlock()
		if n < 2 {
			return "", fmt.Errorf("boom %d", n)
		}
		return "recovered", nil
	})

	job := testJob("flaky", "task.flaky", "0 3 * * *")
	job.MaxRetries = 2
	job.RetryDelayS = 10
	if err := s.Register(job, "tester"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	// Manual start; the scheduler loop stays parked so the fake clock
	// only ever carries the retry timers.
	if _, err := s.RunNow("flaky", "tester"); err != nil {
		t.Fatalf("RunNow() failed: %v", err)
	}

	waitFor(t, "first retry timer", clk.HasWaiters)
	clk.Step(10 * time.Second)

	waitFor(t, "second attempt to fail", func() bool {
		runs, _ := st.RunHistory("flaky", 10)
		return len(runs) == 2 && runs[0].Status == model.RunRetrying
	})
	waitFor(t, "second retry timer", clk.HasWaiters)
	clk.Step(20 * time.Second)

	waitFor(t, "final attempt to complete", func() bool {
		runs, _ := st.RunHistory("flaky", 10)
		return len(runs) == 3 && runs[0].Status.Terminal()
	})

	runs, err := st.RunHistory("flaky", 10)
	if err != nil {
		t.Fatalf("RunHistory() failed: %v", err)
	}
	// Newest first: COMPLETED, FAILED, FAILED with one row per attempt.
	wantStatus := []model.RunStatus{model.RunCompleted, model.RunFailed, model.RunFailed}
	wantRetry := []int{2, 1, 0}
	for i, run := range runs {
		if run.Status != wantStatus[i] {
			t.Errorf("runs[%d].Status = %s, want %s", i, run.Status, wantStatus[i])
		}
		if run.RetryCount != wantRetry[i] {
			t.Errorf("runs[%d].RetryCount = %d, want %d", i, run.RetryCount, wantRetry[i])
		}
	}
	if runs[0].Output != "recovered" {
		t.Errorf("final output = %q, want recovered", runs[0].Output)
	}

	// Backoff doubles: 10s before attempt 2, 20s before attempt 3.
	if d := runs[1].StartedAt.Sub(runs[2].StartedAt); d != 10*time.Second {
		t.Errorf("first backoff = %s, want 10s", d)
	}
	if d := runs[0].StartedAt.Sub(runs[1].StartedAt); d != 20*time.Second {
		t.Errorf("second backoff = %s, want 20s", d)
	}
}

func TestTick_DependencyGate(t *testing.T) {
	s, st, clk, funcs := newTestSched(t, 2)
	_ = funcs.RegisterFunc("task.noop", noop)

	backup := testJob("nightly-backup", "task.noop", "0 2 * * *")
	report := testJob("usage-report", "task.noop", "*/5 * * * *")
	report.Dependencies = []string{"nightly-backup"}
	if err := s.Register(backup, "tester"); err != nil {
		t.Fatalf("Register(backup) failed: %v", err)
	}
	if err := s.Register(report, "tester"); err != nil {
		t.Fatalf("Register(report) failed: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.Stop(time.Second)

	// The report's tick fires but its dependency has never completed.
	tick1 := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	res := s.Tick(tick1)
	if res.Deferred != 1 || res.Dispatched != 0 {
		t.Fatalf("Tick() = %+v, want deferred 1, dispatched 0", res)
	}
	if runs, _ := st.RunHistory("usage-report", 5); len(runs) != 0 {
		t.Fatalf("report ran with unmet dependency")
	}

	run, err := s.RunNow("nightly-backup", "tester")
	if err != nil {
		t.Fatalf("RunNow(backup) failed: %v", err)
	}
	waitFor(t, "backup to complete", func() bool {
		r, _ := st.GetRun(run.RunID)
		return r.Status == model.RunCompleted
	})

	// Next tick dispatches the waiter even though 12:06 is not a
	// */5 match of its own.
	tick2 := time.Date(2025, 6, 1, 12, 6, 0, 0, time.UTC)
	clk.SetTime(tick2)
	res = s.Tick(tick2)
	if res.Dispatched != 1 {
		t.Fatalf("Tick() after dependency = %+v, want dispatched 1", res)
	}
	waitFor(t, "report to complete", func() bool {
		runs, _ := st.RunHistory("usage-report", 5)
		return len(runs) == 1 && runs[0].Status == model.RunCompleted
	})
	runs, _ := st.RunHistory("usage-report", 5)
	if runs[0].Trigger != model.TriggerDependency {
		t.Errorf("report trigger = %s, want dependency", runs[0].Trigger)
	}
}

func TestTick_OverlapSkipsRun(t *testing.T) {
	s, st, clk, funcs := newTestSched(t, 2)
	gate := make(chan struct{})
	_ = funcs.RegisterFunc("task.block", func(ctx context.Context, _ []string, _ map[string]string) (string, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return "", nil
	})

	job := testJob("slow", "task.block", "* * * * *")
	if err := s.Register(job, "tester"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer func() {
		close(gate)
		s.Stop(time.Second)
	}()

	s.Tick(clk.Now())
	waitFor(t, "run to claim", func() bool {
		run, _ := st.RunningRun("slow")
		return run != nil
	})

	res := s.Tick(clk.Now().Add(time.Minute))
	if res.Overlapped != 1 || res.Dispatched != 0 {
		t.Errorf("overlapping Tick() = %+v, want overlapped 1, dispatched 0", res)
	}
	if n, _ := st.RunningCount(); n != 1 {
		t.Errorf("RunningCount() = %d, want 1", n)
	}
}

func TestRunNow_Guards(t *testing.T) {
	s, st, _, funcs := newTestSched(t, 1)
	gate := make(chan struct{})
	released := false
	defer func() {
		if !released {
			close(gate)
		}
	}()
	_ = funcs.RegisterFunc("task.block", func(ctx context.Context, _ []string, _ map[string]string) (string, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return "", nil
	})
	_ = funcs.RegisterFunc("task.noop", noop)

	blocked := testJob("blocked", "task.noop", "* * * * *")
	blocked.Dependencies = []string{"parent"}
	parent := testJob("parent", "task.block", "* * * * *")
	if err := s.Register(parent, "tester"); err != nil {
		t.Fatalf("Register(parent) failed: %v", err)
	}
	if err := s.Register(blocked, "tester"); err != nil {
		t.Fatalf("Register(blocked) failed: %v", err)
	}

	if _, err := s.RunNow("blocked", "tester"); !errors.Is(err, util.ErrPolicyViolation) {
		t.Errorf("RunNow(unmet dependency) = %v, want policy violation", err)
	}

	if _, err := s.RunNow("parent", "tester"); err != nil {
		t.Fatalf("RunNow(parent) failed: %v", err)
	}
	waitFor(t, "parent to claim", func() bool {
		run, _ := st.RunningRun("parent")
		return run != nil
	})
	if _, err := s.RunNow("parent", "tester"); !errors.Is(err, util.ErrAlreadyExists) {
		t.Errorf("concurrent RunNow() = %v, want ErrAlreadyExists", err)
	}

	if err := s.SetEnabled("parent", false, "tester"); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	if _, err := s.RunNow("parent", "tester"); !errors.Is(err, util.ErrPolicyViolation) {
		t.Errorf("RunNow(disabled) = %v, want policy violation", err)
	}

	// Drain the in-flight run before the store closes.
	released = true
	close(gate)
	waitFor(t, "parent to finish", func() bool {
		run, _ := st.RunningRun("parent")
		return run == nil
	})
}

func TestUnregister_Guards(t *testing.T) {
	s, _, _, funcs := newTestSched(t, 1)
	_ = funcs.RegisterFunc("task.noop", noop)

	parent := testJob("parent", "task.noop", "* * * * *")
	child := testJob("child", "task.noop", "* * * * *")
	child.Dependencies = []string{"parent"}
	if err := s.Register(parent, "tester"); err != nil {
		t.Fatalf("Register(parent) failed: %v", err)
	}
	if err := s.Register(child, "tester"); err != nil {
		t.Fatalf("Register(child) failed: %v", err)
	}

	if err := s.Unregister("parent", "tester"); !errors.Is(err, util.ErrAlreadyExists) {
		t.Errorf("Unregister(depended-on) = %v, want conflict", err)
	}
	if err := s.Unregister("child", "tester"); err != nil {
		t.Fatalf("Unregister(child) failed: %v", err)
	}
	if err := s.Unregister("parent", "tester"); err != nil {
		t.Fatalf("Unregister(parent) failed: %v", err)
	}
	if err := s.Unregister("parent", "tester"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Unregister(missing) = %v, want ErrNotFound", err)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	s, _, _, funcs := newTestSched(t, 1)
	_ = funcs.RegisterFunc("task.noop", noop)

	a := testJob("alpha", "task.noop", "0 2 * * *")
	a.Priority = model.PriorityHigh
	a.MaxRetries = 3
	a.Kwargs = map[string]string{"depth": "7"}
	b := testJob("beta", "task.noop", "*/10 * * * *")
	b.Dependencies = []string{"alpha"}
	for _, j := range []*model.Job{a, b} {
		if err := s.Register(j, "tester"); err != nil {
			t.Fatalf("Register(%s) failed: %v", j.ID, err)
		}
	}

	data, err := s.Export()
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	s2, _, _, funcs2 := newTestSched(t, 1)
	_ = funcs2.RegisterFunc("task.noop", noop)
	n, err := s2.Import(data, "tester")
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Import() = %d jobs, want 2", n)
	}

	got, err := s2.Job("alpha")
	if err != nil {
		t.Fatalf("Job(alpha) failed: %v", err)
	}
	if got.Priority != model.PriorityHigh || got.MaxRetries != 3 || got.Kwargs["depth"] != "7" {
		t.Errorf("imported alpha lost fields: %+v", got)
	}
	got, err = s2.Job("beta")
	if err != nil {
		t.Fatalf("Job(beta) failed: %v", err)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "alpha" {
		t.Errorf("imported beta dependencies = %v, want [alpha]", got.Dependencies)
	}
}

func TestImport_RejectsBadBatch(t *testing.T) {
	s, _, _, funcs := newTestSched(t, 1)
	_ = funcs.RegisterFunc("task.noop", noop)

	cyclic := `jobs:
  - id: x
    name: x
    target: task.noop
    schedule: "* * * * *"
    timeout_s: 60
    enabled: true
    dependencies: [y]
  - id: y
    name: y
    target: task.noop
    schedule: "* * * * *"
    timeout_s: 60
    enabled: true
    dependencies: [x]
`
	if _, err := s.Import([]byte(cyclic), "tester"); util.Code(err) != "cycle_detected" {
		t.Errorf("Import(cycle) code = %q, want cycle_detected", util.Code(err))
	}
	if jobs, _ := s.Jobs(); len(jobs) != 0 {
		t.Errorf("rejected import wrote %d jobs, want 0", len(jobs))
	}
}

func TestSchedStatus(t *testing.T) {
	s, _, _, funcs := newTestSched(t, 3)
	_ = funcs.RegisterFunc("task.noop", noop)

	job := testJob("hourly", "task.noop", "0 * * * *")
	if err := s.Register(job, "tester"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.Stop(time.Second)

	st, err := s.SchedStatus()
	if err != nil {
		t.Fatalf("SchedStatus() failed: %v", err)
	}
	if !st.Running || st.Workers != 3 || st.Jobs != 1 {
		t.Errorf("SchedStatus() = %+v, want running with 3 workers and 1 job", st)
	}
	wantNext := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	if !st.NextTick.Equal(wantNext) {
		t.Errorf("NextTick = %s, want %s", st.NextTick, wantNext)
	}
}

func TestCronSpec_Matching(t *testing.T) {
	spec, err := parseCron("*/15 2 * * *", time.UTC)
	if err != nil {
		t.Fatalf("parseCron() failed: %v", err)
	}
	hit := time.Date(2025, 6, 1, 2, 45, 30, 0, time.UTC)
	if !spec.Matches(hit) {
		t.Errorf("Matches(%s) = false, want true", hit)
	}
	miss := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	if spec.Matches(miss) {
		t.Errorf("Matches(%s) = true, want false", miss)
	}
	if prev := spec.Prev(hit); !prev.Equal(time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC)) {
		t.Errorf("Prev(%s) = %s, want 02:30", hit, prev)
	}
}
