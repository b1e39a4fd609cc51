//go:build e2e

package e2e_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lnmt-project/lnmt/internal/testutil"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

func TestSchedulerLifecycleOverAPI(t *testing.T) {
	d := testutil.StartDaemon(t)

	var ran atomic.Int64
	err := d.Funcs.RegisterFunc("e2e.echo", func(ctx context.Context, args []string, kwargs map[string]string) (string, error) {
		ran.Add(1)
		return "echo", nil
	})
	if err != nil {
		t.Fatalf("registering target: %v", err)
	}

	c := d.Client(t)
	job := &model.Job{
		ID:       "e2e-echo",
		Name:     "echo job",
		Target:   "e2e.echo",
		Schedule: "*/5 * * * *",
		TimeoutS: 10,
		Enabled:  true,
	}
	if err := c.RegisterJob(job); err != nil {
		t.Fatalf("registering job: %v", err)
	}

	run, err := c.RunJob("e2e-echo")
	if err != nil {
		t.Fatalf("running job: %v", err)
	}
	if run.Trigger != model.TriggerManual {
		t.Errorf("run trigger = %s, want %s", run.Trigger, model.TriggerManual)
	}

	testutil.WaitFor(t, 5*time.Second, "manual run to complete", func() bool {
		hist, err := c.History("e2e-echo", 1)
		return err == nil && len(hist) == 1 && hist[0].Status == model.RunCompleted
	})
	if got := ran.Load(); got != 1 {
		t.Errorf("target ran %d times, want 1", got)
	}

	// Disabled jobs refuse manual runs.
	if err := c.SetJobEnabled("e2e-echo", false); err != nil {
		t.Fatalf("disabling job: %v", err)
	}
	if _, err := c.RunJob("e2e-echo"); !errors.Is(err, util.ErrAlreadyExists) && !errors.Is(err, util.ErrPolicyViolation) {
		// The API maps policy violations to 409.
		t.Errorf("run of disabled job: err = %v, want policy violation", err)
	}

	if err := c.RemoveJob("e2e-echo"); err != nil {
		t.Fatalf("removing job: %v", err)
	}
	if _, err := c.Job("e2e-echo"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("get after remove: err = %v, want not found", err)
	}
}

func TestSchedulerExportImportRoundTrip(t *testing.T) {
	d := testutil.StartDaemon(t)

	err := d.Funcs.RegisterFunc("e2e.noop", func(ctx context.Context, args []string, kwargs map[string]string) (string, error) {
		return "", nil
	})
	if err != nil {
		t.Fatalf("registering target: %v", err)
	}

	c := d.Client(t)
	for _, id := range []string{"exp-a", "exp-b"} {
		job := &model.Job{ID: id, Target: "e2e.noop", Schedule: "0 * * * *", TimeoutS: 5, Enabled: true}
		if err := c.RegisterJob(job); err != nil {
			t.Fatalf("registering %s: %v", id, err)
		}
	}

	data, err := c.ExportJobs()
	if err != nil {
		t.Fatalf("exporting jobs: %v", err)
	}

	if err := c.RemoveJob("exp-a"); err != nil {
		t.Fatalf("removing exp-a: %v", err)
	}
	if err := c.RemoveJob("exp-b"); err != nil {
		t.Fatalf("removing exp-b: %v", err)
	}

	n, err := c.ImportJobs(data)
	if err != nil {
		t.Fatalf("importing jobs: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d jobs, want 2", n)
	}
	jobs, err := c.Jobs()
	if err != nil {
		t.Fatalf("listing jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("got %d jobs after import, want 2", len(jobs))
	}
}
