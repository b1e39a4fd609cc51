//go:build e2e

package e2e_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lnmt-project/lnmt/internal/testutil"
	"github.com/lnmt-project/lnmt/pkg/model"
)

func TestHealthProbeAndSelfHealOverAPI(t *testing.T) {
	d := testutil.StartDaemon(t)
	c := d.Client(t)

	// Recovery target the monitor dispatches through the scheduler.
	var recovered atomic.Int64
	err := d.Funcs.RegisterFunc("e2e.recover", func(ctx context.Context, args []string, kwargs map[string]string) (string, error) {
		recovered.Add(1)
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("registering recovery target: %v", err)
	}
	job := &model.Job{ID: "recover-svc", Target: "e2e.recover", Schedule: "0 * * * *", TimeoutS: 5, Enabled: true}
	if err := c.RegisterJob(job); err != nil {
		t.Fatalf("registering recovery job: %v", err)
	}

	// A port probe against a closed port fails every interval.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	target := l.Addr().String()
	l.Close()

	probe := &model.HealthProbe{
		ID:               "svc",
		Kind:             model.ProbePort,
		Target:           target,
		IntervalS:        1,
		FailureThreshold: 1,
		RecoveryAction:   "recover-svc",
	}
	if err := c.AddProbe(probe); err != nil {
		t.Fatalf("adding probe: %v", err)
	}

	testutil.WaitFor(t, 10*time.Second, "self-heal dispatch", func() bool {
		return recovered.Load() >= 1
	})

	entries, err := c.HealLog(10)
	if err != nil {
		t.Fatalf("heal log: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("want self-heal log entries after dispatch")
	}
	if entries[0].Module != "svc" || entries[0].Action != "recover-svc" {
		t.Errorf("heal entry = %s/%s, want svc/recover-svc", entries[0].Module, entries[0].Action)
	}

	samples, err := c.ProbeSamples("svc", 10)
	if err != nil {
		t.Fatalf("probe samples: %v", err)
	}
	if len(samples) == 0 {
		t.Fatal("want stored samples for the probe")
	}
	if samples[0].Status != model.HealthFail {
		t.Errorf("latest sample = %s, want %s", samples[0].Status, model.HealthFail)
	}

	rep, err := c.Health()
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if rep.Overall != model.HealthFail {
		t.Errorf("overall = %s, want %s", rep.Overall, model.HealthFail)
	}

	// Reset clears the failure streak and the escalation latch.
	if err := c.ResetProbe("svc"); err != nil {
		t.Fatalf("resetting probe: %v", err)
	}
	if err := c.RemoveProbe("svc"); err != nil {
		t.Fatalf("removing probe: %v", err)
	}
}
