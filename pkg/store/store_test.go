package store

import (
	"errors"
	"testing"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if v != migrations[len(migrations)-1].version {
		t.Errorf("SchemaVersion() = %d, want %d", v, migrations[len(migrations)-1].version)
	}

	// Re-applying the chain must be a no-op.
	if err := s.Migrate(); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}
	v2, _ := s.SchemaVersion()
	if v2 != v {
		t.Errorf("SchemaVersion after re-migrate = %d, want %d", v2, v)
	}
}

func TestJobs_CRUD(t *testing.T) {
	s := openTestStore(t)

	job := &model.Job{
		ID:           "backup-config",
		Name:         "Nightly config backup",
		Target:       "store.prune_history",
		Schedule:     "0 2 * * *",
		Priority:     model.PriorityHigh,
		MaxRetries:   2,
		RetryDelayS:  30,
		TimeoutS:     600,
		Dependencies: []string{"poll-devices"},
		Enabled:      true,
		Kwargs:       map[string]string{"days": "30"},
	}
	if err := s.PutJob(job); err != nil {
		t.Fatalf("PutJob() failed: %v", err)
	}

	got, err := s.GetJob("backup-config")
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if got.Name != job.Name || got.Schedule != job.Schedule || got.Priority != model.PriorityHigh {
		t.Errorf("GetJob() mismatch: got %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "poll-devices" {
		t.Errorf("dependencies not round-tripped: %v", got.Dependencies)
	}
	if got.Kwargs["days"] != "30" {
		t.Errorf("kwargs not round-tripped: %v", got.Kwargs)
	}

	if err := s.SetJobEnabled("backup-config", false); err != nil {
		t.Fatalf("SetJobEnabled() failed: %v", err)
	}
	got, _ = s.GetJob("backup-config")
	if got.Enabled {
		t.Error("job should be disabled")
	}

	if err := s.DeleteJob("backup-config"); err != nil {
		t.Fatalf("DeleteJob() failed: %v", err)
	}
	if _, err := s.GetJob("backup-config"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("GetJob after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteJob("backup-config"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("double DeleteJob = %v, want ErrNotFound", err)
	}
}

func TestClaimRun_SingleRunning(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	first := &model.JobRun{RunID: "r1", JobID: "j1", Trigger: model.TriggerSchedule, StartedAt: now}
	if err := s.ClaimRun(first); err != nil {
		t.Fatalf("first ClaimRun() failed: %v", err)
	}

	second := &model.JobRun{RunID: "r2", JobID: "j1", Trigger: model.TriggerManual, StartedAt: now}
	if err := s.ClaimRun(second); !errors.Is(err, util.ErrAlreadyExists) {
		t.Fatalf("second ClaimRun() = %v, want ErrAlreadyExists", err)
	}

	// A different job is unaffected.
	other := &model.JobRun{RunID: "r3", JobID: "j2", Trigger: model.TriggerSchedule, StartedAt: now}
	if err := s.ClaimRun(other); err != nil {
		t.Fatalf("ClaimRun for other job failed: %v", err)
	}

	ended := now.Add(time.Second)
	if err := s.TransitionRun("r1", model.RunRunning, model.RunCompleted, &ended, "", "ok"); err != nil {
		t.Fatalf("TransitionRun() failed: %v", err)
	}

	// After completion the job can be claimed again.
	if err := s.ClaimRun(&model.JobRun{RunID: "r4", JobID: "j1", Trigger: model.TriggerSchedule, StartedAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("ClaimRun after completion failed: %v", err)
	}
}

func TestTransitionRun_Illegal(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	run := &model.JobRun{RunID: "r1", JobID: "j1", Trigger: model.TriggerSchedule, StartedAt: now}
	if err := s.ClaimRun(run); err != nil {
		t.Fatalf("ClaimRun() failed: %v", err)
	}
	ended := now.Add(time.Second)
	if err := s.TransitionRun("r1", model.RunRunning, model.RunCompleted, &ended, "", ""); err != nil {
		t.Fatalf("TransitionRun() failed: %v", err)
	}

	// COMPLETED is terminal; reanimating it is a bug-class failure.
	err := s.TransitionRun("r1", model.RunCompleted, model.RunRunning, nil, "", "")
	if !errors.Is(err, util.ErrInvariant) {
		t.Errorf("illegal transition = %v, want ErrInvariant", err)
	}

	// CAS miss: claiming a transition from a state the row is not in.
	err = s.TransitionRun("r1", model.RunRunning, model.RunFailed, &ended, "", "")
	if !errors.Is(err, util.ErrInvariant) {
		t.Errorf("stale CAS = %v, want ErrInvariant", err)
	}
}

func TestRunHistory_Ordering(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"ra", "rb", "rc"} {
		run := &model.JobRun{RunID: id, JobID: "j1", Trigger: model.TriggerSchedule, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.ClaimRun(run); err != nil {
			t.Fatalf("ClaimRun(%s) failed: %v", id, err)
		}
		ended := run.StartedAt.Add(time.Second)
		if err := s.TransitionRun(id, model.RunRunning, model.RunCompleted, &ended, "", ""); err != nil {
			t.Fatalf("TransitionRun(%s) failed: %v", id, err)
		}
	}

	hist, err := s.RunHistory("j1", 10)
	if err != nil {
		t.Fatalf("RunHistory() failed: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("RunHistory() returned %d runs, want 3", len(hist))
	}
	if hist[0].RunID != "rc" || hist[2].RunID != "ra" {
		t.Errorf("history not newest-first: %s, %s, %s", hist[0].RunID, hist[1].RunID, hist[2].RunID)
	}
	for _, r := range hist {
		if r.EndedAt == nil || r.EndedAt.Before(r.StartedAt) {
			t.Errorf("run %s: ended_at must be >= started_at", r.RunID)
		}
	}
}

func TestReconcileLease_ReservationWins(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	rec := &model.LeaseRecord{
		MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.50", Hostname: "android-1234",
		LeaseExpiry: now.Add(time.Hour), SourceFile: "dhcp.leases", ObservedAt: now,
	}
	created, err := s.ReconcileLease(rec, now)
	if err != nil {
		t.Fatalf("ReconcileLease() failed: %v", err)
	}
	if !created {
		t.Error("first lease should create the device")
	}

	if err := s.SetReservation("aa:bb:cc:dd:ee:01", &model.Reservation{
		HostID: "livingroom-tv", DesiredHostname: "tv", VlanID: 10,
	}); err != nil {
		t.Fatalf("SetReservation() failed: %v", err)
	}

	// Lease drift: hostname changes, IP moves. Reservation must pin
	// hostname and vlan; IP follows the lease.
	later := now.Add(time.Minute)
	rec2 := &model.LeaseRecord{
		MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.55", Hostname: "android-9999",
		LeaseExpiry: later.Add(time.Hour), SourceFile: "dhcp.leases", ObservedAt: later,
	}
	created, err = s.ReconcileLease(rec2, later)
	if err != nil {
		t.Fatalf("second ReconcileLease() failed: %v", err)
	}
	if created {
		t.Error("second lease should update, not create")
	}

	dev, err := s.GetDevice("aa:bb:cc:dd:ee:01")
	if err != nil {
		t.Fatalf("GetDevice() failed: %v", err)
	}
	if dev.Hostname != "tv" {
		t.Errorf("hostname = %q, want reserved %q", dev.Hostname, "tv")
	}
	if dev.VlanID == nil || *dev.VlanID != 10 {
		t.Errorf("vlan_id = %v, want 10", dev.VlanID)
	}
	if dev.IP != "192.168.1.55" {
		t.Errorf("ip = %q, want %q", dev.IP, "192.168.1.55")
	}
	if dev.LastSeen.Before(dev.FirstSeen) {
		t.Error("last_seen must be >= first_seen")
	}

	hist, err := s.LeaseHistory("aa:bb:cc:dd:ee:01", 10)
	if err != nil {
		t.Fatalf("LeaseHistory() failed: %v", err)
	}
	if len(hist) != 2 {
		t.Errorf("LeaseHistory() returned %d rows, want 2", len(hist))
	}
	// Observations keep the lease-reported hostname, not the reserved one.
	if hist[0].Hostname != "android-9999" {
		t.Errorf("latest observation hostname = %q, want %q", hist[0].Hostname, "android-9999")
	}
}

func TestUsageSession_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	sess := &model.UsageSession{
		ID: "us-1", VlanID: 10, MAC: "aa:bb:cc:dd:ee:01",
		IP: "192.168.1.55", Hostname: "tv", StartedAt: now,
	}
	if err := s.OpenUsageSession(sess); err != nil {
		t.Fatalf("OpenUsageSession() failed: %v", err)
	}

	open, err := s.OpenSessionFor("aa:bb:cc:dd:ee:01")
	if err != nil {
		t.Fatalf("OpenSessionFor() failed: %v", err)
	}
	if open == nil || open.ID != "us-1" {
		t.Fatalf("OpenSessionFor() = %+v, want us-1", open)
	}

	if err := s.AddSessionSeconds("us-1", 120); err != nil {
		t.Fatalf("AddSessionSeconds() failed: %v", err)
	}
	if err := s.SetSessionCategory("us-1", "streaming"); err != nil {
		t.Fatalf("SetSessionCategory() failed: %v", err)
	}

	ended := now.Add(5 * time.Minute)
	if err := s.CloseUsageSession("us-1", ended); err != nil {
		t.Fatalf("CloseUsageSession() failed: %v", err)
	}
	if err := s.CloseUsageSession("us-1", ended); !errors.Is(err, util.ErrInvariant) {
		t.Errorf("double close = %v, want ErrInvariant", err)
	}

	hist, err := s.SessionHistory("aa:bb:cc:dd:ee:01", 10)
	if err != nil {
		t.Fatalf("SessionHistory() failed: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("SessionHistory() returned %d rows, want 1", len(hist))
	}
	got := hist[0]
	if got.SecondsUsed != 120 || got.AppCategory != "streaming" {
		t.Errorf("session = %+v", got)
	}
	if got.EndedAt == nil {
		t.Fatal("ended_at should be set")
	}
	if got.SecondsUsed > int64(got.EndedAt.Sub(got.StartedAt).Seconds()) {
		t.Error("seconds_used must not exceed session wall time")
	}
}

func TestVlanThreshold_AuditTrail(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	bad := &model.VlanThreshold{VlanID: 10, ThresholdKbps: 0, TimeWindowSecs: 60, SessionLimitSecs: 3600}
	if err := s.PutVlanThreshold(bad, "alice", now); !errors.Is(err, util.ErrInvalidInput) {
		t.Errorf("invalid threshold = %v, want ErrInvalidInput", err)
	}

	good := &model.VlanThreshold{VlanID: 10, ThresholdKbps: 5000, TimeWindowSecs: 60, SessionLimitSecs: 3600}
	if err := s.PutVlanThreshold(good, "alice", now); err != nil {
		t.Fatalf("PutVlanThreshold() failed: %v", err)
	}

	got, err := s.VlanThreshold(10)
	if err != nil {
		t.Fatalf("VlanThreshold() failed: %v", err)
	}
	if got == nil || got.ThresholdKbps != 5000 {
		t.Errorf("VlanThreshold() = %+v", got)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vlan_thresholds_audit WHERE vlan_id = 10 AND actor = 'alice'`).Scan(&count); err != nil {
		t.Fatalf("querying audit rows: %v", err)
	}
	if count != 1 {
		t.Errorf("threshold audit rows = %d, want 1", count)
	}
}

func TestUsers_LockoutFields(t *testing.T) {
	s := openTestStore(t)

	u := &model.User{Username: "Alice", PasswordVerifier: "v", Role: model.RoleOperator, Enabled: true}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("username not canonicalized: %q", u.Username)
	}

	dup := &model.User{Username: "ALICE", PasswordVerifier: "v", Role: model.RoleViewer, Enabled: true}
	if err := s.CreateUser(dup); !errors.Is(err, util.ErrAlreadyExists) {
		t.Errorf("duplicate user = %v, want ErrAlreadyExists", err)
	}

	until := time.Now().UTC().Add(15 * time.Minute)
	for i := 0; i < 4; i++ {
		if err := s.RecordLoginFailure("alice", nil); err != nil {
			t.Fatalf("RecordLoginFailure() failed: %v", err)
		}
	}
	if err := s.RecordLoginFailure("alice", &until); err != nil {
		t.Fatalf("RecordLoginFailure(lock) failed: %v", err)
	}

	got, _ := s.GetUser("alice")
	if got.FailedAttempts != 5 {
		t.Errorf("failed_attempts = %d, want 5", got.FailedAttempts)
	}
	if got.LockoutUntil == nil {
		t.Fatal("lockout_until should be set")
	}

	if err := s.RecordLoginSuccess("alice", time.Now().UTC()); err != nil {
		t.Fatalf("RecordLoginSuccess() failed: %v", err)
	}
	got, _ = s.GetUser("alice")
	if got.FailedAttempts != 0 || got.LockoutUntil != nil {
		t.Errorf("success should clear lockout: attempts=%d lockout=%v", got.FailedAttempts, got.LockoutUntil)
	}
	if got.LastLogin == nil {
		t.Error("last_login should be stamped")
	}
}

func TestAuthSessions_SingleUseRevoke(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	sess := &model.AuthSession{
		UserID: 1, IssuedAt: now, ExpiresAt: now.Add(30 * time.Minute),
		RefreshAllowedUntil: now.Add(24 * time.Hour),
	}
	if err := s.InsertAuthSession("hash-1", sess); err != nil {
		t.Fatalf("InsertAuthSession() failed: %v", err)
	}

	ok, err := s.RevokeAuthSession("hash-1")
	if err != nil || !ok {
		t.Fatalf("RevokeAuthSession() = %v, %v; want true, nil", ok, err)
	}
	// Second revoke loses the race by design.
	ok, err = s.RevokeAuthSession("hash-1")
	if err != nil {
		t.Fatalf("second RevokeAuthSession() failed: %v", err)
	}
	if ok {
		t.Error("second revoke should report already revoked")
	}

	got, err := s.GetAuthSession("hash-1")
	if err != nil {
		t.Fatalf("GetAuthSession() failed: %v", err)
	}
	if !got.Revoked {
		t.Error("session should be revoked")
	}
}

func TestAudit_Query(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	for i, action := range []string{"login", "login", "logout"} {
		e := &model.AuditEvent{
			At: now.Add(time.Duration(i) * time.Second), Actor: "alice",
			Action: action, Success: true,
		}
		if err := s.AppendAudit(e); err != nil {
			t.Fatalf("AppendAudit() failed: %v", err)
		}
	}

	events, err := s.QueryAudit(AuditFilter{Actor: "alice", Action: "login"})
	if err != nil {
		t.Fatalf("QueryAudit() failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("QueryAudit() returned %d events, want 2", len(events))
	}

	all, _ := s.QueryAudit(AuditFilter{Limit: 2})
	if len(all) != 2 {
		t.Errorf("limit not applied: %d events", len(all))
	}
	if len(all) == 2 && all[0].At.Before(all[1].At) {
		t.Error("audit events should be newest first")
	}
}

func TestPruneRuns(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	recent := time.Now().UTC()

	for _, tc := range []struct {
		id string
		at time.Time
	}{{"old-run", old}, {"new-run", recent}} {
		run := &model.JobRun{RunID: tc.id, JobID: "j-" + tc.id, Trigger: model.TriggerSchedule, StartedAt: tc.at}
		if err := s.ClaimRun(run); err != nil {
			t.Fatalf("ClaimRun(%s) failed: %v", tc.id, err)
		}
		ended := tc.at.Add(time.Second)
		if err := s.TransitionRun(tc.id, model.RunRunning, model.RunCompleted, &ended, "", ""); err != nil {
			t.Fatalf("TransitionRun(%s) failed: %v", tc.id, err)
		}
	}

	n, err := s.PruneRuns(time.Now().UTC().Add(-30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("PruneRuns() removed %d runs, want 1", n)
	}
	if _, err := s.GetRun("new-run"); err != nil {
		t.Errorf("recent run should survive pruning: %v", err)
	}
}
