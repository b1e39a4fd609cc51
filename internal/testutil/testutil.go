//go:build integration || e2e

// Package testutil provides shared helpers for integration and e2e
// tests: an in-process daemon harness and fixture writers for the
// lease and traffic inputs the tracker reads.
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lnmt-project/lnmt/pkg/api"
	"github.com/lnmt-project/lnmt/pkg/auth"
	"github.com/lnmt-project/lnmt/pkg/client"
	"github.com/lnmt-project/lnmt/pkg/health"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/scheduler"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/tracker"
)

// AdminUser and AdminPassword are the credentials seeded into every
// harness daemon.
const (
	AdminUser     = "admin"
	AdminPassword = "e2e-admin-password"
)

// Daemon is a fully wired in-process lnmtd: real store (in-memory
// SQLite), scheduler, tracker, health monitor, and HTTP API behind an
// httptest server. Everything is torn down via t.Cleanup.
type Daemon struct {
	Store      *store.Store
	Engine     *auth.Engine
	Funcs      *scheduler.FuncRegistry
	Sched      *scheduler.Scheduler
	Tracker    *tracker.Tracker
	Monitor    *health.Monitor
	Server     *httptest.Server
	LeaseFile  string
	TrafficDir string
}

// StartDaemon assembles and starts the harness. The scheduler and
// monitor are running; the tracker polls only on demand (POST
// /devices/poll) so tests control when ingest happens.
func StartDaemon(t *testing.T) *Daemon {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine := auth.NewEngine(st, auth.DefaultPolicy(), nil)
	if _, err := engine.CreateUser(AdminUser, AdminPassword, "", model.RoleAdmin); err != nil {
		t.Fatalf("seeding admin user: %v", err)
	}

	funcs := scheduler.NewFuncRegistry()
	if err := scheduler.RegisterBuiltins(funcs, st, nil, 7); err != nil {
		t.Fatalf("registering builtins: %v", err)
	}
	sched := scheduler.New(st, funcs, 2, time.UTC, nil)

	dir := t.TempDir()
	leaseFile := filepath.Join(dir, "dnsmasq.leases")
	trafficDir := filepath.Join(dir, "traffic")
	if err := os.MkdirAll(trafficDir, 0755); err != nil {
		t.Fatalf("creating traffic dir: %v", err)
	}
	WriteLeases(t, leaseFile)

	trk := tracker.New(st,
		&tracker.FileLeaseSource{Path: leaseFile},
		&tracker.DirTrafficSource{Dir: trafficDir},
		nil,
		&tracker.StoreDNSLog{Store: st},
		tracker.Config{PollInterval: time.Hour, Detection: model.DefaultDetectionSettings()},
		nil)
	err = trk.RegisterJob(func(name string, fn func(ctx context.Context, args []string, kwargs map[string]string) (string, error)) error {
		return funcs.RegisterFunc(name, fn)
	})
	if err != nil {
		t.Fatalf("registering tracker job: %v", err)
	}

	monitor := health.NewMonitor(st, sched, nil, nil, 0)

	if err := sched.Start(); err != nil {
		t.Fatalf("starting scheduler: %v", err)
	}
	t.Cleanup(func() { sched.Stop(5 * time.Second) })
	if err := monitor.Start(); err != nil {
		t.Fatalf("starting health monitor: %v", err)
	}
	t.Cleanup(monitor.Stop)

	srv := httptest.NewServer(api.New(st, engine, sched, trk, monitor).Router())
	t.Cleanup(srv.Close)

	return &Daemon{
		Store:      st,
		Engine:     engine,
		Funcs:      funcs,
		Sched:      sched,
		Tracker:    trk,
		Monitor:    monitor,
		Server:     srv,
		LeaseFile:  leaseFile,
		TrafficDir: trafficDir,
	}
}

// Client returns an API client authenticated as the seeded admin.
func (d *Daemon) Client(t *testing.T) *client.Client {
	t.Helper()
	c := client.New(d.Server.URL, "")
	if _, err := c.Login(AdminUser, AdminPassword, false); err != nil {
		t.Fatalf("admin login: %v", err)
	}
	return c
}

// Lease is one fixture line for the dnsmasq lease file.
type Lease struct {
	MAC      string
	IP       string
	Hostname string
	TTL      time.Duration
}

// WriteLeases rewrites the lease file with the given fixtures. With no
// leases the file is valid but empty.
func WriteLeases(t *testing.T, path string, leases ...Lease) {
	t.Helper()
	var buf []byte
	buf = append(buf, "# test fixture\n"...)
	for _, l := range leases {
		ttl := l.TTL
		if ttl == 0 {
			ttl = time.Hour
		}
		hostname := l.Hostname
		if hostname == "" {
			hostname = "*"
		}
		expiry := time.Now().Add(ttl).Unix()
		buf = append(buf, fmt.Sprintf("%d %s %s %s\n", expiry, l.MAC, l.IP, hostname)...)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("writing lease file: %v", err)
	}
}

// WriteCounters writes the traffic accounting file for a MAC.
func (d *Daemon) WriteCounters(t *testing.T, mac string, in, out int64) {
	t.Helper()
	name := filepath.Join(d.TrafficDir, dashMAC(mac))
	if err := os.WriteFile(name, []byte(fmt.Sprintf("%d %d\n", in, out)), 0644); err != nil {
		t.Fatalf("writing counters for %s: %v", mac, err)
	}
}

func dashMAC(mac string) string {
	b := []byte(mac)
	for i := range b {
		if b[i] == ':' {
			b[i] = '-'
		}
	}
	return string(b)
}

// WaitFor polls cond until it returns true or the deadline passes.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", timeout, what)
}
