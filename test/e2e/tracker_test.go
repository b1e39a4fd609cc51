//go:build e2e

package e2e_test

import (
	"testing"

	"github.com/lnmt-project/lnmt/internal/testutil"
	"github.com/lnmt-project/lnmt/pkg/client"
)

func TestTrackerIngestOverAPI(t *testing.T) {
	d := testutil.StartDaemon(t)
	c := d.Client(t)

	testutil.WriteLeases(t, d.LeaseFile,
		testutil.Lease{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.10", Hostname: "laptop"},
		testutil.Lease{MAC: "aa:bb:cc:dd:ee:02", IP: "192.168.1.11"},
	)
	d.WriteCounters(t, "aa:bb:cc:dd:ee:01", 10_000, 10_000)

	sum, err := c.Poll()
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if sum.DevicesSeen != 2 {
		t.Errorf("devices seen = %d, want 2", sum.DevicesSeen)
	}
	if sum.NewDevices != 2 {
		t.Errorf("new devices = %d, want 2", sum.NewDevices)
	}

	// Activity above the byte thresholds between polls makes the device
	// online and opens a usage session.
	d.WriteCounters(t, "aa:bb:cc:dd:ee:01", 30_000, 30_000)
	if _, err := c.Poll(); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	online, err := c.Devices(client.DeviceFilter{OnlineOnly: true})
	if err != nil {
		t.Fatalf("listing online devices: %v", err)
	}
	if len(online) != 1 || online[0].MAC != "aa:bb:cc:dd:ee:01" {
		t.Fatalf("online devices = %+v, want exactly aa:bb:cc:dd:ee:01", online)
	}
	if online[0].Hostname != "laptop" {
		t.Errorf("hostname = %q, want %q", online[0].Hostname, "laptop")
	}

	hist, err := c.DeviceHistory("aa:bb:cc:dd:ee:01", 10)
	if err != nil {
		t.Fatalf("device history: %v", err)
	}
	if len(hist.Sessions) == 0 {
		t.Error("want at least one usage session after activity")
	}
	if len(hist.Leases) == 0 {
		t.Error("want lease history rows")
	}

	alerts, err := c.Alerts()
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts.NewDevices) != 2 {
		t.Errorf("new-device alerts = %d, want 2", len(alerts.NewDevices))
	}

	status, err := c.TrackerStatus()
	if err != nil {
		t.Fatalf("tracker status: %v", err)
	}
	if status.Polls != 2 {
		t.Errorf("polls = %d, want 2", status.Polls)
	}
}

func TestTrackerSkipsMalformedLeaseLines(t *testing.T) {
	d := testutil.StartDaemon(t)
	c := d.Client(t)

	testutil.WriteLeases(t, d.LeaseFile,
		testutil.Lease{MAC: "aa:bb:cc:dd:ee:10", IP: "192.168.1.20", Hostname: "ok-host"},
	)
	appendLine(t, d.LeaseFile, "not-a-lease-line\n")

	sum, err := c.Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if sum.DevicesSeen != 1 {
		t.Errorf("devices seen = %d, want 1", sum.DevicesSeen)
	}
	if sum.LinesSkipped != 1 {
		t.Errorf("lines skipped = %d, want 1", sum.LinesSkipped)
	}
}
