package tracker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// DirTrafficSource reads per-MAC cumulative counters from a directory
// of accounting files, one file per MAC containing "<in> <out>" in
// bytes. Firewall accounting exporters write these files.
type DirTrafficSource struct {
	Dir string
}

// Counters reads the accounting file for a MAC.
func (d *DirTrafficSource) Counters(mac string) (int64, int64, error) {
	name := filepath.Join(d.Dir, strings.ReplaceAll(mac, ":", "-"))
	data, err := os.ReadFile(name)
	if err != nil {
		return 0, 0, util.Transientf("counters_unavailable", "reading counters for %s: %v", mac, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, 0, util.Transientf("counters_unavailable", "malformed counter file %s", name)
	}
	in, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, util.Transientf("counters_unavailable", "bad in-counter %q", fields[0])
	}
	out, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, util.Transientf("counters_unavailable", "bad out-counter %q", fields[1])
	}
	return in, out, nil
}

// SystemPinger shells out to ping(8). ICMP raw sockets need privileges
// the daemon usually does not have; the setuid system binary does.
type SystemPinger struct{}

// Ping sends a single echo request with the window as its deadline.
func (SystemPinger) Ping(ip string, window time.Duration) bool {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	cmd := exec.Command("ping", "-c", "1", "-W", fmt.Sprint(secs), ip)
	return cmd.Run() == nil
}

// StoreDNSLog serves DNS queries from the store's dns_queries table,
// which a resolver log shipper populates.
type StoreDNSLog struct {
	Store *store.Store
}

// QueriesSince implements DNSLog.
func (s *StoreDNSLog) QueriesSince(clientIP string, since time.Time) ([]string, error) {
	return s.Store.DNSQueriesSince(clientIP, since)
}
