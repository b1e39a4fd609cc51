// Package tracker ingests DHCP leases, derives device presence from
// traffic and ping samples, correlates usage sessions, and emits VLAN
// threshold events.
package tracker

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// LeaseSource produces the current lease set. Read returns the parsed
// leases plus the raw text of any lines it had to skip.
type LeaseSource interface {
	Read(now time.Time) (leases []*model.LeaseRecord, skipped []string, err error)
}

// FileLeaseSource parses a dnsmasq-style lease file: one lease per
// line, `expiry_epoch mac ip hostname [client_id]`, with blank lines
// and # comments ignored.
type FileLeaseSource struct {
	Path string
}

// Read parses the lease file. A missing or unreadable file is a hard
// error; a malformed line is reported in skipped and parsing continues.
func (f *FileLeaseSource) Read(now time.Time) ([]*model.LeaseRecord, []string, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, nil, util.Transientf("lease_file_unavailable", "opening lease file %s: %v", f.Path, err)
	}
	defer fh.Close()

	var (
		leases  []*model.LeaseRecord
		skipped []string
	)
	scanner := bufio.NewScanner(fh)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := parseLeaseLine(line, f.Path, now)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s:%d: %v", f.Path, lineNo, err))
			continue
		}
		leases = append(leases, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, util.Transientf("lease_file_unavailable", "reading lease file %s: %v", f.Path, err)
	}
	return leases, skipped, nil
}

func parseLeaseLine(line, source string, now time.Time) (*model.LeaseRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, fmt.Errorf("want at least 4 fields, got %d", len(fields))
	}
	expiry, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad expiry %q", fields[0])
	}
	mac, err := util.NormalizeMAC(fields[1])
	if err != nil {
		return nil, err
	}
	ip := fields[2]
	if ip == "" || strings.Count(ip, ".") != 3 {
		return nil, fmt.Errorf("bad ip %q", ip)
	}
	hostname := fields[3]
	if hostname == "*" {
		hostname = ""
	}
	return &model.LeaseRecord{
		MAC:         mac,
		IP:          ip,
		Hostname:    hostname,
		LeaseExpiry: time.Unix(expiry, 0).UTC(),
		SourceFile:  source,
		ObservedAt:  now,
	}, nil
}
