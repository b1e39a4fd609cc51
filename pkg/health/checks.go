// Package health runs configured probes on their intervals, records
// samples, and drives bounded self-heal recovery through the scheduler.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/lnmt-project/lnmt/pkg/model"
)

const (
	portDialTimeout = 2 * time.Second
	httpTimeout     = 5 * time.Second
)

// Result is the outcome of one probe execution.
type Result struct {
	Status model.HealthStatus `json:"status"`
	Detail string             `json:"detail,omitempty"`
}

// CheckFunc is a user-supplied check for custom probes.
type CheckFunc func(ctx context.Context, target string) Result

func ok(format string, args ...interface{}) Result {
	return Result{Status: model.HealthOK, Detail: fmt.Sprintf(format, args...)}
}

func warn(format string, args ...interface{}) Result {
	return Result{Status: model.HealthWarn, Detail: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...interface{}) Result {
	return Result{Status: model.HealthFail, Detail: fmt.Sprintf(format, args...)}
}

// checkProcess reports ok when a process with the target comm name
// exists and is not a zombie.
func checkProcess(target string) Result {
	procs, err := procfs.AllProcs()
	if err != nil {
		return fail("reading procfs: %v", err)
	}
	for _, p := range procs {
		comm, err := p.Comm()
		if err != nil || comm != target {
			continue
		}
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		if stat.State == "Z" {
			return warn("process %s (pid %d) is a zombie", target, p.PID)
		}
		return ok("process %s running (pid %d)", target, p.PID)
	}
	return fail("no process named %s", target)
}

// checkPort reports ok when a TCP connect to host:port succeeds within
// the dial deadline.
func checkPort(target string) Result {
	conn, err := net.DialTimeout("tcp", target, portDialTimeout)
	if err != nil {
		return fail("connect %s: %v", target, err)
	}
	_ = conn.Close()
	return ok("%s accepting connections", target)
}

// checkHTTP reports ok on any 2xx response within the client timeout.
func checkHTTP(ctx context.Context, target string) Result {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fail("bad url %s: %v", target, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail("GET %s: %v", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ok("GET %s: %s", target, resp.Status)
	}
	return fail("GET %s: %s", target, resp.Status)
}

// checkDisk parses a `path:max_used_percent` target and reports fail at
// or above the bound, warn within ten points of it.
func checkDisk(target string) Result {
	path, maxPct, err := parseDiskTarget(target)
	if err != nil {
		return fail("%v", err)
	}
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return fail("statfs %s: %v", path, err)
	}
	if fs.Blocks == 0 {
		return fail("statfs %s: zero block count", path)
	}
	usedPct := int(100 - fs.Bavail*100/fs.Blocks)
	switch {
	case usedPct >= maxPct:
		return fail("%s at %d%% used (bound %d%%)", path, usedPct, maxPct)
	case usedPct >= maxPct-10:
		return warn("%s at %d%% used (bound %d%%)", path, usedPct, maxPct)
	default:
		return ok("%s at %d%% used", path, usedPct)
	}
}

func parseDiskTarget(target string) (string, int, error) {
	path, pct, found := strings.Cut(target, ":")
	if !found {
		return path, 90, nil
	}
	maxPct, err := strconv.Atoi(pct)
	if err != nil || maxPct <= 0 || maxPct > 100 {
		return "", 0, fmt.Errorf("bad disk bound %q (want path:percent)", target)
	}
	return path, maxPct, nil
}
