package model

import (
	"time"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// UsageSession is a bounded online interval for a device on a VLAN.
type UsageSession struct {
	ID          string     `json:"id"`
	VlanID      int        `json:"vlan_id"`
	MAC         string     `json:"mac"`
	IP          string     `json:"ip"`
	Hostname    string     `json:"hostname"`
	AppCategory string     `json:"app_category,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	SecondsUsed int64      `json:"seconds_used"`
}

// Open reports whether the session has not been closed yet.
func (s *UsageSession) Open() bool {
	return s.EndedAt == nil
}

// AppPattern assigns an application category to DNS activity. Patterns
// are evaluated in ascending ID order; the first match wins.
type AppPattern struct {
	ID       int    `json:"id"`
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
}

// DnsWhitelistEntry excludes matching DNS queries from usage attribution.
type DnsWhitelistEntry struct {
	ID      int    `json:"id"`
	Pattern string `json:"pattern"`
}

// VlanThreshold holds per-VLAN bandwidth and session policy.
type VlanThreshold struct {
	VlanID           int   `json:"vlan_id"`
	ThresholdKbps    int64 `json:"threshold_kbps"`
	TimeWindowSecs   int64 `json:"time_window_secs"`
	SessionLimitSecs int64 `json:"session_limit_secs"`
}

// Validate enforces that every threshold field is positive.
func (t *VlanThreshold) Validate() error {
	var v util.ValidationBuilder
	v.Add(t.VlanID > 0, "vlan_id must be > 0")
	v.Add(t.ThresholdKbps > 0, "threshold_kbps must be > 0")
	v.Add(t.TimeWindowSecs > 0, "time_window_secs must be > 0")
	v.Add(t.SessionLimitSecs > 0, "session_limit_secs must be > 0")
	return v.Build()
}
