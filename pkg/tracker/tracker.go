package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/lnmt-project/lnmt/pkg/audit"
	"github.com/lnmt-project/lnmt/pkg/metrics"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// DefaultPollInterval is the lease/presence cycle period.
const DefaultPollInterval = 120 * time.Second

// TrafficSource reports cumulative byte counters per MAC.
type TrafficSource interface {
	Counters(mac string) (bytesIn, bytesOut int64, err error)
}

// Pinger probes a device address within the detection window.
type Pinger interface {
	Ping(ip string, window time.Duration) bool
}

// DNSLog exposes observed DNS query names per client IP.
type DNSLog interface {
	QueriesSince(clientIP string, since time.Time) ([]string, error)
}

// EventType names the events the tracker emits.
type EventType string

const (
	EventNewDevice       EventType = "new_device"
	EventThresholdBreach EventType = "vlan_threshold_breach"
)

// Event is a tracker observation consumed by alerting and policy
// tooling.
type Event struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	MAC       string    `json:"mac,omitempty"`
	VlanID    int       `json:"vlan_id,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Detail    string    `json:"detail"`
}

// Summary is the result of one poll cycle.
type Summary struct {
	DevicesSeen    int `json:"devices_seen"`
	NewDevices     int `json:"new_devices"`
	SessionsOpened int `json:"sessions_opened"`
	SessionsClosed int `json:"sessions_closed"`
	LinesSkipped   int `json:"lines_skipped"`
}

func (s *Summary) String() string {
	return fmt.Sprintf("seen=%d new=%d opened=%d closed=%d skipped=%d",
		s.DevicesSeen, s.NewDevices, s.SessionsOpened, s.SessionsClosed, s.LinesSkipped)
}

// Config carries the tracker's tunables.
type Config struct {
	PollInterval time.Duration
	Detection    model.DetectionSettings
}

type counterPair struct {
	in, out int64
}

type vlanPoint struct {
	at      time.Time
	in, out int64
}

// Tracker runs the lease/presence/session pipeline. All durable state
// lives in the store; in-memory maps hold only per-cycle deltas.
type Tracker struct {
	st      *store.Store
	leases  LeaseSource
	traffic TrafficSource
	pinger  Pinger
	dns     DNSLog
	clk     clock.PassiveClock
	cfg     Config

	events chan Event

	mu         sync.Mutex
	counters   map[string]counterPair
	sampleAt   map[string]time.Time
	lastActive map[string]time.Time
	vlanWindow map[int][]vlanPoint
	recent     []Event
	polls      int
	lastPoll   time.Time
	lastSum    Summary
}

// New wires a tracker. Any of traffic, pinger, and dns may be nil; the
// corresponding signal is then absent (samples fall back to the other
// signals).
func New(st *store.Store, leases LeaseSource, traffic TrafficSource, pinger Pinger, dns DNSLog, cfg Config, clk clock.PassiveClock) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Detection == (model.DetectionSettings{}) {
		cfg.Detection = model.DefaultDetectionSettings()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{
		st:         st,
		leases:     leases,
		traffic:    traffic,
		pinger:     pinger,
		dns:        dns,
		clk:        clk,
		cfg:        cfg,
		events:     make(chan Event, 64),
		counters:   make(map[string]counterPair),
		sampleAt:   make(map[string]time.Time),
		lastActive: make(map[string]time.Time),
		vlanWindow: make(map[int][]vlanPoint),
	}
}

// Events is the bounded event stream. When no consumer keeps up, events
// are dropped with a warning; they remain queryable via RecentEvents.
func (t *Tracker) Events() <-chan Event {
	return t.events
}

// RecentEvents returns up to limit recent events, newest first.
func (t *Tracker) RecentEvents(limit int) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.recent) {
		limit = len(t.recent)
	}
	out := make([]Event, 0, limit)
	for i := len(t.recent) - 1; i >= len(t.recent)-limit; i-- {
		out = append(out, t.recent[i])
	}
	return out
}

// PollOnce runs one full cycle: read leases, reconcile devices, sample
// presence, update sessions, evaluate VLAN thresholds. A missing lease
// file fails the cycle without touching any device row.
func (t *Tracker) PollOnce(ctx context.Context) (*Summary, error) {
	now := t.clk.Now()
	leases, skipped, err := t.leases.Read(now)
	if err != nil {
		return nil, err
	}

	sum := &Summary{DevicesSeen: len(leases), LinesSkipped: len(skipped)}
	for _, line := range skipped {
		metrics.LeaseParseErrors.Inc()
		util.Warnf("skipping malformed lease line: %s", line)
		t.auditSkip(now, line)
	}

	whitelist, err := t.st.DnsWhitelist()
	if err != nil {
		return nil, err
	}
	patterns, err := t.st.AppPatterns()
	if err != nil {
		return nil, err
	}
	cls := newClassifier(whitelist, patterns)

	for _, lease := range leases {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		created, err := t.st.ReconcileLease(lease, now)
		if err != nil {
			util.WithMAC(lease.MAC).Errorf("reconciling lease: %v", err)
			continue
		}
		if created {
			sum.NewDevices++
			t.emit(Event{
				Type:   EventNewDevice,
				At:     now,
				MAC:    lease.MAC,
				Detail: fmt.Sprintf("first lease %s (%s)", lease.IP, lease.Hostname),
			})
		}
		if err := t.sampleDevice(lease, cls, now, sum); err != nil {
			util.WithMAC(lease.MAC).Errorf("sampling device: %v", err)
		}
	}

	if err := t.evaluateThresholds(now); err != nil {
		util.Errorf("evaluating vlan thresholds: %v", err)
	}

	t.updateGauges()
	t.mu.Lock()
	t.polls++
	t.lastPoll = now
	t.lastSum = *sum
	t.mu.Unlock()
	return sum, nil
}

// sampleDevice records one presence sample for a leased device and
// advances its session state machine.
func (t *Tracker) sampleDevice(lease *model.LeaseRecord, cls *classifier, now time.Time, sum *Summary) error {
	mac := lease.MAC
	dev, err := t.st.GetDevice(mac)
	if err != nil {
		return err
	}

	sample := model.PresenceSample{MAC: mac, ObservedAt: now}
	counterOK := false
	if t.traffic != nil {
		in, out, err := t.traffic.Counters(mac)
		if err != nil {
			// Counter failure forces an inactive sample for this cycle.
			util.WithMAC(mac).Warnf("traffic counters unavailable: %v", err)
		} else {
			counterOK = true
			t.mu.Lock()
			prev, seen := t.counters[mac]
			t.counters[mac] = counterPair{in: in, out: out}
			t.mu.Unlock()
			if seen {
				sample.BytesInDelta = max64(0, in-prev.in)
				sample.BytesOutDelta = max64(0, out-prev.out)
			}
		}
	}
	if counterOK || t.traffic == nil {
		if t.pinger != nil {
			window := time.Duration(t.cfg.Detection.PingWindowS) * time.Second
			sample.PingResponded = t.pinger.Ping(dev.IP, window)
		}
		sample.Active = t.cfg.Detection.ActiveSample(sample)
	}
	if err := t.st.InsertPresenceSample(&sample); err != nil {
		return err
	}

	if dev.VlanID != nil {
		t.mu.Lock()
		t.vlanWindow[*dev.VlanID] = append(t.vlanWindow[*dev.VlanID],
			vlanPoint{at: now, in: sample.BytesInDelta, out: sample.BytesOutDelta})
		t.mu.Unlock()
	}

	return t.advanceSession(dev, sample, cls, now, sum)
}

// advanceSession applies the session lifecycle rules to one device
// given its newest sample.
func (t *Tracker) advanceSession(dev *model.Device, sample model.PresenceSample, cls *classifier, now time.Time, sum *Summary) error {
	mac := dev.MAC
	open, err := t.st.OpenSessionFor(mac)
	if err != nil {
		return err
	}
	var threshold *model.VlanThreshold
	if dev.VlanID != nil {
		if threshold, err = t.st.VlanThreshold(*dev.VlanID); err != nil {
			return err
		}
	}

	t.mu.Lock()
	lastSample, sampled := t.sampleAt[mac]
	lastActive, wasActive := t.lastActive[mac]
	t.sampleAt[mac] = now
	if sample.Active {
		t.lastActive[mac] = now
	}
	t.mu.Unlock()

	if sample.Active {
		if !dev.Online {
			if err := t.st.SetDeviceOnline(mac, true); err != nil {
				return err
			}
			// Online transition opens a fresh session.
			if open == nil {
				open = &model.UsageSession{
					ID:        uuid.NewString(),
					MAC:       mac,
					IP:        dev.IP,
					Hostname:  dev.Hostname,
					VlanID:    intOrZero(dev.VlanID),
					StartedAt: now,
				}
				if err := t.st.OpenUsageSession(open); err != nil {
					return err
				}
				sum.SessionsOpened++
				util.WithMAC(mac).Infof("session opened (vlan %d)", open.VlanID)
			}
		}
		if open != nil {
			// Only active intervals accumulate usage.
			if sampled && wasActive && lastActive.Equal(lastSample) {
				secs := int64(now.Sub(lastSample).Seconds())
				if secs > 0 {
					if err := t.st.AddSessionSeconds(open.ID, secs); err != nil {
						return err
					}
					open.SecondsUsed += secs
				}
			}
			if open.AppCategory == "" && t.dns != nil {
				qnames, err := t.dns.QueriesSince(dev.IP, open.StartedAt)
				if err != nil {
					util.WithMAC(mac).Warnf("reading dns log: %v", err)
				} else if cat := cls.Classify(qnames); cat != "" {
					if err := t.st.SetSessionCategory(open.ID, cat); err != nil {
						return err
					}
					open.AppCategory = cat
				}
			}
			if threshold != nil && open.SecondsUsed >= threshold.SessionLimitSecs {
				if err := t.st.CloseUsageSession(open.ID, now); err != nil {
					return err
				}
				sum.SessionsClosed++
				util.WithMAC(mac).Infof("session closed: limit of %ds reached", threshold.SessionLimitSecs)
			}
		}
		return nil
	}

	// Inactive sample: a device goes offline after one full interval
	// without activity; an idle session additionally closes once the
	// VLAN's time window lapses.
	idle := now.Sub(lastActive)
	if !wasActive {
		idle = t.cfg.PollInterval
	}
	offline := dev.Online && idle >= t.cfg.PollInterval
	windowLapsed := threshold != nil && open != nil &&
		idle > time.Duration(threshold.TimeWindowSecs)*time.Second

	if offline {
		if err := t.st.SetDeviceOnline(mac, false); err != nil {
			return err
		}
	}
	if open != nil && (offline || windowLapsed) {
		if err := t.st.CloseUsageSession(open.ID, now); err != nil {
			return err
		}
		sum.SessionsClosed++
		util.WithMAC(mac).Infof("session closed after %s idle", idle.Round(time.Second))
	}
	return nil
}

// evaluateThresholds checks each VLAN's aggregate rate over its
// trailing window and emits breach events.
func (t *Tracker) evaluateThresholds(now time.Time) error {
	thresholds, err := t.st.VlanThresholds()
	if err != nil {
		return err
	}
	for _, th := range thresholds {
		window := time.Duration(th.TimeWindowSecs) * time.Second
		cutoff := now.Add(-window)

		t.mu.Lock()
		points := t.vlanWindow[th.VlanID]
		kept := points[:0]
		var inBytes, outBytes int64
		for _, p := range points {
			if p.at.Before(cutoff) {
				continue
			}
			kept = append(kept, p)
			inBytes += p.in
			outBytes += p.out
		}
		t.vlanWindow[th.VlanID] = kept
		t.mu.Unlock()

		inKbps := inBytes * 8 / 1000 / th.TimeWindowSecs
		outKbps := outBytes * 8 / 1000 / th.TimeWindowSecs
		for dir, kbps := range map[string]int64{"in": inKbps, "out": outKbps} {
			if kbps <= th.ThresholdKbps {
				continue
			}
			metrics.ThresholdBreaches.WithLabelValues(dir).Inc()
			t.emit(Event{
				Type:      EventThresholdBreach,
				At:        now,
				VlanID:    th.VlanID,
				Direction: dir,
				Detail: fmt.Sprintf("vlan %d %s rate %d kbps exceeds %d kbps over %ds",
					th.VlanID, dir, kbps, th.ThresholdKbps, th.TimeWindowSecs),
			})
			util.Warnf("vlan %d threshold breach (%s): %d > %d kbps", th.VlanID, dir, kbps, th.ThresholdKbps)
		}
	}
	return nil
}

// Status is a read-side snapshot for the CLI and API.
type Status struct {
	Polls         int       `json:"polls"`
	LastPoll      time.Time `json:"last_poll"`
	LastSummary   Summary   `json:"last_summary"`
	DevicesOnline int       `json:"devices_online"`
	OpenSessions  int       `json:"open_sessions"`
}

// TrackerStatus reports the live poll-loop state.
func (t *Tracker) TrackerStatus() (*Status, error) {
	online, err := t.st.ListDevices(store.DeviceFilter{OnlineOnly: true})
	if err != nil {
		return nil, err
	}
	sessions, err := t.st.OpenSessions()
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Status{
		Polls:         t.polls,
		LastPoll:      t.lastPoll,
		LastSummary:   t.lastSum,
		DevicesOnline: len(online),
		OpenSessions:  len(sessions),
	}, nil
}

// Alerts returns recent threshold breaches plus devices first seen in
// the last 24 hours.
func (t *Tracker) Alerts() ([]Event, []*model.Device, error) {
	newDevices, err := t.st.NewDevicesSince(t.clk.Now().Add(-24 * time.Hour))
	if err != nil {
		return nil, nil, err
	}
	var breaches []Event
	for _, ev := range t.RecentEvents(0) {
		if ev.Type == EventThresholdBreach {
			breaches = append(breaches, ev)
		}
	}
	return breaches, newDevices, nil
}

// Run polls until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	util.Infof("tracker polling every %s", t.cfg.PollInterval)
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.PollOnce(ctx); err != nil {
				util.Errorf("poll cycle failed: %v", err)
			}
		}
	}
}

// RegisterJob binds the tracker's poll cycle as a scheduler target so
// deployments can drive it from a job instead of the internal loop.
func (t *Tracker) RegisterJob(register func(name string, fn func(ctx context.Context, args []string, kwargs map[string]string) (string, error)) error) error {
	return register("tracker.poll", func(ctx context.Context, _ []string, _ map[string]string) (string, error) {
		sum, err := t.PollOnce(ctx)
		if err != nil {
			return "", err
		}
		return sum.String(), nil
	})
}

func (t *Tracker) emit(ev Event) {
	t.mu.Lock()
	t.recent = append(t.recent, ev)
	if len(t.recent) > 100 {
		t.recent = t.recent[len(t.recent)-100:]
	}
	t.mu.Unlock()

	select {
	case t.events <- ev:
	default:
		util.Warnf("event channel full, dropping %s event", ev.Type)
	}
}

func (t *Tracker) auditSkip(now time.Time, line string) {
	ev := &model.AuditEvent{
		At:      now,
		Actor:   "tracker",
		Action:  audit.ActionLeaseSkipped,
		Success: false,
		Details: line,
	}
	if err := t.st.AppendAudit(ev); err != nil {
		util.Errorf("writing audit row: %v", err)
	}
}

func (t *Tracker) updateGauges() {
	if online, err := t.st.ListDevices(store.DeviceFilter{OnlineOnly: true}); err == nil {
		metrics.DevicesOnline.Set(float64(len(online)))
	}
	if sessions, err := t.st.OpenSessions(); err == nil {
		metrics.SessionsOpen.Set(float64(len(sessions)))
	}
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
