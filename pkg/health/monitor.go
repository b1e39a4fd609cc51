package health

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/lnmt-project/lnmt/pkg/audit"
	"github.com/lnmt-project/lnmt/pkg/metrics"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// DefaultHealCap bounds recovery attempts per probe per hour.
const DefaultHealCap = 3

// JobRunner dispatches a recovery job. Satisfied by the scheduler.
type JobRunner interface {
	RunNow(jobID, actor string) (*model.JobRun, error)
}

// Notifier delivers escalation messages when recovery is exhausted.
type Notifier interface {
	Notify(probeID, message string)
}

// LogNotifier is the default Notifier; it escalates to the log only.
type LogNotifier struct{}

func (LogNotifier) Notify(probeID, message string) {
	util.WithProbe(probeID).Warnf("escalation: %s", message)
}

// probeState is the in-memory counter block for one probe.
type probeState struct {
	consecutiveFails int
	notified         bool
	lastStatus       model.HealthStatus
	lastDetail       string
	lastAt           time.Time
	cancel           context.CancelFunc
}

// Monitor owns the probe loops and the self-heal policy.
type Monitor struct {
	st       *store.Store
	runner   JobRunner
	notifier Notifier
	clk      clock.PassiveClock
	healCap  int

	mu      sync.Mutex
	custom  map[string]CheckFunc
	state   map[string]*probeState
	wg      sync.WaitGroup
	ctx     context.Context
	stop    context.CancelFunc
	running bool
}

// NewMonitor builds a monitor. runner may be nil when no recovery
// dispatch is wanted (probes then only record and notify).
func NewMonitor(st *store.Store, runner JobRunner, notifier Notifier, clk clock.PassiveClock, healCap int) *Monitor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if healCap <= 0 {
		healCap = DefaultHealCap
	}
	return &Monitor{
		st:       st,
		runner:   runner,
		notifier: notifier,
		clk:      clk,
		healCap:  healCap,
		custom:   make(map[string]CheckFunc),
		state:    make(map[string]*probeState),
	}
}

// RegisterCheck binds a custom check name usable as a probe target.
func (m *Monitor) RegisterCheck(name string, fn CheckFunc) error {
	if name == "" || fn == nil {
		return util.InvalidInputf("bad_check", "check name and function are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.custom[name]; exists {
		return util.Conflictf("check_exists", "custom check %q already registered", name)
	}
	m.custom[name] = fn
	return nil
}

// Start launches one loop per stored probe.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return util.Conflictf("already_started", "health monitor already started")
	}
	m.running = true
	m.ctx, m.stop = context.WithCancel(context.Background())
	m.mu.Unlock()

	probes, err := m.st.ListProbes()
	if err != nil {
		return err
	}
	for _, p := range probes {
		m.startLoop(p)
	}
	util.Infof("health monitor started with %d probes", len(probes))
	return nil
}

// Stop cancels every probe loop and waits for them to unwind.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stop()
	m.mu.Unlock()
	m.wg.Wait()
}

// AddProbe validates, persists, and (when running) starts a probe.
func (m *Monitor) AddProbe(p *model.HealthProbe) error {
	if p.Kind == model.ProbeCustom {
		m.mu.Lock()
		_, known := m.custom[p.Target]
		m.mu.Unlock()
		if !known {
			return util.InvalidInputf("bad_check", "no custom check named %q", p.Target)
		}
	}
	if err := m.st.PutProbe(p); err != nil {
		return err
	}
	m.mu.Lock()
	running := m.running
	if st := m.state[p.ID]; st != nil && st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	m.mu.Unlock()
	if running {
		m.startLoop(p)
	}
	return nil
}

// RemoveProbe stops and deletes a probe.
func (m *Monitor) RemoveProbe(id string) error {
	if err := m.st.DeleteProbe(id); err != nil {
		return err
	}
	m.mu.Lock()
	if st := m.state[id]; st != nil && st.cancel != nil {
		st.cancel()
	}
	delete(m.state, id)
	m.mu.Unlock()
	return nil
}

// ResetProbe clears the failure counter and the NOTIFIED latch, letting
// recovery attempts resume.
func (m *Monitor) ResetProbe(id string) error {
	if _, err := m.st.GetProbe(id); err != nil {
		return err
	}
	m.mu.Lock()
	if st := m.state[id]; st != nil {
		st.consecutiveFails = 0
		st.notified = false
	}
	m.mu.Unlock()
	util.WithProbe(id).Info("probe state reset")
	return nil
}

func (m *Monitor) startLoop(p *model.HealthProbe) {
	m.mu.Lock()
	st := m.stateLocked(p.ID)
	ctx, cancel := context.WithCancel(m.ctx)
	st.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Duration(p.IntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Evaluate(ctx, p)
			}
		}
	}()
}

// Evaluate executes one probe cycle: run the check, record the sample,
// and apply the self-heal policy. Exported so a cycle can be driven
// directly (tests, `healthctl status --probe`).
func (m *Monitor) Evaluate(ctx context.Context, p *model.HealthProbe) Result {
	res := m.runCheck(ctx, p)
	now := m.clk.Now()

	sample := &model.HealthSample{ProbeID: p.ID, At: now, Status: res.Status, Detail: res.Detail}
	if err := m.st.InsertHealthSample(sample); err != nil {
		util.WithProbe(p.ID).Errorf("recording sample: %v", err)
	}
	metrics.ProbeStatus.WithLabelValues(p.ID).Set(statusValue(res.Status))

	m.mu.Lock()
	st := m.stateLocked(p.ID)
	st.lastStatus = res.Status
	st.lastDetail = res.Detail
	st.lastAt = now

	switch res.Status {
	case model.HealthOK:
		st.consecutiveFails = 0
		st.notified = false
		m.mu.Unlock()
		return res
	case model.HealthWarn:
		// Warn does not advance the failure streak, nor reset it.
		m.mu.Unlock()
		return res
	}

	st.consecutiveFails++
	fails := st.consecutiveFails
	notified := st.notified
	m.mu.Unlock()

	util.WithProbe(p.ID).Warnf("probe failed (%d/%d): %s", fails, p.FailureThreshold, res.Detail)
	if fails >= p.FailureThreshold && !notified {
		m.attemptRecovery(p, fails, now)
	}
	return res
}

func (m *Monitor) runCheck(ctx context.Context, p *model.HealthProbe) Result {
	switch p.Kind {
	case model.ProbeProcess:
		return checkProcess(p.Target)
	case model.ProbePort:
		return checkPort(p.Target)
	case model.ProbeHTTP:
		return checkHTTP(ctx, p.Target)
	case model.ProbeDisk:
		return checkDisk(p.Target)
	case model.ProbeCustom:
		m.mu.Lock()
		fn := m.custom[p.Target]
		m.mu.Unlock()
		if fn == nil {
			return fail("no custom check named %q", p.Target)
		}
		return fn(ctx, p.Target)
	default:
		return fail("unknown probe kind %q", p.Kind)
	}
}

// attemptRecovery dispatches the probe's recovery action, bounded by
// the hourly cap. Exhausting the cap latches NOTIFIED: no further
// attempts until an ok sample or a manual reset.
func (m *Monitor) attemptRecovery(p *model.HealthProbe, fails int, now time.Time) {
	log := util.WithProbe(p.ID)
	entry := &model.SelfHealEntry{
		At:       now,
		Module:   p.ID,
		Action:   p.RecoveryAction,
		Attempts: fails,
	}

	attempts, err := m.st.SelfHealAttemptsSince(p.ID, now.Add(-time.Hour))
	if err != nil {
		log.Errorf("counting self-heal attempts: %v", err)
		return
	}
	if attempts >= m.healCap {
		m.mu.Lock()
		m.stateLocked(p.ID).notified = true
		m.mu.Unlock()

		entry.Status = "NOTIFIED"
		entry.Notified = true
		msg := entry.Action
		if msg == "" {
			msg = "no recovery action"
		}
		m.notifier.Notify(p.ID, "recovery cap reached ("+msg+"), manual intervention required")
		log.Errorf("self-heal cap of %d/hour reached, escalating", m.healCap)
	} else if p.RecoveryAction == "" || m.runner == nil {
		entry.Status = "SKIPPED"
		entry.Error = "no recovery action configured"
	} else {
		metrics.SelfHealAttempts.WithLabelValues(p.ID).Inc()
		if _, err := m.runner.RunNow(p.RecoveryAction, "health"); err != nil {
			entry.Status = "FAILED"
			entry.Error = err.Error()
			log.Errorf("recovery dispatch failed: %v", err)
		} else {
			entry.Status = "DISPATCHED"
			log.Infof("recovery action %q dispatched", p.RecoveryAction)
		}
		// Require a fresh streak before the next attempt.
		m.mu.Lock()
		m.stateLocked(p.ID).consecutiveFails = 0
		m.mu.Unlock()
	}

	if err := m.st.InsertSelfHeal(entry); err != nil {
		log.Errorf("recording self-heal entry: %v", err)
	}
	m.auditHeal(entry)
}

// ProbeReport is one probe's line in the aggregate report.
type ProbeReport struct {
	ID               string             `json:"id"`
	Kind             model.ProbeKind    `json:"kind"`
	Status           model.HealthStatus `json:"status"`
	Detail           string             `json:"detail,omitempty"`
	At               time.Time          `json:"at"`
	ConsecutiveFails int                `json:"consecutive_fails"`
	Notified         bool               `json:"notified"`
}

// Report aggregates probe states, worst status wins overall.
type Report struct {
	Overall model.HealthStatus `json:"overall"`
	Probes  []ProbeReport      `json:"probes"`
}

// HealthReport builds the aggregate report from configured probes and
// their latest samples.
func (m *Monitor) HealthReport() (*Report, error) {
	probes, err := m.st.ListProbes()
	if err != nil {
		return nil, err
	}
	rep := &Report{Overall: model.HealthOK}
	for _, p := range probes {
		pr := ProbeReport{ID: p.ID, Kind: p.Kind}

		m.mu.Lock()
		if st := m.state[p.ID]; st != nil && st.lastStatus != "" {
			pr.Status = st.lastStatus
			pr.Detail = st.lastDetail
			pr.At = st.lastAt
			pr.ConsecutiveFails = st.consecutiveFails
			pr.Notified = st.notified
		}
		m.mu.Unlock()

		if pr.Status == "" {
			samples, err := m.st.RecentHealthSamples(p.ID, 1)
			if err != nil {
				return nil, err
			}
			if len(samples) == 1 {
				pr.Status = samples[0].Status
				pr.Detail = samples[0].Detail
				pr.At = samples[0].At
			} else {
				pr.Status = model.HealthWarn
				pr.Detail = "no samples yet"
			}
		}
		if worse(pr.Status, rep.Overall) {
			rep.Overall = pr.Status
		}
		rep.Probes = append(rep.Probes, pr)
	}
	return rep, nil
}

// stateLocked returns the probe's counter block, creating it on first
// use. Caller holds m.mu.
func (m *Monitor) stateLocked(id string) *probeState {
	st := m.state[id]
	if st == nil {
		st = &probeState{}
		m.state[id] = st
	}
	return st
}

func (m *Monitor) auditHeal(e *model.SelfHealEntry) {
	row := &model.AuditEvent{
		At:      e.At,
		Actor:   "health",
		Action:  audit.ActionSelfHeal,
		Target:  e.Module,
		Success: e.Status == "DISPATCHED",
		Details: e.Status + " " + e.Action,
	}
	if err := m.st.AppendAudit(row); err != nil {
		util.Errorf("writing audit row: %v", err)
	}
}

var statusRank = map[model.HealthStatus]int{
	model.HealthOK:   0,
	model.HealthWarn: 1,
	model.HealthFail: 2,
}

func worse(a, b model.HealthStatus) bool {
	return statusRank[a] > statusRank[b]
}

func statusValue(s model.HealthStatus) float64 {
	return float64(statusRank[s])
}
