package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/lnmt-project/lnmt/pkg/metrics"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// DefaultWorkers bounds concurrent job execution when the config does
// not say otherwise.
const DefaultWorkers = 5

// invocation is a unit of work handed to the worker pool. When run is
// nil the worker claims the run itself; retries and manual runs arrive
// pre-claimed.
type invocation struct {
	job *model.Job
	run *model.JobRun
}

// blockedJob is a job whose scheduled tick fired while a dependency was
// unsatisfied. It stays eligible and dispatches at the first tick after
// the dependency completes.
type blockedJob struct {
	since       time.Time // the tick that first blocked it
	windowStart time.Time // dependency completion window start
}

// Scheduler owns the tick loop, the worker pool, and job admission.
// All durable state lives in the store; the scheduler keeps only parsed
// schedules and in-flight bookkeeping in memory.
type Scheduler struct {
	st    *store.Store
	funcs *FuncRegistry
	// Needs NewTimer for the tick loop and AfterFunc for retry backoff;
	// plain clock.Clock carries no AfterFunc.
	clk clock.WithTickerAndDelayedExecution
	loc *time.Location

	workers  int
	dispatch chan invocation
	stop     chan struct{}
	wg       sync.WaitGroup // workers + loop
	inflight sync.WaitGroup // individual runs

	mu       sync.Mutex
	specs    map[string]*cronSpec
	blocked  map[string]blockedJob
	lastTick time.Time
	skipped  map[model.Priority]int // saturation skips at the last tick
	started  bool
}

// New builds a scheduler over the given store and function registry.
// Jobs already in the store are loaded on Start.
func New(st *store.Store, funcs *FuncRegistry, workers int, loc *time.Location, clk clock.WithTickerAndDelayedExecution) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		st:       st,
		funcs:    funcs,
		clk:      clk,
		loc:      loc,
		workers:  workers,
		dispatch: make(chan invocation),
		stop:     make(chan struct{}),
		specs:    make(map[string]*cronSpec),
		blocked:  make(map[string]blockedJob),
		skipped:  make(map[model.Priority]int),
	}
}

// Start loads persisted jobs, spawns the worker pool and the tick loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return util.Conflictf("already_started", "scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.loadJobs(); err != nil {
		return err
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.loop()

	util.Infof("scheduler started with %d workers", s.workers)
	return nil
}

// Stop drains the scheduler: no new dispatches, in-flight runs get the
// grace period to finish, survivors are force-cancelled in the store.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.wg.Wait()
	case <-time.After(grace):
		// Survivors are abandoned: their rows flip to CANCELLED and their
		// goroutines unwind when their timeouts expire.
		if n, err := s.st.CancelRunning(s.clk.Now()); err != nil {
			util.Errorf("cancelling survivors on shutdown: %v", err)
		} else if n > 0 {
			util.Warnf("drain timeout: cancelled %d in-flight runs", n)
		}
	}
	util.Info("scheduler stopped")
}

// loadJobs parses the schedules of all persisted jobs. A job whose
// schedule no longer parses is disabled rather than dropped.
func (s *Scheduler) loadJobs() error {
	jobs, err := s.st.ListJobs()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		spec, err := parseCron(job.Schedule, s.loc)
		if err != nil {
			util.WithJob(job.ID).Warnf("disabling job: %v", err)
			if derr := s.st.SetJobEnabled(job.ID, false); derr != nil {
				return derr
			}
			continue
		}
		s.specs[job.ID] = spec
	}
	return nil
}

// loop fires Tick at every minute boundary until stopped.
func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		now := s.clk.Now()
		next := now.In(s.loc).Truncate(time.Minute).Add(time.Minute)
		timer := s.clk.NewTimer(next.Sub(now))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case tick := <-timer.C():
			s.Tick(tick)
		}
	}
}

// TickResult summarizes one tick for logging and tests.
type TickResult struct {
	Matched    int
	Dispatched int
	Skipped    int // worker saturation
	Deferred   int // unsatisfied dependencies
	Overlapped int // previous run still in flight
}

// Tick evaluates one scheduling instant: cron matches, carried-over
// dependency waiters, admission, and dispatch. Dispatch never blocks;
// with no idle worker the job is skipped until its next tick.
func (s *Scheduler) Tick(now time.Time) TickResult {
	metrics.SchedulerTicks.Inc()
	var res TickResult

	jobs, err := s.st.ListJobs()
	if err != nil {
		util.Errorf("tick: listing jobs: %v", err)
		return res
	}
	byID := make(map[string]*model.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	type candidate struct {
		job         *model.Job
		trigger     model.RunTrigger
		windowStart time.Time
	}
	var cands []candidate

	s.mu.Lock()
	s.lastTick = now
	for p := range s.skipped {
		delete(s.skipped, p)
	}
	for _, job := range jobs {
		if !job.Enabled {
			delete(s.blocked, job.ID)
			continue
		}
		spec, ok := s.specs[job.ID]
		if !ok || !spec.Matches(now) {
			continue
		}
		res.Matched++
		// A fresh scheduled match supersedes a carried-over waiter.
		delete(s.blocked, job.ID)
		start := spec.Prev(now)
		if start.IsZero() {
			start = now.Add(-2 * time.Minute)
		}
		cands = append(cands, candidate{job, model.TriggerSchedule, start})
	}
	for id, b := range s.blocked {
		job, ok := byID[id]
		if !ok || !job.Enabled {
			delete(s.blocked, id)
			continue
		}
		cands = append(cands, candidate{job, model.TriggerDependency, b.windowStart})
	}
	s.mu.Unlock()

	// Deterministic dispatch order: priority, then scheduled wait, then id.
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.job.Priority != b.job.Priority {
			return a.job.Priority > b.job.Priority
		}
		if !a.windowStart.Equal(b.windowStart) {
			return a.windowStart.Before(b.windowStart)
		}
		return a.job.ID < b.job.ID
	})

	for _, c := range cands {
		log := util.WithJob(c.job.ID)

		running, err := s.st.RunningRun(c.job.ID)
		if err != nil {
			log.Errorf("tick: checking running run: %v", err)
			continue
		}
		if running != nil {
			log.Debugf("skipping tick: run %s still in flight", running.RunID)
			res.Overlapped++
			continue
		}

		unmet, err := s.unmetDependency(c.job, c.windowStart, now)
		if err != nil {
			log.Errorf("tick: checking dependencies: %v", err)
			continue
		}
		if unmet != "" {
			log.Debugf("deferring: dependency %q not completed", unmet)
			s.mu.Lock()
			if _, held := s.blocked[c.job.ID]; !held {
				s.blocked[c.job.ID] = blockedJob{since: now, windowStart: c.windowStart}
			}
			s.mu.Unlock()
			res.Deferred++
			continue
		}

		s.mu.Lock()
		delete(s.blocked, c.job.ID)
		s.mu.Unlock()

		s.inflight.Add(1)
		select {
		case s.dispatch <- invocation{job: c.job, run: s.newRun(c.job, c.trigger)}:
			res.Dispatched++
		default:
			s.inflight.Done()
			metrics.DispatchSkips.Inc()
			s.mu.Lock()
			s.skipped[c.job.Priority]++
			s.mu.Unlock()
			log.Warnf("no idle worker: skipping until next tick")
			res.Skipped++
		}
	}
	return res
}

// unmetDependency returns the first dependency without a COMPLETED run
// ending at or after windowStart, or "" when all are satisfied.
func (s *Scheduler) unmetDependency(job *model.Job, windowStart, now time.Time) (string, error) {
	for _, dep := range job.Dependencies {
		run, err := s.st.LatestCompleted(dep)
		if err != nil {
			return "", err
		}
		if run == nil || run.EndedAt == nil || run.EndedAt.Before(windowStart) {
			return dep, nil
		}
	}
	return "", nil
}

func (s *Scheduler) newRun(job *model.Job, trigger model.RunTrigger) *model.JobRun {
	return &model.JobRun{
		RunID:     uuid.NewString(),
		JobID:     job.ID,
		Trigger:   trigger,
		StartedAt: s.clk.Now(),
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case inv := <-s.dispatch:
			s.runOne(inv)
			s.inflight.Done()
		}
	}
}

// runOne claims (unless pre-claimed) and executes a single run.
func (s *Scheduler) runOne(inv invocation) {
	job, run := inv.job, inv.run
	log := util.WithRun(job.ID, run.RunID)

	if !inv.preclaimed() {
		if err := s.st.ClaimRun(run); err != nil {
			if errors.Is(err, util.ErrAlreadyExists) {
				log.Debugf("lost claim: %v", err)
			} else {
				log.Errorf("claiming run: %v", err)
			}
			return
		}
	}

	fn, err := s.funcs.Resolve(job.Target)
	if err != nil {
		s.finishRun(job, run, "", err)
		return
	}

	log.Infof("run started (attempt %d)", run.RetryCount+1)
	output, err := s.invoke(fn, job)
	s.finishRun(job, run, output, err)
}

// preclaimed reports whether the run row already exists as RUNNING.
func (i invocation) preclaimed() bool {
	return i.run.Status == model.RunRunning
}

// invoke executes the job function under its timeout. On expiry the
// function goroutine is abandoned; its context is cancelled and its
// eventual return is discarded.
func (s *Scheduler) invoke(fn JobFunc, job *model.Job) (string, error) {
	timeout := time.Duration(job.TimeoutS) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(ctx, job.Args, job.Kwargs)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.output, r.err
	case <-ctx.Done():
		return "", util.Transientf("run_timeout", "job %q exceeded its %ds timeout", job.ID, job.TimeoutS)
	}
}

// finishRun records the terminal (or retrying) state of a run and arms
// the retry timer when attempts remain.
func (s *Scheduler) finishRun(job *model.Job, run *model.JobRun, output string, runErr error) {
	log := util.WithRun(job.ID, run.RunID)
	ended := s.clk.Now()
	run.EndedAt = &ended

	if runErr == nil {
		if err := s.st.TransitionRun(run.RunID, model.RunRunning, model.RunCompleted, &ended, "", output); err != nil {
			log.Errorf("recording completion: %v", err)
			return
		}
		metrics.JobRuns.WithLabelValues(string(model.RunCompleted)).Inc()
		metrics.JobRunDuration.Observe(ended.Sub(run.StartedAt).Seconds())
		log.Infof("run completed in %s", ended.Sub(run.StartedAt).Round(time.Millisecond))
		return
	}

	if run.RetryCount < job.MaxRetries {
		if err := s.st.TransitionRun(run.RunID, model.RunRunning, model.RunRetrying, &ended, runErr.Error(), output); err != nil {
			log.Errorf("recording retry state: %v", err)
			return
		}
		delay := retryBackoff(job, run.RetryCount)
		log.Warnf("run failed, retry %d/%d in %s: %v", run.RetryCount+1, job.MaxRetries, delay, runErr)
		// The timer callback must stay trivial; clock implementations may
		// invoke it under their own lock.
		attempt := run.RetryCount + 1
		s.clk.AfterFunc(delay, func() {
			go s.retry(job.ID, run.RunID, attempt)
		})
		return
	}

	if err := s.st.TransitionRun(run.RunID, model.RunRunning, model.RunFailed, &ended, runErr.Error(), output); err != nil {
		log.Errorf("recording failure: %v", err)
		return
	}
	metrics.JobRuns.WithLabelValues(string(model.RunFailed)).Inc()
	log.Errorf("run failed permanently after %d attempts: %v", run.RetryCount+1, runErr)
}

// retryBackoff is retry_delay_s doubled per prior attempt, capped at
// the job timeout.
func retryBackoff(job *model.Job, attempt int) time.Duration {
	delay := time.Duration(job.RetryDelayS) * time.Second
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	if max := time.Duration(job.TimeoutS) * time.Second; delay > max {
		delay = max
	}
	return delay
}

// retry finalizes the RETRYING predecessor as FAILED and claims a fresh
// run for the next attempt, so history shows one row per attempt.
func (s *Scheduler) retry(jobID, prevRunID string, attempt int) {
	log := util.WithJob(jobID)

	prev, err := s.st.GetRun(prevRunID)
	if err != nil {
		log.Errorf("retry: reading predecessor: %v", err)
		return
	}
	if prev.Status != model.RunRetrying {
		log.Debugf("retry: predecessor moved to %s, standing down", prev.Status)
		return
	}

	job, err := s.st.GetJob(jobID)
	if err != nil || !job.Enabled {
		if terr := s.st.TransitionRun(prevRunID, model.RunRetrying, model.RunCancelled, nil, prev.Error, prev.Output); terr != nil {
			log.Errorf("retry: cancelling orphaned attempt: %v", terr)
		}
		return
	}

	if err := s.st.TransitionRun(prevRunID, model.RunRetrying, model.RunFailed, nil, prev.Error, prev.Output); err != nil {
		log.Errorf("retry: finalizing predecessor: %v", err)
		return
	}
	metrics.JobRuns.WithLabelValues(string(model.RunFailed)).Inc()

	run := s.newRun(job, prev.Trigger)
	run.RetryCount = attempt
	if err := s.st.ClaimRun(run); err != nil {
		// A manual run slipped in during the backoff window.
		log.Warnf("retry superseded: %v", err)
		return
	}

	// Retries execute outside the pool: the attempt is already claimed
	// and must not starve behind a saturated tick.
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.runOne(invocation{job: job, run: run})
	}()
}
