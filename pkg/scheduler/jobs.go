package scheduler

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lnmt-project/lnmt/pkg/audit"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// Register validates and persists a new job. The schedule must parse,
// the target must resolve, every dependency must already exist, and the
// resulting dependency graph must stay acyclic.
func (s *Scheduler) Register(job *model.Job, actor string) error {
	if err := s.validateJob(job, false); err != nil {
		return err
	}
	spec, _ := parseCron(job.Schedule, s.loc)

	now := s.clk.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := s.st.PutJob(job); err != nil {
		return err
	}
	s.mu.Lock()
	s.specs[job.ID] = spec
	s.mu.Unlock()

	s.auditJobChange(actor, job.ID, "registered", nil)
	util.WithJob(job.ID).Infof("job registered: %s [%s]", job.Schedule, job.Priority)
	return nil
}

// Update revalidates and replaces an existing job definition.
func (s *Scheduler) Update(job *model.Job, actor string) error {
	if err := s.validateJob(job, true); err != nil {
		return err
	}
	spec, _ := parseCron(job.Schedule, s.loc)

	job.UpdatedAt = s.clk.Now()
	if err := s.st.PutJob(job); err != nil {
		return err
	}
	s.mu.Lock()
	s.specs[job.ID] = spec
	delete(s.blocked, job.ID)
	s.mu.Unlock()

	s.auditJobChange(actor, job.ID, "updated", nil)
	return nil
}

// validateJob runs the registration checks shared by Register, Update,
// and Import. mustExist distinguishes update from create.
func (s *Scheduler) validateJob(job *model.Job, mustExist bool) error {
	if job.PriorityName != "" {
		job.Priority = model.ParsePriority(job.PriorityName)
	}
	job.PriorityName = job.Priority.String()
	if err := job.Validate(); err != nil {
		return err
	}
	if _, err := parseCron(job.Schedule, s.loc); err != nil {
		return err
	}
	if _, err := s.funcs.Resolve(job.Target); err != nil {
		return err
	}

	existing, err := s.st.GetJob(job.ID)
	if mustExist {
		if err != nil {
			return err
		}
	} else if existing != nil {
		return util.Conflictf("duplicate_job", "job %q already registered", job.ID)
	}

	all, err := s.st.ListJobs()
	if err != nil {
		return err
	}
	graph := make(map[string][]string, len(all)+1)
	for _, j := range all {
		graph[j.ID] = j.Dependencies
	}
	graph[job.ID] = job.Dependencies

	for _, dep := range job.Dependencies {
		if _, ok := graph[dep]; !ok {
			return util.InvalidInputf("unknown_dependency", "job %q depends on unknown job %q", job.ID, dep)
		}
	}
	return detectCycle(graph)
}

// detectCycle rejects dependency graphs with a cycle, reporting one
// offending path. Iteration order is sorted so the error is stable.
func detectCycle(graph map[string][]string) error {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // finished
	)
	color := make(map[string]int, len(graph))

	var path []string
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		path = append(path, id)
		deps := append([]string(nil), graph[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case grey:
				return util.InvalidInputf("cycle_detected",
					"dependency cycle: %v -> %s", path, dep)
			case white:
				if _, ok := graph[dep]; ok {
					if err := visit(dep); err != nil {
						return err
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Unregister deletes a job. A job with a run in flight, or one that
// other jobs depend on, stays.
func (s *Scheduler) Unregister(jobID, actor string) error {
	if _, err := s.st.GetJob(jobID); err != nil {
		return err
	}
	running, err := s.st.RunningRun(jobID)
	if err != nil {
		return err
	}
	if running != nil {
		return util.Conflictf("job_busy", "job %q has run %s in flight", jobID, running.RunID)
	}
	all, err := s.st.ListJobs()
	if err != nil {
		return err
	}
	for _, j := range all {
		for _, dep := range j.Dependencies {
			if dep == jobID {
				return util.Conflictf("dependency_in_use", "job %q is a dependency of %q", jobID, j.ID)
			}
		}
	}
	if err := s.st.DeleteJob(jobID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.specs, jobID)
	delete(s.blocked, jobID)
	s.mu.Unlock()

	s.auditJobChange(actor, jobID, "unregistered", nil)
	return nil
}

// SetEnabled toggles a job. Disabling stops future dispatch; an
// in-flight run finishes.
func (s *Scheduler) SetEnabled(jobID string, enabled bool, actor string) error {
	if err := s.st.SetJobEnabled(jobID, enabled); err != nil {
		return err
	}
	if !enabled {
		s.mu.Lock()
		delete(s.blocked, jobID)
		s.mu.Unlock()
	}
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	s.auditJobChange(actor, jobID, verb, nil)
	return nil
}

// RunNow claims and executes a manual run. The run executes on its own
// goroutine so an operator action is never queued behind scheduled
// work; the single-RUNNING guard still applies.
func (s *Scheduler) RunNow(jobID, actor string) (*model.JobRun, error) {
	job, err := s.st.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if !job.Enabled {
		return nil, util.Policyf("job_disabled", "job %q is disabled", jobID)
	}

	now := s.clk.Now()
	s.mu.Lock()
	spec := s.specs[jobID]
	s.mu.Unlock()
	windowStart := now.Add(-2 * time.Minute)
	if spec != nil {
		if prev := spec.Prev(now); !prev.IsZero() {
			windowStart = prev
		}
	}
	unmet, err := s.unmetDependency(job, windowStart, now)
	if err != nil {
		return nil, err
	}
	if unmet != "" {
		return nil, util.Policyf("dependency_unsatisfied",
			"job %q: dependency %q has not completed", jobID, unmet)
	}

	run := s.newRun(job, model.TriggerManual)
	if err := s.st.ClaimRun(run); err != nil {
		return nil, err
	}

	s.auditJobChange(actor, jobID, "manual run", map[string]string{"run": run.RunID})
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.runOne(invocation{job: job, run: run})
	}()
	return run, nil
}

// Job returns one job definition.
func (s *Scheduler) Job(jobID string) (*model.Job, error) {
	return s.st.GetJob(jobID)
}

// Jobs returns all job definitions.
func (s *Scheduler) Jobs() ([]*model.Job, error) {
	return s.st.ListJobs()
}

// History returns recent runs, newest first, optionally for one job.
func (s *Scheduler) History(jobID string, limit int) ([]*model.JobRun, error) {
	return s.st.RunHistory(jobID, limit)
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running   bool           `json:"running"`
	Workers   int            `json:"workers"`
	Jobs      int            `json:"jobs"`
	InFlight  int            `json:"in_flight"`
	Waiting   int            `json:"waiting_on_dependencies"`
	LastTick  time.Time      `json:"last_tick"`
	NextTick  time.Time      `json:"next_tick"`
	LastSkips map[string]int `json:"last_tick_skips,omitempty"`
}

// SchedStatus reports the live scheduler state.
func (s *Scheduler) SchedStatus() (*Status, error) {
	inflight, err := s.st.RunningCount()
	if err != nil {
		return nil, err
	}
	jobs, err := s.st.ListJobs()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := &Status{
		Running:  s.started,
		Workers:  s.workers,
		Jobs:     len(jobs),
		InFlight: inflight,
		Waiting:  len(s.blocked),
		LastTick: s.lastTick,
	}
	now := s.clk.Now()
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		spec, ok := s.specs[job.ID]
		if !ok {
			continue
		}
		next := spec.Next(now)
		if st.NextTick.IsZero() || next.Before(st.NextTick) {
			st.NextTick = next
		}
	}
	if len(s.skipped) > 0 {
		st.LastSkips = make(map[string]int, len(s.skipped))
		for p, n := range s.skipped {
			st.LastSkips[p.String()] = n
		}
	}
	return st, nil
}

// jobsFile is the YAML shape of a job-definitions export.
type jobsFile struct {
	Jobs []*model.Job `yaml:"jobs"`
}

// Export renders every job definition as YAML, importable by Import.
func (s *Scheduler) Export() ([]byte, error) {
	jobs, err := s.st.ListJobs()
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	for _, j := range jobs {
		j.PriorityName = j.Priority.String()
	}
	return yaml.Marshal(&jobsFile{Jobs: jobs})
}

// ValidateDefinitions parses a job-definitions document without a
// scheduler or store: field checks, schedule syntax, duplicate ids,
// batch-local dependencies, cycles. Target resolution needs a live
// registry and is not checked here. Used by offline tooling.
func ValidateDefinitions(data []byte) ([]*model.Job, error) {
	var file jobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, util.InvalidInputf("invalid_yaml", "parsing job definitions: %v", err)
	}
	graph := make(map[string][]string, len(file.Jobs))
	for _, job := range file.Jobs {
		if _, dup := graph[job.ID]; dup {
			return nil, util.InvalidInputf("duplicate_job", "job %q appears twice", job.ID)
		}
		if job.PriorityName != "" {
			job.Priority = model.ParsePriority(job.PriorityName)
		}
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("job %q: %w", job.ID, err)
		}
		if _, err := parseCron(job.Schedule, time.UTC); err != nil {
			return nil, fmt.Errorf("job %q: %w", job.ID, err)
		}
		graph[job.ID] = job.Dependencies
	}
	for _, job := range file.Jobs {
		for _, dep := range job.Dependencies {
			if _, ok := graph[dep]; !ok {
				return nil, util.InvalidInputf("unknown_dependency",
					"job %q depends on unknown job %q", job.ID, dep)
			}
		}
	}
	if err := detectCycle(graph); err != nil {
		return nil, err
	}
	return file.Jobs, nil
}

// Import loads job definitions from YAML, upserting each. The whole
// batch is validated (including cross-batch dependencies and cycles)
// before anything is written.
func (s *Scheduler) Import(data []byte, actor string) (int, error) {
	var file jobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, util.InvalidInputf("invalid_yaml", "parsing job definitions: %v", err)
	}
	if len(file.Jobs) == 0 {
		return 0, nil
	}

	existing, err := s.st.ListJobs()
	if err != nil {
		return 0, err
	}
	graph := make(map[string][]string, len(existing)+len(file.Jobs))
	for _, j := range existing {
		graph[j.ID] = j.Dependencies
	}
	seen := make(map[string]bool, len(file.Jobs))
	for _, job := range file.Jobs {
		if seen[job.ID] {
			return 0, util.InvalidInputf("duplicate_job", "job %q appears twice in import", job.ID)
		}
		seen[job.ID] = true
		if job.PriorityName != "" {
			job.Priority = model.ParsePriority(job.PriorityName)
		}
		job.PriorityName = job.Priority.String()
		if err := job.Validate(); err != nil {
			return 0, fmt.Errorf("job %q: %w", job.ID, err)
		}
		if _, err := parseCron(job.Schedule, s.loc); err != nil {
			return 0, fmt.Errorf("job %q: %w", job.ID, err)
		}
		if _, err := s.funcs.Resolve(job.Target); err != nil {
			return 0, fmt.Errorf("job %q: %w", job.ID, err)
		}
		graph[job.ID] = job.Dependencies
	}
	for _, job := range file.Jobs {
		for _, dep := range job.Dependencies {
			if _, ok := graph[dep]; !ok {
				return 0, util.InvalidInputf("unknown_dependency",
					"job %q depends on unknown job %q", job.ID, dep)
			}
		}
	}
	if err := detectCycle(graph); err != nil {
		return 0, err
	}

	now := s.clk.Now()
	for _, job := range file.Jobs {
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		if err := s.st.PutJob(job); err != nil {
			return 0, err
		}
		spec, _ := parseCron(job.Schedule, s.loc)
		s.mu.Lock()
		s.specs[job.ID] = spec
		s.mu.Unlock()
	}
	s.auditJobChange(actor, "", "imported", map[string]string{"jobs": fmt.Sprint(len(file.Jobs))})
	return len(file.Jobs), nil
}

// auditJobChange records a job mutation in the store audit table and
// the security log.
func (s *Scheduler) auditJobChange(actor, jobID, verb string, details map[string]string) {
	detail := verb
	for k, v := range details {
		detail += fmt.Sprintf(" %s=%s", k, v)
	}
	ev := &model.AuditEvent{
		At:      s.clk.Now(),
		Actor:   actor,
		Action:  audit.ActionJobChange,
		Target:  jobID,
		Success: true,
		Details: detail,
	}
	if err := s.st.AppendAudit(ev); err != nil {
		util.Errorf("writing audit row: %v", err)
	}
	fe := audit.NewEvent(actor, audit.ActionJobChange, jobID).WithSuccess().WithDetails("%s", detail)
	if err := audit.Log(fe); err != nil {
		util.Errorf("writing audit log: %v", err)
	}
}
