package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.sched.Jobs()
	if err != nil {
		respondErr(w, err)
		return
	}
	for _, j := range jobs {
		j.PriorityName = j.Priority.String()
	}
	respond(w, http.StatusOK, jobs)
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.sched.Job(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	job.PriorityName = job.Priority.String()
	respond(w, http.StatusOK, job)
}

func (s *Server) handleJobRegister(w http.ResponseWriter, r *http.Request) {
	var job model.Job
	if err := decode(r, &job); err != nil {
		respondErr(w, err)
		return
	}
	if err := s.sched.Register(&job, userFrom(r).Username); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusCreated, &job)
}

func (s *Server) handleJobUpdate(w http.ResponseWriter, r *http.Request) {
	var job model.Job
	if err := decode(r, &job); err != nil {
		respondErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if job.ID != "" && job.ID != id {
		respondErr(w, util.InvalidInputf("id_mismatch", "body job id %q does not match path %q", job.ID, id))
		return
	}
	job.ID = id
	if err := s.sched.Update(&job, userFrom(r).Username); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, &job)
}

func (s *Server) handleJobUnregister(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Unregister(chi.URLParam(r, "id"), userFrom(r).Username); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.sched.RunNow(chi.URLParam(r, "id"), userFrom(r).Username)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusAccepted, run)
}

func (s *Server) handleJobEnable(w http.ResponseWriter, r *http.Request) {
	s.setJobEnabled(w, r, true)
}

func (s *Server) handleJobDisable(w http.ResponseWriter, r *http.Request) {
	s.setJobEnabled(w, r, false)
}

func (s *Server) setJobEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := s.sched.SetEnabled(chi.URLParam(r, "id"), enabled, userFrom(r).Username); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.sched.History(r.URL.Query().Get("job_id"), queryInt(r, "limit", 50))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, runs)
}

func (s *Server) handleSchedStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sched.SchedStatus()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, status)
}

// handleJobExport returns the job definitions as a YAML document, not
// the JSON envelope, so the output feeds straight back into import.
func (s *Server) handleJobExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.sched.Export()
	if err != nil {
		respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

func (s *Server) handleJobImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondErr(w, util.InvalidInputf("bad_body", "reading import body: %v", err))
		return
	}
	count, err := s.sched.Import(data, userFrom(r).Username)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"imported": count})
}
