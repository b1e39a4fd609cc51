package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lnmt-project/lnmt/pkg/model"
)

// handleHealth serves the aggregate report unauthenticated so load
// balancers and monitoring can scrape it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep, err := s.monitor.HealthReport()
	if err != nil {
		respondErr(w, err)
		return
	}
	status := http.StatusOK
	if rep.Overall == model.HealthFail {
		status = http.StatusServiceUnavailable
	}
	respond(w, status, rep)
}

func (s *Server) handleProbeList(w http.ResponseWriter, r *http.Request) {
	probes, err := s.st.ListProbes()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, probes)
}

func (s *Server) handleProbeSamples(w http.ResponseWriter, r *http.Request) {
	samples, err := s.st.RecentHealthSamples(chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, samples)
}

func (s *Server) handleHealLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.st.SelfHealLog(queryInt(r, "limit", 50))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, entries)
}

func (s *Server) handleProbeAdd(w http.ResponseWriter, r *http.Request) {
	var probe model.HealthProbe
	if err := decode(r, &probe); err != nil {
		respondErr(w, err)
		return
	}
	if err := probe.Validate(); err != nil {
		respondErr(w, err)
		return
	}
	if err := s.monitor.AddProbe(&probe); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusCreated, &probe)
}

func (s *Server) handleProbeRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.RemoveProbe(chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleProbeReset(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.ResetProbe(chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"reset": true})
}
