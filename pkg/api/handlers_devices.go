package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/tracker"
	"github.com/lnmt-project/lnmt/pkg/util"
)

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	f := store.DeviceFilter{
		OnlineOnly: r.URL.Query().Get("online") == "true",
		Hostname:   r.URL.Query().Get("hostname"),
	}
	if v := r.URL.Query().Get("vlan"); v != "" {
		vlan := queryInt(r, "vlan", -1)
		if vlan < 0 {
			respondErr(w, util.InvalidInputf("bad_query", "vlan must be a non-negative integer"))
			return
		}
		f.VlanID = &vlan
	}
	devices, err := s.st.ListDevices(f)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, devices)
}

type deviceHistory struct {
	Device   *model.Device         `json:"device"`
	Leases   []*model.LeaseRecord  `json:"leases"`
	Sessions []*model.UsageSession `json:"sessions"`
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	mac, err := util.NormalizeMAC(chi.URLParam(r, "mac"))
	if err != nil {
		respondErr(w, err)
		return
	}
	dev, err := s.st.GetDevice(mac)
	if err != nil {
		respondErr(w, err)
		return
	}
	limit := queryInt(r, "limit", 50)
	leases, err := s.st.LeaseHistory(mac, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	sessions, err := s.st.SessionHistory(mac, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, deviceHistory{Device: dev, Leases: leases, Sessions: sessions})
}

type deviceAlerts struct {
	Breaches   []tracker.Event `json:"breaches"`
	NewDevices []*model.Device `json:"new_devices"`
}

func (s *Server) handleDeviceAlerts(w http.ResponseWriter, r *http.Request) {
	breaches, fresh, err := s.tracker.Alerts()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, deviceAlerts{Breaches: breaches, NewDevices: fresh})
}

func (s *Server) handleTrackerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.tracker.TrackerStatus()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, status)
}

func (s *Server) handleDevicePoll(w http.ResponseWriter, r *http.Request) {
	sum, err := s.tracker.PollOnce(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, sum)
}
