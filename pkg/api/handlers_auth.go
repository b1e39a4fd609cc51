package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"`
	User      *model.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	res, err := s.auth.Login(req.Username, req.Password, req.RememberMe)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresIn: int64(time.Until(res.ExpiresAt).Seconds()),
		User:      res.User,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(bearerToken(r)); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"logged_out": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.auth.Refresh(bearerToken(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresIn: int64(time.Until(res.ExpiresAt).Seconds()),
		User:      res.User,
	})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, userFrom(r))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	sessions, err := s.st.ListAuthSessions(user.ID, time.Now().UnixMilli())
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, sessions)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	f := store.AuditFilter{
		Actor:  r.URL.Query().Get("actor"),
		Action: r.URL.Query().Get("action"),
		Limit:  queryInt(r, "limit", 50),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondErr(w, util.InvalidInputf("bad_query", "since must be RFC3339: %v", err))
			return
		}
		f.StartTime = t
	}
	events, err := s.st.QueryAudit(f)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, events)
}

type userRequest struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
}

func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := s.st.ListUsers()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, users)
}

func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	user, err := s.auth.CreateUser(req.Username, req.Password, req.Email, req.Role)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusCreated, user)
}

func (s *Server) handleUserPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	if err := s.auth.SetPassword(chi.URLParam(r, "username"), req.Password); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleUserEnable(w http.ResponseWriter, r *http.Request) {
	s.setUserEnabled(w, r, true)
}

func (s *Server) handleUserDisable(w http.ResponseWriter, r *http.Request) {
	s.setUserEnabled(w, r, false)
}

func (s *Server) setUserEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := s.auth.SetEnabled(chi.URLParam(r, "username"), enabled); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
