package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lnmt-project/lnmt/pkg/util"
)

func newFakeDaemon(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, body := range routes {
		b := body
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(b))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin_StoresToken(t *testing.T) {
	srv := newFakeDaemon(t, map[string]string{
		"/api/v1/auth/login": `{"data":{"token":"tok123","expires_in":3600,"user":{"username":"alice","role":"admin"}}}`,
	})
	c := New(srv.URL, "")

	res, err := c.Login("alice", "pw", false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Token != "tok123" || res.User.Username != "alice" {
		t.Errorf("result = %+v", res)
	}
	if c.token != "tok123" {
		t.Errorf("client token = %q, want tok123", c.token)
	}
}

func TestCall_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "tok123")
	if _, err := c.Jobs(); err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q, want Bearer tok123", gotAuth)
	}
}

func TestCall_MapsErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"duplicate_job","message":"job exists"}}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "tok")
	err := c.RemoveJob("backup")
	if !errors.Is(err, util.ErrAlreadyExists) {
		t.Fatalf("err = %v, want conflict class", err)
	}
	if util.Code(err) != "duplicate_job" {
		t.Errorf("code = %q, want duplicate_job", util.Code(err))
	}
	if err.Error() != "job exists" {
		t.Errorf("message = %q, want %q", err.Error(), "job exists")
	}
}

func TestCall_NotFoundAndUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/scheduler/jobs/ghost":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"unknown_job","message":"no such job"}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"token_expired","message":"session expired"}}`))
		}
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "tok")
	if _, err := c.Job("ghost"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := c.Whoami(); !errors.Is(err, util.ErrUnauthenticated) {
		t.Errorf("err = %v, want unauthenticated", err)
	}
}

func TestCall_DaemonUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", "")
	_, err := c.Jobs()
	if !errors.Is(err, util.ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestImportJobs(t *testing.T) {
	srv := newFakeDaemon(t, map[string]string{
		"/api/v1/scheduler/import": `{"data":{"imported":3}}`,
	})
	c := New(srv.URL, "tok")
	n, err := c.ImportJobs([]byte("jobs: []\n"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Errorf("imported = %d, want 3", n)
	}
}
