// Package client is the REST client the lnmt CLIs use to talk to the
// daemon. Every call returns the decoded payload or a coded error
// rebuilt from the API's error envelope.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lnmt-project/lnmt/pkg/health"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/scheduler"
	"github.com/lnmt-project/lnmt/pkg/tracker"
	"github.com/lnmt-project/lnmt/pkg/util"
)

const requestTimeout = 30 * time.Second

// Client talks to one lnmtd instance.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a client for the daemon at base (scheme://host:port).
func New(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: requestTimeout},
	}
}

// SetToken replaces the bearer token (after login or refresh).
func (c *Client) SetToken(token string) {
	c.token = token
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return util.InvalidInputf("bad_request_body", "encoding request: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+"/api/v1"+path, reqBody)
	if err != nil {
		return util.InvalidInputf("bad_request", "building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return util.Transientf("daemon_unreachable", "calling %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return util.Transientf("daemon_unreachable", "reading response: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return util.Transientf("bad_response", "decoding response from %s: %v", path, err)
	}
	// A degraded health report is served with 503 but still carries
	// data; only an error envelope, or a bare 4xx/5xx, is a failure.
	if env.Error != nil || (resp.StatusCode >= 400 && len(env.Data) == 0) {
		code, msg := "internal", fmt.Sprintf("HTTP %d", resp.StatusCode)
		if env.Error != nil {
			code, msg = env.Error.Code, env.Error.Message
		}
		return util.NewCodedError(sentinelFor(resp.StatusCode), code, "%s", msg)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return util.Transientf("bad_response", "decoding payload from %s: %v", path, err)
		}
	}
	return nil
}

// callRaw fetches a non-envelope body (export YAML).
func (c *Client) callRaw(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+"/api/v1"+path, nil)
	if err != nil {
		return nil, util.InvalidInputf("bad_request", "building request: %v", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, util.Transientf("daemon_unreachable", "calling %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, util.Transientf("daemon_unreachable", "reading response: %v", err)
	}
	if resp.StatusCode >= 400 {
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Error != nil {
			return nil, util.NewCodedError(sentinelFor(resp.StatusCode), env.Error.Code, "%s", env.Error.Message)
		}
		return nil, util.Transientf("bad_response", "HTTP %d from %s", resp.StatusCode, path)
	}
	return data, nil
}

func sentinelFor(status int) error {
	switch status {
	case http.StatusBadRequest:
		return util.ErrInvalidInput
	case http.StatusUnauthorized, http.StatusTooManyRequests:
		return util.ErrUnauthenticated
	case http.StatusForbidden:
		return util.ErrForbidden
	case http.StatusNotFound:
		return util.ErrNotFound
	case http.StatusConflict:
		return util.ErrAlreadyExists
	default:
		return util.ErrTransient
	}
}

// LoginResult mirrors the API login payload.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"`
	User      *model.User `json:"user"`
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(username, password string, rememberMe bool) (*LoginResult, error) {
	var res LoginResult
	err := c.call(http.MethodPost, "/auth/login", map[string]interface{}{
		"username": username, "password": password, "remember_me": rememberMe,
	}, &res)
	if err != nil {
		return nil, err
	}
	c.token = res.Token
	return &res, nil
}

func (c *Client) Logout() error {
	return c.call(http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Refresh() (*LoginResult, error) {
	var res LoginResult
	if err := c.call(http.MethodPost, "/auth/refresh", nil, &res); err != nil {
		return nil, err
	}
	c.token = res.Token
	return &res, nil
}

func (c *Client) Whoami() (*model.User, error) {
	var u model.User
	if err := c.call(http.MethodGet, "/auth/whoami", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Sessions() ([]*model.AuthSession, error) {
	var s []*model.AuthSession
	return s, c.call(http.MethodGet, "/auth/sessions", nil, &s)
}

func (c *Client) Audit(actor, action string, limit int) ([]*model.AuditEvent, error) {
	q := url.Values{}
	if actor != "" {
		q.Set("actor", actor)
	}
	if action != "" {
		q.Set("action", action)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var events []*model.AuditEvent
	return events, c.call(http.MethodGet, "/auth/audit?"+q.Encode(), nil, &events)
}

func (c *Client) Users() ([]*model.User, error) {
	var users []*model.User
	return users, c.call(http.MethodGet, "/users", nil, &users)
}

func (c *Client) CreateUser(username, password, email string, role model.Role) (*model.User, error) {
	var u model.User
	err := c.call(http.MethodPost, "/users", map[string]interface{}{
		"username": username, "password": password, "email": email, "role": role,
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) SetUserPassword(username, password string) error {
	return c.call(http.MethodPost, "/users/"+url.PathEscape(username)+"/password",
		map[string]string{"password": password}, nil)
}

func (c *Client) SetUserEnabled(username string, enabled bool) error {
	verb := "disable"
	if enabled {
		verb = "enable"
	}
	return c.call(http.MethodPost, "/users/"+url.PathEscape(username)+"/"+verb, nil, nil)
}

func (c *Client) Jobs() ([]*model.Job, error) {
	var jobs []*model.Job
	return jobs, c.call(http.MethodGet, "/scheduler/jobs", nil, &jobs)
}

func (c *Client) Job(id string) (*model.Job, error) {
	var job model.Job
	if err := c.call(http.MethodGet, "/scheduler/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) RegisterJob(job *model.Job) error {
	return c.call(http.MethodPost, "/scheduler/jobs", job, job)
}

func (c *Client) UpdateJob(job *model.Job) error {
	return c.call(http.MethodPut, "/scheduler/jobs/"+url.PathEscape(job.ID), job, job)
}

func (c *Client) RemoveJob(id string) error {
	return c.call(http.MethodDelete, "/scheduler/jobs/"+url.PathEscape(id), nil, nil)
}

func (c *Client) RunJob(id string) (*model.JobRun, error) {
	var run model.JobRun
	if err := c.call(http.MethodPost, "/scheduler/jobs/"+url.PathEscape(id)+"/run", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) SetJobEnabled(id string, enabled bool) error {
	verb := "disable"
	if enabled {
		verb = "enable"
	}
	return c.call(http.MethodPost, "/scheduler/jobs/"+url.PathEscape(id)+"/"+verb, nil, nil)
}

func (c *Client) History(jobID string, limit int) ([]*model.JobRun, error) {
	q := url.Values{}
	if jobID != "" {
		q.Set("job_id", jobID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var runs []*model.JobRun
	return runs, c.call(http.MethodGet, "/scheduler/history?"+q.Encode(), nil, &runs)
}

func (c *Client) SchedStatus() (*scheduler.Status, error) {
	var st scheduler.Status
	if err := c.call(http.MethodGet, "/scheduler/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ExportJobs() ([]byte, error) {
	return c.callRaw("/scheduler/export")
}

func (c *Client) ImportJobs(data []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, c.base+"/api/v1/scheduler/import", bytes.NewReader(data))
	if err != nil {
		return 0, util.InvalidInputf("bad_request", "building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/yaml")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, util.Transientf("daemon_unreachable", "importing jobs: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, util.Transientf("bad_response", "decoding import response: %v", err)
	}
	if resp.StatusCode >= 400 || env.Error != nil {
		code, msg := "internal", fmt.Sprintf("HTTP %d", resp.StatusCode)
		if env.Error != nil {
			code, msg = env.Error.Code, env.Error.Message
		}
		return 0, util.NewCodedError(sentinelFor(resp.StatusCode), code, "%s", msg)
	}
	var out struct {
		Imported int `json:"imported"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return 0, util.Transientf("bad_response", "decoding import payload: %v", err)
	}
	return out.Imported, nil
}

// DeviceFilter narrows a device listing.
type DeviceFilter struct {
	VlanID     *int
	OnlineOnly bool
	Hostname   string
}

func (c *Client) Devices(f DeviceFilter) ([]*model.Device, error) {
	q := url.Values{}
	if f.OnlineOnly {
		q.Set("online", "true")
	}
	if f.Hostname != "" {
		q.Set("hostname", f.Hostname)
	}
	if f.VlanID != nil {
		q.Set("vlan", fmt.Sprint(*f.VlanID))
	}
	var devices []*model.Device
	return devices, c.call(http.MethodGet, "/devices?"+q.Encode(), nil, &devices)
}

// DeviceHistory mirrors the API device history payload.
type DeviceHistory struct {
	Device   *model.Device         `json:"device"`
	Leases   []*model.LeaseRecord  `json:"leases"`
	Sessions []*model.UsageSession `json:"sessions"`
}

func (c *Client) DeviceHistory(mac string, limit int) (*DeviceHistory, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var h DeviceHistory
	path := "/devices/" + url.PathEscape(mac) + "/history?" + q.Encode()
	if err := c.call(http.MethodGet, path, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// DeviceAlerts mirrors the API alerts payload.
type DeviceAlerts struct {
	Breaches   []tracker.Event `json:"breaches"`
	NewDevices []*model.Device `json:"new_devices"`
}

func (c *Client) Alerts() (*DeviceAlerts, error) {
	var a DeviceAlerts
	if err := c.call(http.MethodGet, "/devices/alerts", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) TrackerStatus() (*tracker.Status, error) {
	var st tracker.Status
	if err := c.call(http.MethodGet, "/devices/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Poll() (*tracker.Summary, error) {
	var sum tracker.Summary
	if err := c.call(http.MethodPost, "/devices/poll", nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (c *Client) Health() (*health.Report, error) {
	var rep health.Report
	if err := c.call(http.MethodGet, "/health", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *Client) Probes() ([]*model.HealthProbe, error) {
	var probes []*model.HealthProbe
	return probes, c.call(http.MethodGet, "/health/probes", nil, &probes)
}

func (c *Client) ProbeSamples(id string, limit int) ([]*model.HealthSample, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var samples []*model.HealthSample
	path := "/health/probes/" + url.PathEscape(id) + "/samples?" + q.Encode()
	return samples, c.call(http.MethodGet, path, nil, &samples)
}

func (c *Client) HealLog(limit int) ([]*model.SelfHealEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var entries []*model.SelfHealEntry
	return entries, c.call(http.MethodGet, "/health/heal-log?"+q.Encode(), nil, &entries)
}

func (c *Client) AddProbe(p *model.HealthProbe) error {
	return c.call(http.MethodPost, "/health/probes", p, p)
}

func (c *Client) RemoveProbe(id string) error {
	return c.call(http.MethodDelete, "/health/probes/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ResetProbe(id string) error {
	return c.call(http.MethodPost, "/health/probes/"+url.PathEscape(id)+"/reset", nil, nil)
}
