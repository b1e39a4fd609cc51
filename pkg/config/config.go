// Package config loads daemon configuration from a YAML file with
// environment-variable overrides layered on top.
package config

import (
	"context"
	"os"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// Config is the lnmtd daemon configuration. Precedence: built-in
// defaults, then the YAML file, then LNMT_* environment variables.
type Config struct {
	Listen    string `yaml:"listen" env:"LNMT_LISTEN"`
	StorePath string `yaml:"store_path" env:"LNMT_STORE_PATH"`
	RedisAddr string `yaml:"redis_addr" env:"LNMT_REDIS_ADDR"`
	JobsFile  string `yaml:"jobs_file" env:"LNMT_JOBS_FILE"`
	AuditLog  string `yaml:"audit_log" env:"LNMT_AUDIT_LOG"`
	LogLevel  string `yaml:"log_level" env:"LNMT_LOG_LEVEL"`
	LogJSON   bool   `yaml:"log_json" env:"LNMT_LOG_JSON"`

	Scheduler Scheduler `yaml:"scheduler"`
	Tracker   Tracker   `yaml:"tracker"`
	Detection Detection `yaml:"detection"`
	Auth      Auth      `yaml:"auth"`
	Health    Health    `yaml:"health"`
}

type Scheduler struct {
	MaxWorkers           int `yaml:"max_workers" env:"LNMT_SCHEDULER_MAX_WORKERS"`
	HistoryRetentionDays int `yaml:"history_retention_days" env:"LNMT_SCHEDULER_HISTORY_RETENTION_DAYS"`
}

type Tracker struct {
	PollIntervalS int    `yaml:"poll_interval_s" env:"LNMT_TRACKER_POLL_INTERVAL_S"`
	LeaseFile     string `yaml:"lease_file" env:"LNMT_TRACKER_LEASE_FILE"`
	TrafficDir    string `yaml:"traffic_dir" env:"LNMT_TRACKER_TRAFFIC_DIR"`
}

type Detection struct {
	PingWindow  int   `yaml:"ping_window" env:"LNMT_DETECTION_PING_WINDOW"`
	MinBytesIn  int64 `yaml:"min_bytes_in" env:"LNMT_DETECTION_MIN_BYTES_IN"`
	MinBytesOut int64 `yaml:"min_bytes_out" env:"LNMT_DETECTION_MIN_BYTES_OUT"`
}

type Auth struct {
	SessionIdleS     int `yaml:"session_idle_s" env:"LNMT_AUTH_SESSION_IDLE_S"`
	SessionRememberS int `yaml:"session_remember_s" env:"LNMT_AUTH_SESSION_REMEMBER_S"`
	LockoutThreshold int `yaml:"lockout_threshold" env:"LNMT_AUTH_LOCKOUT_THRESHOLD"`
	LockoutWindowS   int `yaml:"lockout_window_s" env:"LNMT_AUTH_LOCKOUT_WINDOW_S"`
	LockoutDurationS int `yaml:"lockout_duration_s" env:"LNMT_AUTH_LOCKOUT_DURATION_S"`
}

type Health struct {
	HealCapPerHour int `yaml:"heal_cap_per_hour" env:"LNMT_HEALTH_HEAL_CAP_PER_HOUR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:    ":8487",
		StorePath: "/var/lib/lnmt/lnmt.db",
		JobsFile:  "/etc/lnmt/jobs.yaml",
		AuditLog:  "/var/log/lnmt/audit.log",
		LogLevel:  "info",
		Scheduler: Scheduler{
			MaxWorkers:           5,
			HistoryRetentionDays: 30,
		},
		Tracker: Tracker{
			PollIntervalS: 120,
			LeaseFile:     "/var/lib/misc/dnsmasq.leases",
		},
		Detection: Detection{
			PingWindow:  3,
			MinBytesIn:  1024,
			MinBytesOut: 1024,
		},
		Auth: Auth{
			SessionIdleS:     1800,
			SessionRememberS: 24 * 3600,
			LockoutThreshold: 5,
			LockoutWindowS:   900,
			LockoutDurationS: 900,
		},
		Health: Health{
			HealCapPerHour: 3,
		},
	}
}

// Load builds the effective configuration. A missing file is not an
// error; the defaults plus environment apply.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, util.Transientf("config_unreadable", "reading %s: %v", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, util.InvalidInputf("config_invalid", "parsing %s: %v", path, err)
		}
	}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, util.InvalidInputf("config_invalid", "applying environment: %v", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var v util.ValidationBuilder
	v.Add(c.Listen != "", "listen address is required")
	v.Add(c.StorePath != "", "store_path is required")
	v.Add(c.Scheduler.MaxWorkers > 0, "scheduler.max_workers must be > 0")
	v.Add(c.Scheduler.HistoryRetentionDays > 0, "scheduler.history_retention_days must be > 0")
	v.Add(c.Tracker.PollIntervalS > 0, "tracker.poll_interval_s must be > 0")
	v.Add(c.Detection.PingWindow > 0, "detection.ping_window must be > 0")
	v.Add(c.Auth.SessionIdleS > 0, "auth.session_idle_s must be > 0")
	v.Add(c.Auth.LockoutThreshold > 0, "auth.lockout_threshold must be > 0")
	v.Add(c.Auth.LockoutWindowS > 0, "auth.lockout_window_s must be > 0")
	v.Add(c.Auth.LockoutDurationS > 0, "auth.lockout_duration_s must be > 0")
	v.Add(c.Health.HealCapPerHour > 0, "health.heal_cap_per_hour must be > 0")
	return v.Build()
}
