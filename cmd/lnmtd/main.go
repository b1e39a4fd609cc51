// lnmtd: the LNMT daemon.
//
// Runs the job scheduler, device tracker, and health monitor, and
// serves the HTTP API the ctl tools talk to. Configuration comes from
// /etc/lnmt/lnmtd.yaml with LNMT_* environment overrides.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lnmt-project/lnmt/pkg/api"
	"github.com/lnmt-project/lnmt/pkg/audit"
	"github.com/lnmt-project/lnmt/pkg/auth"
	"github.com/lnmt-project/lnmt/pkg/config"
	"github.com/lnmt-project/lnmt/pkg/health"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/scheduler"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/tracker"
	"github.com/lnmt-project/lnmt/pkg/util"
	"github.com/lnmt-project/lnmt/pkg/version"
)

const (
	defaultConfigPath = "/etc/lnmt/lnmtd.yaml"
	shutdownGrace     = 30 * time.Second
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "lnmtd",
	Short:         "LNMT daemon: scheduler, device tracker, health monitor, HTTP API",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file")
	rootCmd.AddCommand(newVersionCmd(), newCheckConfigCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("lnmtd " + version.Info())
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			fmt.Printf("configuration ok: listen=%s store=%s\n", cfg.Listen, cfg.StorePath)
			return nil
		},
	}
}

func run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.LogJSON {
		util.SetJSONFormat()
	}
	util.Infof("lnmtd %s starting", version.Info())

	if cfg.AuditLog != "" {
		auditLogger, err := audit.NewFileLogger(cfg.AuditLog, audit.RotationConfig{
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 5,
		})
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer auditLogger.Close()
		audit.SetDefaultLogger(auditLogger)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.RedisAddr != "" {
		op := store.NewOpTier(cfg.RedisAddr, 0, 0)
		if err := op.Ping(); err != nil {
			util.Warnf("redis unavailable, operational tier disabled: %v", err)
			op.Close()
		} else {
			util.Infof("attached %s at %s", op, cfg.RedisAddr)
			defer op.Close()
			st.AttachOpTier(op)
		}
	}

	engine := auth.NewEngine(st, auth.Policy{
		SessionIdle:      time.Duration(cfg.Auth.SessionIdleS) * time.Second,
		SessionRemember:  time.Duration(cfg.Auth.SessionRememberS) * time.Second,
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutWindow:    time.Duration(cfg.Auth.LockoutWindowS) * time.Second,
		LockoutDuration:  time.Duration(cfg.Auth.LockoutDurationS) * time.Second,
	}, nil)

	funcs := scheduler.NewFuncRegistry()
	if err := scheduler.RegisterBuiltins(funcs, st, nil, cfg.Scheduler.HistoryRetentionDays); err != nil {
		return err
	}
	sched := scheduler.New(st, funcs, cfg.Scheduler.MaxWorkers, time.Local, nil)

	trk := tracker.New(st,
		&tracker.FileLeaseSource{Path: cfg.Tracker.LeaseFile},
		&tracker.DirTrafficSource{Dir: cfg.Tracker.TrafficDir},
		tracker.SystemPinger{},
		&tracker.StoreDNSLog{Store: st},
		tracker.Config{
			PollInterval: time.Duration(cfg.Tracker.PollIntervalS) * time.Second,
			Detection: model.DetectionSettings{
				PingWindowS: cfg.Detection.PingWindow,
				MinBytesIn:  cfg.Detection.MinBytesIn,
				MinBytesOut: cfg.Detection.MinBytesOut,
			},
		}, nil)
	registerFn := func(name string, fn func(ctx context.Context, args []string, kwargs map[string]string) (string, error)) error {
		return funcs.RegisterFunc(name, fn)
	}
	if err := trk.RegisterJob(registerFn); err != nil {
		return err
	}

	monitor := health.NewMonitor(st, sched, nil, nil, cfg.Health.HealCapPerHour)

	if err := bootstrapJobs(st, sched, cfg.JobsFile); err != nil {
		return err
	}

	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop(shutdownGrace)

	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Stop()

	trackerCtx, stopTracker := context.WithCancel(context.Background())
	defer stopTracker()
	go trk.Run(trackerCtx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(st, engine, sched, trk, monitor).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		util.Infof("listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	util.Infof("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		util.Warnf("http shutdown: %v", err)
	}
	return nil
}

// bootstrapJobs seeds the store from the jobs file on first start. Once
// the store holds any jobs it is the source of truth and the file is
// ignored; operators change jobs through the API.
func bootstrapJobs(st *store.Store, sched *scheduler.Scheduler, path string) error {
	if path == "" {
		return nil
	}
	jobs, err := st.ListJobs()
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading jobs file: %w", err)
	}
	n, err := sched.Import(data, "system")
	if err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	util.Infof("bootstrapped %d jobs from %s", n, path)
	return nil
}
