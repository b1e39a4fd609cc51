package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"k8s.io/utils/clock"

	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// DefaultRetentionDays bounds operational history kept by the built-in
// maintenance jobs.
const DefaultRetentionDays = 30

// RegisterBuiltins binds the maintenance targets every deployment gets.
// The tracker registers its own poll target separately.
func RegisterBuiltins(funcs *FuncRegistry, st *store.Store, clk clock.PassiveClock, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	pruneHistory := func(ctx context.Context, _ []string, kwargs map[string]string) (string, error) {
		cutoff := clk.Now().AddDate(0, 0, -retention(kwargs, retentionDays))
		runs, err := st.PruneRuns(cutoff)
		if err != nil {
			return "", err
		}
		sessions, err := st.PruneAuthSessions(cutoff.UnixMilli())
		if err != nil {
			return "", err
		}
		events, err := st.PruneAudit(cutoff)
		if err != nil {
			return "", err
		}
		out := fmt.Sprintf("pruned %d runs, %d auth sessions, %d audit events before %s",
			runs, sessions, events, cutoff.Format(time.RFC3339))
		util.Infof("store.prune_history: %s", out)
		return out, nil
	}

	compactSessions := func(ctx context.Context, _ []string, kwargs map[string]string) (string, error) {
		cutoff := clk.Now().AddDate(0, 0, -retention(kwargs, retentionDays))
		sessions, err := st.PruneSessions(cutoff)
		if err != nil {
			return "", err
		}
		samples, err := st.PruneSamples(cutoff)
		if err != nil {
			return "", err
		}
		leases, err := st.PruneLeases(cutoff)
		if err != nil {
			return "", err
		}
		dns, err := st.PruneDNSQueries(cutoff)
		if err != nil {
			return "", err
		}
		out := fmt.Sprintf("compacted %d sessions, %d samples, %d leases, %d dns rows before %s",
			sessions, samples, leases, dns, cutoff.Format(time.RFC3339))
		util.Infof("sessions.compact: %s", out)
		return out, nil
	}

	if err := funcs.RegisterFunc("store.prune_history", pruneHistory); err != nil {
		return err
	}
	return funcs.RegisterFunc("sessions.compact", compactSessions)
}

// retention reads a retention_days kwarg, falling back to the default.
func retention(kwargs map[string]string, def int) int {
	if v, ok := kwargs["retention_days"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
