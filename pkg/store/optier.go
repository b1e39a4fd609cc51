package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// OpTier offloads the append-heavy operational reads (recent run
// history, recent presence samples) into Redis capped lists. SQLite
// remains the durable copy: mirror writes are best-effort, and every
// read falls back to SQLite when Redis is down or the key is cold.
type OpTier struct {
	client  *redis.Client
	keep    int64
	timeout time.Duration
}

// NewOpTier connects to a Redis instance. keep bounds the per-key list
// length (default 200).
func NewOpTier(addr string, db int, keep int) *OpTier {
	if keep <= 0 {
		keep = 200
	}
	return &OpTier{
		client:  redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		keep:    int64(keep),
		timeout: 2 * time.Second,
	}
}

// Ping verifies connectivity.
func (o *OpTier) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.client.Ping(ctx).Err(); err != nil {
		return util.Transientf("optier_unavailable", "redis ping: %v", err)
	}
	return nil
}

// Close releases the client.
func (o *OpTier) Close() error {
	return o.client.Close()
}

func runKey(jobID string) string  { return "lnmt:runs:" + jobID }
func sampleKey(mac string) string { return "lnmt:samples:" + mac }

// MirrorRun pushes a terminal run onto the job's capped history list.
// Failures are logged and swallowed; SQLite already has the row.
func (o *OpTier) MirrorRun(run *model.JobRun) {
	o.push(runKey(run.JobID), run)
}

// MirrorSample pushes a presence sample onto the device's capped list.
func (o *OpTier) MirrorSample(sample *model.PresenceSample) {
	o.push(sampleKey(sample.MAC), sample)
}

// RecentRuns serves run history from the cache. ok=false means the
// caller must fall back to SQLite (cache cold, trimmed shorter than
// the request, or Redis unreachable).
func (o *OpTier) RecentRuns(jobID string, limit int) ([]*model.JobRun, bool) {
	raw, ok := o.fetch(runKey(jobID), limit)
	if !ok {
		return nil, false
	}
	runs := make([]*model.JobRun, 0, len(raw))
	for _, item := range raw {
		var run model.JobRun
		if err := json.Unmarshal([]byte(item), &run); err != nil {
			util.Warnf("optier: dropping malformed cached run for %s: %v", jobID, err)
			return nil, false
		}
		runs = append(runs, &run)
	}
	return runs, true
}

// RecentSamples serves presence samples from the cache.
func (o *OpTier) RecentSamples(mac string, limit int) ([]*model.PresenceSample, bool) {
	raw, ok := o.fetch(sampleKey(mac), limit)
	if !ok {
		return nil, false
	}
	samples := make([]*model.PresenceSample, 0, len(raw))
	for _, item := range raw {
		var sm model.PresenceSample
		if err := json.Unmarshal([]byte(item), &sm); err != nil {
			util.Warnf("optier: dropping malformed cached sample for %s: %v", mac, err)
			return nil, false
		}
		samples = append(samples, &sm)
	}
	return samples, true
}

func (o *OpTier) push(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	pipe := o.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, o.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Warnf("optier: mirror write to %s failed: %v", key, err)
	}
}

func (o *OpTier) fetch(key string, limit int) ([]string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	n, err := o.client.LLen(ctx, key).Result()
	if err != nil || n == 0 {
		return nil, false
	}
	// A warm but short list cannot satisfy the query; SQLite may hold
	// older rows the trim already evicted here.
	if n < int64(limit) {
		return nil, false
	}
	stop := int64(limit) - 1
	items, err := o.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		util.Warnf("optier: read of %s failed, falling back to sqlite: %v", key, err)
		return nil, false
	}
	return items, true
}

// String describes the tier for status output.
func (o *OpTier) String() string {
	return fmt.Sprintf("redis operational tier (keep=%d)", o.keep)
}
