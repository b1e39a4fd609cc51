//go:build integration || e2e

package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisAddr returns the address of the test Redis instance, or "" when
// none is configured. Set LNMT_TEST_REDIS_ADDR to run the operational
// tier tests.
func RedisAddr() string {
	return os.Getenv("LNMT_TEST_REDIS_ADDR")
}

// SkipIfNoRedis skips the test unless a reachable test Redis is
// configured.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()
	addr := RedisAddr()
	if addr == "" {
		t.Skip("test Redis not configured: set LNMT_TEST_REDIS_ADDR")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := redis.NewClient(&redis.Options{Addr: addr})
	defer c.Close()
	if err := c.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}
}
