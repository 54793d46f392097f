// Package redistest provides helpers for Redis integration tests against a
// local Redis server. Tests using this package must be tagged
// //go:build redisintegration.
package redistest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultAddr is the default Redis address for tests.
const DefaultAddr = "localhost:6379"

// Addr is the Redis address, configurable via GOHAUL_TEST_REDIS_ADDR.
var Addr = getEnvOrDefault("GOHAUL_TEST_REDIS_ADDR", DefaultAddr)

var (
	client     *goredis.Client
	clientOnce sync.Once
)

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Available checks if the Redis server is reachable.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sharedClient().Ping(ctx).Err() == nil
}

// SkipIfUnavailable skips the test if the Redis server is not available.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("redis not available at %s (start with: make redis-start)", Addr)
	}
}

// Client returns a shared Redis client, failing the test when the server is
// unreachable.
func Client(t *testing.T) *goredis.Client {
	t.Helper()
	SkipIfUnavailable(t)
	return sharedClient()
}

func sharedClient() *goredis.Client {
	clientOnce.Do(func() {
		client = goredis.NewClient(&goredis.Options{Addr: Addr})
	})
	return client
}

// Key returns a test-scoped key so parallel tests do not collide.
func Key(t *testing.T, suffix string) string {
	t.Helper()
	key := fmt.Sprintf("gohaul:test:%s:%s:%d", t.Name(), suffix, time.Now().UnixNano())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sharedClient().Del(ctx, key)
	})
	return key
}
