package session_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spetersoncode/liteagent/session"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipRedis          bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, redis tests will be skipped: %v\n", containerErr)
		skipRedis = true
	} else if err := connectRedis(ctx); err != nil {
		fmt.Printf("Redis not reachable, redis tests will be skipped: %v\n", err)
		skipRedis = true
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func connectRedis(ctx context.Context) error {
	host, err := testRedisContainer.Host(ctx)
	if err != nil {
		return err
	}
	port, err := testRedisContainer.MappedPort(ctx, "6379")
	if err != nil {
		return err
	}
	testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	return testRedisClient.Ping(ctx).Err()
}

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipRedis {
		t.Skip("Docker not available, skipping redis test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	return testRedisClient
}

func TestRedisLocker_Serializes(t *testing.T) {
	rdb := getRedis(t)
	locker := session.NewRedisLocker(rdb, session.WithRetryInterval(5*time.Millisecond))
	ctx := context.Background()

	var inside, violations atomic.Int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "S1")
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				violations.Add(1)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Zero(t, violations.Load())
	n, err := rdb.Exists(ctx, "liteagent:bind:S1").Result()
	require.NoError(t, err)
	assert.Zero(t, n, "key released")
}

func TestRedisLocker_ReleaseOnlyOwnToken(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()
	locker := session.NewRedisLocker(rdb, session.WithTTL(50*time.Millisecond))

	unlock, err := locker.Lock(ctx, "S1")
	require.NoError(t, err)

	// The lease expires and another holder takes it.
	time.Sleep(80 * time.Millisecond)
	unlock2, err := locker.Lock(ctx, "S1")
	require.NoError(t, err)
	defer unlock2()

	unlock()
	n, err := rdb.Exists(ctx, "liteagent:bind:S1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "stale unlock must not free the new holder's key")
}

func TestRedisLocker_ContextCanceled(t *testing.T) {
	rdb := getRedis(t)
	locker := session.NewRedisLocker(rdb, session.WithPrefix("test:"))

	unlock, err := locker.Lock(context.Background(), "S1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "S1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
