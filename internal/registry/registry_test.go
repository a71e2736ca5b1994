package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRegistry(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(RedisOptions{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "ws:"), mr
}

func backends(t *testing.T) map[string]Registry {
	r, _ := newRedisRegistry(t)
	return map[string]Registry{
		"memory": NewMemory(),
		"redis":  r,
	}
}

// ============================================================================
// Contract tests, run against every backend
// ============================================================================

func TestRegisterAndList(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Register(ctx, "u1", "c1"))
			require.NoError(t, reg.Register(ctx, "u1", "c2"))
			require.NoError(t, reg.Register(ctx, "u2", "c3"))

			channels, err := reg.ActiveChannels(ctx, "u1")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"c1", "c2"}, channels)

			channels, err = reg.ActiveChannels(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, channels)
		})
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Register(ctx, "u1", "c1"))
			require.NoError(t, reg.Register(ctx, "u1", "c1"))

			channels, err := reg.ActiveChannels(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, []string{"c1"}, channels)
		})
	}
}

func TestRegisterMovesChannelToNewUser(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Register(ctx, "u1", "c1"))
			require.NoError(t, reg.Register(ctx, "u2", "c1"))

			channels, err := reg.ActiveChannels(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, channels)

			channels, err = reg.ActiveChannels(ctx, "u2")
			require.NoError(t, err)
			assert.Equal(t, []string{"c1"}, channels)
		})
	}
}

func TestUnregister(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Register(ctx, "u1", "c1"))
			require.NoError(t, reg.Register(ctx, "u1", "c2"))

			require.NoError(t, reg.Unregister(ctx, "c1"))
			require.NoError(t, reg.Unregister(ctx, "c1"))
			require.NoError(t, reg.Unregister(ctx, "never-registered"))

			channels, err := reg.ActiveChannels(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, []string{"c2"}, channels)
		})
	}
}

func TestRegisterValidatesArguments(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, reg.Register(context.Background(), "", "c1"), ErrInvalidArgument)
			assert.ErrorIs(t, reg.Register(context.Background(), "u1", ""), ErrInvalidArgument)
		})
	}
}

// ============================================================================
// Bidirectional invariant under concurrency
// ============================================================================

func churn(t *testing.T, reg Registry, workers, ops int) {
	t.Helper()
	users := []string{"u1", "u2", "u3"}
	channels := []string{"c1", "c2", "c3", "c4", "c5"}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < ops; i++ {
				ch := channels[rng.Intn(len(channels))]
				var err error
				if rng.Intn(2) == 0 {
					err = reg.Register(context.Background(), users[rng.Intn(len(users))], ch)
				} else {
					err = reg.Unregister(context.Background(), ch)
				}
				if err != nil && !errors.Is(err, redis.TxFailedErr) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(int64(w))
	}
	wg.Wait()
}

func checkMemoryInvariant(m *Memory) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for user, set := range m.channels {
		for ch := range set {
			if m.owners[ch] != user {
				return fmt.Errorf("channel %s in %s's set but owned by %q", ch, user, m.owners[ch])
			}
		}
	}
	for ch, user := range m.owners {
		if _, ok := m.channels[user][ch]; !ok {
			return fmt.Errorf("channel %s owned by %s but missing from the set", ch, user)
		}
	}
	return nil
}

func TestMemoryInvariantUnderConcurrency(t *testing.T) {
	m := NewMemory()

	var stop atomic.Bool
	var violations atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !stop.Load() {
			if err := checkMemoryInvariant(m); err != nil {
				violations.Add(1)
			}
		}
	}()

	churn(t, m, 8, 2000)
	stop.Store(true)
	<-done

	assert.Zero(t, violations.Load())
	assert.NoError(t, checkMemoryInvariant(m))
}

func TestRedisInvariantUnderConcurrency(t *testing.T) {
	reg, mr := newRedisRegistry(t)
	churn(t, reg, 8, 200)

	for _, key := range mr.Keys() {
		switch {
		case strings.HasPrefix(key, "ws:user:"):
			user := strings.TrimPrefix(key, "ws:user:")
			members, err := mr.Members(key)
			require.NoError(t, err)
			for _, ch := range members {
				owner, err := mr.Get("ws:conn:" + ch)
				require.NoError(t, err, "channel %s has no reverse entry", ch)
				assert.Equal(t, user, owner)
			}
		case strings.HasPrefix(key, "ws:conn:"):
			ch := strings.TrimPrefix(key, "ws:conn:")
			owner, err := mr.Get(key)
			require.NoError(t, err)
			assert.True(t, mr.Exists("ws:user:"+owner))
			ok, err := mr.SIsMember("ws:user:"+owner, ch)
			require.NoError(t, err)
			assert.True(t, ok, "channel %s missing from %s's set", ch, owner)
		}
	}
}

func TestRedisKeyLayout(t *testing.T) {
	reg, mr := newRedisRegistry(t)
	require.NoError(t, reg.Register(context.Background(), "u1", "c1"))

	owner, err := mr.Get("ws:conn:c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)
	ok, err := mr.SIsMember("ws:user:u1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, reg.Unregister(context.Background(), "c1"))
	assert.False(t, mr.Exists("ws:conn:c1"))
	assert.False(t, mr.Exists("ws:user:u1"))
}
