package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisSaver(t *testing.T, ttl time.Duration) (*RedisSaver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := NewRedisSaver(context.Background(), rdb, ttl)
	require.NoError(t, err)
	return s, mr
}

func TestRedisSaverContract(t *testing.T) {
	runSaverContract(t, func(t *testing.T) Saver {
		s, _ := newTestRedisSaver(t, 3*time.Minute)
		return s
	})
}

func TestRedisSaverKeysExpire(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisSaver(t, 3*time.Minute)

	cfg, err := s.Put(ctx, Config{ThreadID: "t"}, newCheckpoint(t, `{}`), Metadata{})
	require.NoError(t, err)
	require.NoError(t, s.PutWrites(ctx, cfg, []Write{{Channel: "c", Value: []byte(`1`)}}, "task"))

	for _, key := range mr.Keys() {
		if key == redisTTLMetaKey {
			continue
		}
		assert.Equal(t, 3*time.Minute, mr.TTL(key), key)
	}

	mr.FastForward(4 * time.Minute)
	tup, err := s.GetTuple(ctx, Config{ThreadID: "t"})
	require.NoError(t, err)
	assert.Nil(t, tup)
}

func TestRedisSaverPrunesStaleIndexMembers(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisSaver(t, time.Hour)

	first := newCheckpoint(t, `{}`)
	cfg, err := s.Put(ctx, Config{ThreadID: "t"}, first, Metadata{})
	require.NoError(t, err)
	_, err = s.Put(ctx, cfg, newCheckpoint(t, `{}`), Metadata{})
	require.NoError(t, err)

	mr.Del(checkpointKey(threadSuffix("t", ""), first.ID))

	all, err := s.List(ctx, &Config{ThreadID: "t"}, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	members, err := mr.ZMembers(indexKey("t", ""))
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRedisSaverReappliesChangedTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisSaver(t, time.Hour)
	_, err := s.Put(ctx, Config{ThreadID: "t"}, newCheckpoint(t, `{}`), Metadata{})
	require.NoError(t, err)

	s.ttl = time.Minute
	require.NoError(t, s.EnsureTTLIndex(ctx))

	got, err := mr.Get(redisTTLMetaKey)
	require.NoError(t, err)
	assert.Equal(t, "60", got)
	assert.Equal(t, time.Minute, mr.TTL(indexKey("t", "")))
}
