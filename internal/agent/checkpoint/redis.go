package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	errx "github.com/chattabot/agent/internal/core/error"
	logx "github.com/chattabot/agent/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	redisIndexPrefix      = "checkpoint_index:"
	redisCheckpointPrefix = "checkpoint:"
	redisWritesPrefix     = "checkpoint_writes:"
	redisWritePrefix      = "checkpoint_write:"
	redisThreadPrefix     = "checkpoint_thread:"
	redisTTLMetaKey       = "checkpoint_meta:ttl"
)

// RedisSaver keeps each checkpoint in a hash and orders them per thread in a lexically sorted zset.
// Every key carries the TTL, so Redis reaps expired checkpoints on its own.
type RedisSaver struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now func() time.Time
}

func NewRedisSaver(ctx context.Context, rdb redis.UniversalClient, ttl time.Duration) (*RedisSaver, error) {
	s := &RedisSaver{rdb: rdb, ttl: ttl, now: time.Now}
	if err := s.EnsureTTLIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func threadSuffix(threadID, ns string) string {
	return threadID + ":" + ns
}

func indexKey(threadID, ns string) string {
	return redisIndexPrefix + threadSuffix(threadID, ns)
}

func checkpointKey(suffix, id string) string {
	return redisCheckpointPrefix + suffix + ":" + id
}

func writesKey(suffix, id string) string {
	return redisWritesPrefix + suffix + ":" + id
}

func writeKey(suffix, id, taskID string, idx int) string {
	return fmt.Sprintf("%s%s:%s:%s:%d", redisWritePrefix, suffix, id, taskID, idx)
}

func (s *RedisSaver) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, k := range keys {
		pipe.Expire(ctx, k, s.ttl)
	}
}

// EnsureTTLIndex records the configured TTL. When it changed, every existing checkpoint key is re-expired.
func (s *RedisSaver) EnsureTTLIndex(ctx context.Context) error {
	want := strconv.FormatInt(int64(s.ttl/time.Second), 10)
	got, err := s.rdb.Get(ctx, redisTTLMetaKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read ttl index: %w", errx.WrapRedis(err))
	}
	if got == want {
		return nil
	}
	if got != "" {
		logx.Warn().Str("recorded", got).Str("configured", want).Msg("Checkpoint TTL changed, re-applying to existing keys")
	}

	for _, pattern := range []string{redisIndexPrefix + "*", redisCheckpointPrefix + "*", redisWritesPrefix + "*", redisWritePrefix + "*", redisThreadPrefix + "*"} {
		iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			var err error
			if s.ttl > 0 {
				err = s.rdb.Expire(ctx, iter.Val(), s.ttl).Err()
			} else {
				err = s.rdb.Persist(ctx, iter.Val()).Err()
			}
			if err != nil {
				return fmt.Errorf("re-apply ttl: %w", errx.WrapRedis(err))
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan checkpoint keys: %w", errx.WrapRedis(err))
		}
	}
	return errx.WrapRedis(s.rdb.Set(ctx, redisTTLMetaKey, want, 0).Err())
}

func (s *RedisSaver) Put(ctx context.Context, cfg Config, cp Checkpoint, md Metadata) (Config, error) {
	typ, blob, err := dumpsTyped(cp, false)
	if err != nil {
		return Config{}, errx.WrapCheckpointWrite(fmt.Errorf("encode checkpoint: %w", err))
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return Config{}, errx.WrapCheckpointWrite(fmt.Errorf("encode metadata: %w", err))
	}

	suffix := threadSuffix(cfg.ThreadID, cfg.Namespace)
	cpKey := checkpointKey(suffix, cp.ID)
	idxKey := indexKey(cfg.ThreadID, cfg.Namespace)
	thKey := redisThreadPrefix + cfg.ThreadID

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, cpKey, map[string]any{
			"thread_id":            cfg.ThreadID,
			"checkpoint_ns":        cfg.Namespace,
			"checkpoint_id":        cp.ID,
			"parent_checkpoint_id": cfg.CheckpointID,
			"type":                 typ,
			"checkpoint":           blob,
			"metadata":             mdJSON,
			"created_at":           s.now().UnixNano(),
		})
		pipe.ZAdd(ctx, idxKey, redis.Z{Score: 0, Member: cp.ID})
		pipe.SAdd(ctx, thKey, idxKey)
		s.expire(ctx, pipe, cpKey, idxKey, thKey)
		return nil
	})
	if err != nil {
		return Config{}, errx.WrapCheckpointWrite(errx.WrapRedis(err))
	}
	return Config{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: cp.ID}, nil
}

func (s *RedisSaver) PutWrites(ctx context.Context, cfg Config, writes []Write, taskID string) error {
	if cfg.CheckpointID == "" {
		return errx.WrapCheckpointWrite(errors.New("put writes: missing checkpoint id"))
	}
	suffix := threadSuffix(cfg.ThreadID, cfg.Namespace)
	setKey := writesKey(suffix, cfg.CheckpointID)
	now := s.now().UnixNano()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for idx, w := range writes {
			typ, blob, err := dumpsTyped(w.Value, false)
			if err != nil {
				return fmt.Errorf("encode write %d: %w", idx, err)
			}
			key := writeKey(suffix, cfg.CheckpointID, taskID, idx)
			pipe.HSet(ctx, key, map[string]any{
				"task_id":    taskID,
				"idx":        idx,
				"channel":    w.Channel,
				"type":       typ,
				"value":      blob,
				"created_at": now,
			})
			pipe.SAdd(ctx, setKey, key)
			s.expire(ctx, pipe, key)
		}
		s.expire(ctx, pipe, setKey)
		return nil
	})
	if err != nil {
		return errx.WrapCheckpointWrite(errx.WrapRedis(err))
	}
	return nil
}

func (s *RedisSaver) GetTuple(ctx context.Context, cfg Config) (*Tuple, error) {
	id := cfg.CheckpointID
	if id == "" {
		latest, err := s.ids(ctx, indexKey(cfg.ThreadID, cfg.Namespace), "")
		if err != nil {
			return nil, err
		}
		if len(latest) == 0 {
			return nil, nil
		}
		id = latest[0]
	}

	suffix := threadSuffix(cfg.ThreadID, cfg.Namespace)
	t, err := s.load(ctx, checkpointKey(suffix, id))
	if err != nil || t == nil {
		return t, err
	}

	writes, err := s.pendingWrites(ctx, writesKey(suffix, id))
	if err != nil {
		return nil, err
	}
	t.PendingWrites = writes
	return t, nil
}

// ids returns live checkpoint ids of one index, newest first, dropping members whose hash expired.
func (s *RedisSaver) ids(ctx context.Context, idxKey, before string) ([]string, error) {
	max := "+"
	if before != "" {
		max = "(" + before
	}
	members, err := s.rdb.ZRevRangeByLex(ctx, idxKey, &redis.ZRangeBy{Min: "-", Max: max}).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	suffix := strings.TrimPrefix(idxKey, redisIndexPrefix)
	pipe := s.rdb.Pipeline()
	exists := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		exists[i] = pipe.Exists(ctx, checkpointKey(suffix, m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errx.WrapRedis(err)
	}

	live := members[:0]
	var stale []any
	for i, m := range members {
		if exists[i].Val() == 0 {
			stale = append(stale, m)
			continue
		}
		live = append(live, m)
	}
	if len(stale) > 0 {
		if err := s.rdb.ZRem(ctx, idxKey, stale...).Err(); err != nil {
			logx.Warn().Err(err).Str("index", idxKey).Msg("Failed to prune expired checkpoint ids")
		}
	}
	return live, nil
}

func (s *RedisSaver) load(ctx context.Context, key string) (*Tuple, error) {
	h, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	if len(h) == 0 {
		return nil, nil
	}

	t := &Tuple{Config: Config{
		ThreadID:     h["thread_id"],
		Namespace:    h["checkpoint_ns"],
		CheckpointID: h["checkpoint_id"],
	}}
	if err := loadsTyped(h["type"], []byte(h["checkpoint"]), &t.Checkpoint); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("Unreadable checkpoint treated as missing")
		return nil, nil
	}
	if err := json.Unmarshal([]byte(h["metadata"]), &t.Metadata); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("Unreadable checkpoint metadata treated as missing")
		return nil, nil
	}
	if ns, err := strconv.ParseInt(h["created_at"], 10, 64); err == nil {
		t.CreatedAt = time.Unix(0, ns)
	}
	t.ParentConfig = parentOf(t.Config, h["parent_checkpoint_id"])
	return t, nil
}

func (s *RedisSaver) pendingWrites(ctx context.Context, setKey string) ([]PendingWrite, error) {
	keys, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errx.WrapRedis(err)
	}

	out := make([]PendingWrite, 0, len(keys))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		idx, _ := strconv.Atoi(h["idx"])
		pw := PendingWrite{TaskID: h["task_id"], Idx: idx}
		pw.Channel = h["channel"]
		if err := loadsTyped(h["type"], []byte(h["value"]), &pw.Value); err != nil {
			logx.Warn().Err(err).Str("task_id", pw.TaskID).Msg("Skipping unreadable pending write")
			continue
		}
		out = append(out, pw)
	}
	sortWrites(out)
	return out, nil
}

func (s *RedisSaver) List(ctx context.Context, cfg *Config, opts ListOptions) ([]*Tuple, error) {
	var indexes []string
	if cfg != nil {
		indexes = []string{indexKey(cfg.ThreadID, cfg.Namespace)}
	} else {
		iter := s.rdb.Scan(ctx, 0, redisIndexPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			indexes = append(indexes, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, errx.WrapRedis(err)
		}
	}

	before := ""
	if opts.Before != nil {
		before = opts.Before.CheckpointID
	}

	var tuples []*Tuple
	for _, idx := range indexes {
		ids, err := s.ids(ctx, idx, before)
		if err != nil {
			return nil, err
		}
		suffix := strings.TrimPrefix(idx, redisIndexPrefix)
		for _, id := range ids {
			t, err := s.load(ctx, checkpointKey(suffix, id))
			if err != nil {
				return nil, err
			}
			if t != nil {
				tuples = append(tuples, t)
			}
		}
	}
	return finishList(tuples, opts), nil
}

func (s *RedisSaver) DeleteThread(ctx context.Context, threadID string) error {
	thKey := redisThreadPrefix + threadID
	indexes, err := s.rdb.SMembers(ctx, thKey).Result()
	if err != nil {
		return errx.WrapRedis(err)
	}

	var keys []string
	for _, idx := range indexes {
		ids, err := s.rdb.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return errx.WrapRedis(err)
		}
		suffix := strings.TrimPrefix(idx, redisIndexPrefix)
		for _, id := range ids {
			wk := writesKey(suffix, id)
			members, err := s.rdb.SMembers(ctx, wk).Result()
			if err != nil {
				return errx.WrapRedis(err)
			}
			keys = append(keys, members...)
			keys = append(keys, wk, checkpointKey(suffix, id))
		}
		keys = append(keys, idx)
	}
	keys = append(keys, thKey)
	return errx.WrapRedis(s.rdb.Del(ctx, keys...).Err())
}
