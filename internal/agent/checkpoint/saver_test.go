package checkpoint

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckpoint(t *testing.T, values string) Checkpoint {
	t.Helper()
	id, err := NewID()
	require.NoError(t, err)
	return Checkpoint{ID: id, TS: time.Now().UTC(), Values: json.RawMessage(values)}
}

// runSaverContract exercises the behaviour every Saver must share.
func runSaverContract(t *testing.T, newSaver func(t *testing.T) Saver) {
	ctx := context.Background()

	t.Run("missing thread yields nil", func(t *testing.T) {
		s := newSaver(t)
		tup, err := s.GetTuple(ctx, Config{ThreadID: "nobody"})
		require.NoError(t, err)
		assert.Nil(t, tup)
	})

	t.Run("latest and parent chain", func(t *testing.T) {
		s := newSaver(t)
		cfg := Config{ThreadID: "t1"}

		first := newCheckpoint(t, `{"n":1}`)
		cfg1, err := s.Put(ctx, cfg, first, Metadata{"source": "input", "step": -1})
		require.NoError(t, err)
		assert.Equal(t, first.ID, cfg1.CheckpointID)

		second := newCheckpoint(t, `{"n":2}`)
		cfg2, err := s.Put(ctx, cfg1, second, Metadata{"source": "loop", "step": 0})
		require.NoError(t, err)

		latest, err := s.GetTuple(ctx, cfg)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, second.ID, latest.Checkpoint.ID)
		assert.JSONEq(t, `{"n":2}`, string(latest.Checkpoint.Values))
		require.NotNil(t, latest.ParentConfig)
		assert.Equal(t, first.ID, latest.ParentConfig.CheckpointID)

		parent, err := s.GetTuple(ctx, *latest.ParentConfig)
		require.NoError(t, err)
		require.NotNil(t, parent)
		assert.Nil(t, parent.ParentConfig)
		assert.Equal(t, "input", parent.Metadata["source"])

		exact, err := s.GetTuple(ctx, cfg2)
		require.NoError(t, err)
		assert.Equal(t, second.ID, exact.Config.CheckpointID)
	})

	t.Run("put is an upsert", func(t *testing.T) {
		s := newSaver(t)
		cp := newCheckpoint(t, `{"v":"a"}`)
		cfg := Config{ThreadID: "t2"}
		_, err := s.Put(ctx, cfg, cp, Metadata{})
		require.NoError(t, err)
		cp.Values = json.RawMessage(`{"v":"b"}`)
		_, err = s.Put(ctx, cfg, cp, Metadata{})
		require.NoError(t, err)

		all, err := s.List(ctx, &cfg, ListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.JSONEq(t, `{"v":"b"}`, string(all[0].Checkpoint.Values))
	})

	t.Run("pending writes are idempotent", func(t *testing.T) {
		s := newSaver(t)
		cp := newCheckpoint(t, `{}`)
		cfg, err := s.Put(ctx, Config{ThreadID: "t3"}, cp, Metadata{})
		require.NoError(t, err)

		writes := []Write{
			{Channel: "messages", Value: json.RawMessage(`["hi"]`)},
			{Channel: "response", Value: json.RawMessage(`"done"`)},
		}
		task := TaskID(cp.ID, "agent")
		require.NoError(t, s.PutWrites(ctx, cfg, writes, task))
		require.NoError(t, s.PutWrites(ctx, cfg, writes, task))

		tup, err := s.GetTuple(ctx, cfg)
		require.NoError(t, err)
		require.Len(t, tup.PendingWrites, 2)
		assert.Equal(t, "messages", tup.PendingWrites[0].Channel)
		assert.Equal(t, 0, tup.PendingWrites[0].Idx)
		assert.Equal(t, task, tup.PendingWrites[1].TaskID)
		assert.JSONEq(t, `"done"`, string(tup.PendingWrites[1].Value))
	})

	t.Run("put writes requires a checkpoint id", func(t *testing.T) {
		s := newSaver(t)
		err := s.PutWrites(ctx, Config{ThreadID: "t4"}, []Write{{Channel: "x", Value: json.RawMessage(`1`)}}, "task")
		assert.Error(t, err)
	})

	t.Run("list filter before limit", func(t *testing.T) {
		s := newSaver(t)
		cfg := Config{ThreadID: "t5", Namespace: "ns"}
		var ids []string
		for i := 0; i < 5; i++ {
			src := "loop"
			if i == 0 {
				src = "input"
			}
			cp := newCheckpoint(t, `{}`)
			next, err := s.Put(ctx, cfg, cp, Metadata{"source": src, "step": i})
			require.NoError(t, err)
			cfg = next
			ids = append(ids, cp.ID)
		}
		thread := &Config{ThreadID: "t5", Namespace: "ns"}

		all, err := s.List(ctx, thread, ListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, ids[4], all[0].Config.CheckpointID)
		assert.Equal(t, ids[0], all[4].Config.CheckpointID)

		loops, err := s.List(ctx, thread, ListOptions{Filter: Metadata{"source": "loop"}, Limit: 2})
		require.NoError(t, err)
		require.Len(t, loops, 2)
		assert.Equal(t, ids[4], loops[0].Config.CheckpointID)
		assert.Equal(t, ids[3], loops[1].Config.CheckpointID)

		older, err := s.List(ctx, thread, ListOptions{Before: &Config{CheckpointID: ids[2]}})
		require.NoError(t, err)
		require.Len(t, older, 2)
		assert.Equal(t, ids[1], older[0].Config.CheckpointID)

		step, err := s.List(ctx, thread, ListOptions{Filter: Metadata{"step": 3}})
		require.NoError(t, err)
		require.Len(t, step, 1)
		assert.Equal(t, ids[3], step[0].Config.CheckpointID)

		other, err := s.List(ctx, &Config{ThreadID: "t5"}, ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("list without config spans threads", func(t *testing.T) {
		s := newSaver(t)
		_, err := s.Put(ctx, Config{ThreadID: "a"}, newCheckpoint(t, `{}`), Metadata{})
		require.NoError(t, err)
		_, err = s.Put(ctx, Config{ThreadID: "b"}, newCheckpoint(t, `{}`), Metadata{})
		require.NoError(t, err)

		all, err := s.List(ctx, nil, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
		assert.Equal(t, "b", all[0].Config.ThreadID)
	})

	t.Run("delete thread", func(t *testing.T) {
		s := newSaver(t)
		cp := newCheckpoint(t, `{}`)
		cfg, err := s.Put(ctx, Config{ThreadID: "gone"}, cp, Metadata{})
		require.NoError(t, err)
		require.NoError(t, s.PutWrites(ctx, cfg, []Write{{Channel: "c", Value: json.RawMessage(`1`)}}, "task"))
		_, err = s.Put(ctx, Config{ThreadID: "kept"}, newCheckpoint(t, `{}`), Metadata{})
		require.NoError(t, err)

		require.NoError(t, s.DeleteThread(ctx, "gone"))

		tup, err := s.GetTuple(ctx, Config{ThreadID: "gone"})
		require.NoError(t, err)
		assert.Nil(t, tup)
		kept, err := s.GetTuple(ctx, Config{ThreadID: "kept"})
		require.NoError(t, err)
		assert.NotNil(t, kept)
	})

	t.Run("ensure ttl index is idempotent", func(t *testing.T) {
		s := newSaver(t)
		require.NoError(t, s.EnsureTTLIndex(ctx))
		require.NoError(t, s.EnsureTTLIndex(ctx))
	})
}

func TestIDsAreOrdered(t *testing.T) {
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := NewID()
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestTaskIDIsStable(t *testing.T) {
	assert.Equal(t, TaskID("cp", "agent"), TaskID("cp", "agent"))
	assert.NotEqual(t, TaskID("cp", "agent"), TaskID("cp", "tools"))
}

func TestSerdeRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		typ, blob, err := dumpsTyped(map[string]int{"a": 1}, compress)
		require.NoError(t, err)
		var out map[string]int
		require.NoError(t, loadsTyped(typ, blob, &out))
		assert.Equal(t, 1, out["a"])
	}
	assert.Error(t, loadsTyped("pickle", nil, &struct{}{}))
}
