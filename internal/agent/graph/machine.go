package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chattabot/agent/internal/agent/checkpoint"
	"github.com/chattabot/agent/internal/agent/model"
	logx "github.com/chattabot/agent/pkg/logger"
	"github.com/cloudwego/eino/schema"
)

// ErrRecursionLimit is returned when a run needs more hops than RunConfig allows.
var ErrRecursionLimit = errors.New("recursion limit reached")

// Metadata sources recorded with every checkpoint.
const (
	SourceInput = "input"
	SourceLoop  = "loop"
)

// snapshot is the checkpoint payload.
type snapshot struct {
	State model.State `json:"state"`
	Next  model.Node  `json:"next"`
	Step  int         `json:"step"`
}

// Machine drives a Graph hop by hop and checkpoints after every hop.
type Machine struct {
	graph         *Graph
	saver         checkpoint.Saver
	now           func() time.Time
	freshMessages bool
}

type MachineOption func(*Machine)

// WithFreshMessages empties the messages channel when a run starts, so a run sees the thread's
// conversation only through its chat history.
func WithFreshMessages() MachineOption {
	return func(m *Machine) { m.freshMessages = true }
}

func NewMachine(g *Graph, saver checkpoint.Saver, opts ...MachineOption) *Machine {
	m := &Machine{graph: g, saver: saver, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func threadConfig(cfg model.RunConfig) checkpoint.Config {
	return checkpoint.Config{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: cfg.CheckpointID}
}

// Run starts a new run on the thread. The thread's latest state is the base; input and chat
// history replace their channels and any earlier response or error is cleared.
func (m *Machine) Run(ctx context.Context, in model.RunInput, cfg model.RunConfig) (*model.State, error) {
	base := model.State{}
	parent := threadConfig(cfg)
	tuple, err := m.saver.GetTuple(ctx, parent)
	if err != nil {
		logx.Warn().Err(err).Str("thread_id", cfg.ThreadID).Msg("failed to load latest checkpoint; starting fresh")
	} else if tuple != nil {
		snap, decErr := decodeSnapshot(tuple.Checkpoint.Values)
		if decErr != nil {
			logx.Warn().Err(decErr).Str("checkpoint_id", tuple.Config.CheckpointID).Msg("unreadable checkpoint; starting fresh")
		} else {
			base = snap.State
			parent = tuple.Config
		}
	}
	base.IsLastStep = false

	history := in.ChatHistory
	if history == nil {
		history = []*schema.Message{}
	}
	writes, err := model.Update{
		Input:          &in.Input,
		ChatHistory:    history,
		ForgetMessages: m.freshMessages,
		ClearResponse:  true,
		ClearError:     true,
	}.Writes()
	if err != nil {
		return nil, err
	}
	if parent.CheckpointID != "" {
		if err := m.saver.PutWrites(ctx, parent, toCheckpointWrites(writes), checkpoint.TaskID(parent.CheckpointID, model.Start.String())); err != nil {
			return nil, err
		}
	}
	if err := base.Apply(writes); err != nil {
		return nil, err
	}

	parent, err = m.put(ctx, parent, snapshot{State: base, Next: model.Start, Step: -1}, SourceInput, model.Start)
	if err != nil {
		return nil, err
	}
	return m.drive(ctx, &base, parent, model.Start, 0, cfg, nil)
}

// Resume continues the thread from its latest checkpoint. Writes already recorded for the pending
// node are folded in instead of running the node again.
func (m *Machine) Resume(ctx context.Context, cfg model.RunConfig) (*model.State, error) {
	tuple, err := m.saver.GetTuple(ctx, threadConfig(cfg))
	if err != nil {
		return nil, err
	}
	if tuple == nil {
		return nil, fmt.Errorf("thread %s: %w", cfg.ThreadID, checkpoint.ErrNoCheckpoint)
	}
	snap, err := decodeSnapshot(tuple.Checkpoint.Values)
	if err != nil {
		return nil, err
	}
	state := snap.State
	if snap.Next == model.End {
		return &state, nil
	}

	var pending []model.Write
	task := checkpoint.TaskID(tuple.Config.CheckpointID, snap.Next.String())
	for _, w := range tuple.PendingWrites {
		if w.TaskID == task {
			pending = append(pending, model.Write{Channel: model.Channel(w.Channel), Value: w.Value})
		}
	}
	return m.drive(ctx, &state, tuple.Config, snap.Next, snap.Step+1, cfg, pending)
}

func (m *Machine) drive(ctx context.Context, state *model.State, parent checkpoint.Config, next model.Node, step int, cfg model.RunConfig, replay []model.Write) (*model.State, error) {
	limit := cfg.Limit()

	if next == model.Start {
		to, ev, err := m.graph.next(ctx, model.Start, state, cfg)
		if err != nil {
			return state, err
		}
		logx.Debug().Str("thread_id", cfg.ThreadID).Str("event", ev.String()).Str("next", to.String()).Msg("entry routed")
		next = to
	}

	for next != model.End {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if step >= limit {
			logx.Warn().Str("thread_id", cfg.ThreadID).Int("limit", limit).Str("node", next.String()).Msg("recursion limit reached")
			return state, fmt.Errorf("%w (%d) at %s", ErrRecursionLimit, limit, next)
		}
		// one hop must remain after the last step so a node can still record its final reply
		state.IsLastStep = step+2 >= limit

		node := next
		writes := replay
		replay = nil
		if writes == nil {
			h, ok := m.graph.handler(node)
			if !ok {
				return state, fmt.Errorf("node %s has no handler", node)
			}
			upd, err := h(ctx, state, cfg)
			if err != nil {
				return state, fmt.Errorf("node %s: %w", node, err)
			}
			writes, err = upd.Writes()
			if err != nil {
				return state, fmt.Errorf("node %s: %w", node, err)
			}
			if len(writes) > 0 {
				if err := m.saver.PutWrites(ctx, parent, toCheckpointWrites(writes), checkpoint.TaskID(parent.CheckpointID, node.String())); err != nil {
					return state, err
				}
			}
		}
		if err := state.Apply(writes); err != nil {
			return state, fmt.Errorf("node %s: %w", node, err)
		}

		to, ev, err := m.graph.next(ctx, node, state, cfg)
		if err != nil {
			return state, err
		}
		logx.Debug().
			Str("thread_id", cfg.ThreadID).
			Int("step", step).
			Str("node", node.String()).
			Str("event", ev.String()).
			Str("next", to.String()).
			Msg("hop")

		parent, err = m.put(ctx, parent, snapshot{State: *state, Next: to, Step: step}, SourceLoop, node)
		if err != nil {
			return state, err
		}
		next = to
		step++
	}
	return state, nil
}

func (m *Machine) put(ctx context.Context, parent checkpoint.Config, snap snapshot, source string, node model.Node) (checkpoint.Config, error) {
	id, err := checkpoint.NewID()
	if err != nil {
		return parent, fmt.Errorf("checkpoint id: %w", err)
	}
	values, err := json.Marshal(snap)
	if err != nil {
		return parent, fmt.Errorf("encode snapshot: %w", err)
	}
	return m.saver.Put(ctx, parent, checkpoint.Checkpoint{ID: id, TS: m.now().UTC(), Values: values}, checkpoint.Metadata{
		"source": source,
		"step":   snap.Step,
		"node":   node.String(),
	})
}

func decodeSnapshot(raw json.RawMessage) (snapshot, error) {
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toCheckpointWrites(writes []model.Write) []checkpoint.Write {
	out := make([]checkpoint.Write, 0, len(writes))
	for _, w := range writes {
		out = append(out, checkpoint.Write{Channel: string(w.Channel), Value: w.Value})
	}
	return out
}

// HistoryEntry is one checkpoint of a thread, newest first in History results.
type HistoryEntry struct {
	CheckpointID string      `json:"checkpoint_id"`
	ParentID     string      `json:"parent_checkpoint_id,omitempty"`
	Source       string      `json:"source"`
	Step         int         `json:"step"`
	Node         string      `json:"node"`
	Next         model.Node  `json:"next"`
	State        model.State `json:"state"`
	CreatedAt    time.Time   `json:"created_at"`
}

// History walks the thread's checkpoints newest first.
func (m *Machine) History(ctx context.Context, cfg model.RunConfig, limit int) ([]HistoryEntry, error) {
	c := threadConfig(cfg)
	c.CheckpointID = ""
	tuples, err := m.saver.List(ctx, &c, checkpoint.ListOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(tuples))
	for _, t := range tuples {
		snap, err := decodeSnapshot(t.Checkpoint.Values)
		if err != nil {
			logx.Warn().Err(err).Str("checkpoint_id", t.Config.CheckpointID).Msg("skipping unreadable checkpoint")
			continue
		}
		e := HistoryEntry{
			CheckpointID: t.Config.CheckpointID,
			Step:         snap.Step,
			Next:         snap.Next,
			State:        snap.State,
			CreatedAt:    t.CreatedAt,
		}
		if t.ParentConfig != nil {
			e.ParentID = t.ParentConfig.CheckpointID
		}
		e.Source, _ = t.Metadata["source"].(string)
		e.Node, _ = t.Metadata["node"].(string)
		out = append(out, e)
	}
	return out, nil
}
