// Package checkpoint persists per-hop snapshots of a run and the writes each hop produced,
// so an interrupted run can be resumed or audited.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNoCheckpoint reports a thread without any readable checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Config addresses a thread, and optionally one checkpoint within it.
type Config struct {
	ThreadID     string `json:"thread_id"`
	Namespace    string `json:"checkpoint_ns"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Checkpoint is one snapshot. Values is opaque to the store.
type Checkpoint struct {
	ID     string          `json:"id"`
	TS     time.Time       `json:"ts"`
	Values json.RawMessage `json:"values"`
}

// Metadata is stored next to a checkpoint and can be matched by List filters.
type Metadata map[string]any

// Write is one channel assignment produced by a task.
type Write struct {
	Channel string          `json:"channel"`
	Value   json.RawMessage `json:"value"`
}

// PendingWrite is a Write recorded against a checkpoint before the next checkpoint exists.
type PendingWrite struct {
	TaskID string `json:"task_id"`
	Idx    int    `json:"idx"`
	Write
}

// Tuple is a checkpoint together with everything stored about it.
type Tuple struct {
	Config        Config
	Checkpoint    Checkpoint
	Metadata      Metadata
	ParentConfig  *Config
	PendingWrites []PendingWrite
	CreatedAt     time.Time
}

type ListOptions struct {
	// Filter keeps only checkpoints whose metadata has equal values for every key.
	Filter Metadata
	// Before keeps only checkpoints with an id strictly lower than Before.CheckpointID.
	Before *Config
	// Limit caps the number of results when positive.
	Limit int
}

// Saver is the checkpoint store contract.
type Saver interface {
	// Put upserts cp under cfg's thread and namespace; cfg.CheckpointID becomes the parent.
	Put(ctx context.Context, cfg Config, cp Checkpoint, md Metadata) (Config, error)
	// PutWrites upserts writes keyed by (checkpoint, taskID, index). Repeating a call does not duplicate.
	PutWrites(ctx context.Context, cfg Config, writes []Write, taskID string) error
	// GetTuple returns the requested checkpoint, or the latest one when cfg has no id. Nil when absent.
	GetTuple(ctx context.Context, cfg Config) (*Tuple, error)
	// List returns checkpoints newest first. A nil cfg lists every thread.
	List(ctx context.Context, cfg *Config, opts ListOptions) ([]*Tuple, error)
	// EnsureTTLIndex creates or repairs the expiry mechanism.
	EnsureTTLIndex(ctx context.Context) error
	// DeleteThread removes every checkpoint and write of a thread.
	DeleteThread(ctx context.Context, threadID string) error
}

// NewID returns a time ordered checkpoint id. Lexical order matches creation order.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// TaskID derives a stable task id for a node run on top of a checkpoint, so replays hit the same write keys.
func TaskID(checkpointID, node string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(checkpointID+":"+node)).String()
}

func (m Metadata) matches(filter Metadata) bool {
	for k, want := range filter {
		got, ok := m[k]
		if !ok {
			return false
		}
		a, errA := json.Marshal(got)
		b, errB := json.Marshal(want)
		if errA != nil || errB != nil || !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}

// finishList applies filter, before and limit to tuples sorted newest first.
func finishList(tuples []*Tuple, opts ListOptions) []*Tuple {
	sort.SliceStable(tuples, func(i, j int) bool {
		return tuples[i].Config.CheckpointID > tuples[j].Config.CheckpointID
	})
	out := tuples[:0]
	for _, t := range tuples {
		if opts.Before != nil && opts.Before.CheckpointID != "" && t.Config.CheckpointID >= opts.Before.CheckpointID {
			continue
		}
		if len(opts.Filter) > 0 && !t.Metadata.matches(opts.Filter) {
			continue
		}
		out = append(out, t)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

func sortWrites(writes []PendingWrite) {
	sort.Slice(writes, func(i, j int) bool {
		if writes[i].TaskID != writes[j].TaskID {
			return writes[i].TaskID < writes[j].TaskID
		}
		return writes[i].Idx < writes[j].Idx
	})
}

func parentOf(cfg Config, parentID string) *Config {
	if parentID == "" {
		return nil
	}
	return &Config{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: parentID}
}
