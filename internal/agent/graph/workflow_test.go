package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chattabot/agent/internal/agent/model"
)

func noop(context.Context, *model.State, model.RunConfig) (model.Update, error) {
	return model.Update{}, nil
}

func always(ev model.Event) Decider {
	return func(context.Context, *model.State, model.RunConfig) (model.Event, error) { return ev, nil }
}

func TestCompileValidWorkflow(t *testing.T) {
	w := NewWorkflow()
	w.AddNode(model.ProcessQuery, noop)
	w.AddNode(model.SingleShotAnswer, noop)
	w.AddEdge(model.Start, model.ProcessQuery)
	w.AddBranch(model.ProcessQuery, always(model.EventExit), map[model.Event]model.Node{
		model.EventExit:     model.SingleShotAnswer,
		model.EventContinue: model.ProcessQuery,
	})
	w.AddEdge(model.SingleShotAnswer, model.End)

	g, err := w.Compile()
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.Node{model.ProcessQuery, model.SingleShotAnswer}, g.Nodes())
}

func TestCompileRejectsInvalidWorkflows(t *testing.T) {
	cases := []struct {
		name  string
		build func(w *Workflow)
		want  string
	}{
		{
			name:  "no entry",
			build: func(w *Workflow) { w.AddNode(model.SingleShotAnswer, noop); w.AddEdge(model.SingleShotAnswer, model.End) },
			want:  "entry point is not set",
		},
		{
			name: "dangling edge",
			build: func(w *Workflow) {
				w.AddEdge(model.Start, model.SingleShotAnswer)
			},
			want: "leads to unknown node answer",
		},
		{
			name: "self edge",
			build: func(w *Workflow) {
				w.AddNode(model.SingleShotAnswer, noop)
				w.AddEdge(model.Start, model.SingleShotAnswer)
				w.AddEdge(model.SingleShotAnswer, model.SingleShotAnswer)
			},
			want: "cannot be its own successor",
		},
		{
			name: "dead end",
			build: func(w *Workflow) {
				w.AddNode(model.SingleShotAnswer, noop)
				w.AddEdge(model.Start, model.SingleShotAnswer)
			},
			want: "no outgoing transition",
		},
		{
			name: "unreachable node",
			build: func(w *Workflow) {
				w.AddNode(model.SingleShotAnswer, noop)
				w.AddNode(model.Planner, noop)
				w.AddEdge(model.Start, model.SingleShotAnswer)
				w.AddEdge(model.SingleShotAnswer, model.End)
				w.AddEdge(model.Planner, model.End)
			},
			want: "node planner is not reachable",
		},
		{
			name: "end unreachable",
			build: func(w *Workflow) {
				w.AddNode(model.Agent, noop)
				w.AddNode(model.Tools, noop)
				w.AddEdge(model.Start, model.Agent)
				w.AddEdge(model.Agent, model.Tools)
				w.AddEdge(model.Tools, model.Agent)
			},
			want: "end is not reachable",
		},
		{
			name: "reserved node",
			build: func(w *Workflow) {
				w.AddNode(model.End, noop)
				w.AddEdge(model.Start, model.End)
			},
			want: "reserved",
		},
		{
			name: "two outgoing transitions",
			build: func(w *Workflow) {
				w.AddNode(model.SingleShotAnswer, noop)
				w.AddEdge(model.Start, model.SingleShotAnswer)
				w.AddEdge(model.SingleShotAnswer, model.End)
				w.AddBranch(model.SingleShotAnswer, always(model.EventExit), map[model.Event]model.Node{model.EventExit: model.End})
			},
			want: "already has an outgoing transition",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWorkflow()
			tc.build(w)
			_, err := w.Compile()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestGraphNextUnknownEvent(t *testing.T) {
	w := NewWorkflow()
	w.AddNode(model.SingleShotAnswer, noop)
	w.SetConditionalEntry(always(model.EventCallTools), map[model.Event]model.Node{model.EventExit: model.SingleShotAnswer})
	w.AddEdge(model.SingleShotAnswer, model.End)
	g, err := w.Compile()
	require.NoError(t, err)

	_, _, err = g.next(context.Background(), model.Start, &model.State{}, model.RunConfig{})
	assert.ErrorContains(t, err, "no target for event")
}
