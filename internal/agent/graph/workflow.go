package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/chattabot/agent/internal/agent/model"
)

// Handler runs one node and returns the partial state it wants written.
type Handler func(ctx context.Context, state *model.State, cfg model.RunConfig) (model.Update, error)

// Decider picks the outgoing event of a conditional node.
type Decider func(ctx context.Context, state *model.State, cfg model.RunConfig) (model.Event, error)

type branch struct {
	decide  Decider
	targets map[model.Event]model.Node
}

// Workflow collects nodes, edges and branches before Compile validates them.
type Workflow struct {
	handlers map[model.Node]Handler
	edges    map[model.Node]model.Node
	branches map[model.Node]branch
	errs     []error
}

func NewWorkflow() *Workflow {
	return &Workflow{
		handlers: map[model.Node]Handler{},
		edges:    map[model.Node]model.Node{},
		branches: map[model.Node]branch{},
	}
}

func (w *Workflow) AddNode(n model.Node, h Handler) {
	switch {
	case n == model.Start || n == model.End:
		w.errs = append(w.errs, fmt.Errorf("node %s is reserved", n))
	case h == nil:
		w.errs = append(w.errs, fmt.Errorf("node %s has no handler", n))
	case w.handlers[n] != nil:
		w.errs = append(w.errs, fmt.Errorf("node %s added twice", n))
	default:
		w.handlers[n] = h
	}
}

// AddEdge adds an unconditional transition. An edge from Start sets the entry node.
func (w *Workflow) AddEdge(from, to model.Node) {
	switch {
	case from == to:
		w.errs = append(w.errs, fmt.Errorf("node %s cannot be its own successor", from))
	case from == model.End:
		w.errs = append(w.errs, errors.New("end has no successors"))
	case w.hasOutgoing(from):
		w.errs = append(w.errs, fmt.Errorf("node %s already has an outgoing transition", from))
	default:
		w.edges[from] = to
	}
}

// AddBranch adds a conditional transition chosen by decide.
func (w *Workflow) AddBranch(from model.Node, decide Decider, targets map[model.Event]model.Node) {
	switch {
	case decide == nil || len(targets) == 0:
		w.errs = append(w.errs, fmt.Errorf("branch from %s needs a decider and targets", from))
	case from == model.End:
		w.errs = append(w.errs, errors.New("end has no successors"))
	case w.hasOutgoing(from):
		w.errs = append(w.errs, fmt.Errorf("node %s already has an outgoing transition", from))
	default:
		w.branches[from] = branch{decide: decide, targets: targets}
	}
}

// SetConditionalEntry routes Start through decide.
func (w *Workflow) SetConditionalEntry(decide Decider, targets map[model.Event]model.Node) {
	w.AddBranch(model.Start, decide, targets)
}

func (w *Workflow) hasOutgoing(n model.Node) bool {
	_, edge := w.edges[n]
	_, br := w.branches[n]
	return edge || br
}

func (w *Workflow) successors(n model.Node) []model.Node {
	if to, ok := w.edges[n]; ok {
		return []model.Node{to}
	}
	br, ok := w.branches[n]
	if !ok {
		return nil
	}
	out := make([]model.Node, 0, len(br.targets))
	for _, to := range br.targets {
		out = append(out, to)
	}
	return out
}

// Compile validates the workflow: every referenced node has a handler, every handler has an
// outgoing transition and is reachable, the entry exists and End is reachable.
func (w *Workflow) Compile() (*Graph, error) {
	errs := append([]error(nil), w.errs...)

	if !w.hasOutgoing(model.Start) {
		errs = append(errs, errors.New("entry point is not set"))
	}
	for from := range w.edges {
		if from != model.Start && w.handlers[from] == nil {
			errs = append(errs, fmt.Errorf("edge from unknown node %s", from))
		}
	}
	for from := range w.branches {
		if from != model.Start && w.handlers[from] == nil {
			errs = append(errs, fmt.Errorf("branch from unknown node %s", from))
		}
	}
	for _, n := range append([]model.Node{model.Start}, keys(w.handlers)...) {
		for _, to := range w.successors(n) {
			if to == model.Start {
				errs = append(errs, fmt.Errorf("node %s leads back to start", n))
			} else if to != model.End && w.handlers[to] == nil {
				errs = append(errs, fmt.Errorf("node %s leads to unknown node %s", n, to))
			}
		}
	}
	for n := range w.handlers {
		if !w.hasOutgoing(n) {
			errs = append(errs, fmt.Errorf("node %s has no outgoing transition", n))
		}
	}

	seen := map[model.Node]bool{model.Start: true}
	queue := []model.Node{model.Start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, to := range w.successors(n) {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	if !seen[model.End] {
		errs = append(errs, errors.New("end is not reachable"))
	}
	for n := range w.handlers {
		if !seen[n] {
			errs = append(errs, fmt.Errorf("node %s is not reachable", n))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return &Graph{handlers: w.handlers, edges: w.edges, branches: w.branches}, nil
}

func keys(m map[model.Node]Handler) []model.Node {
	out := make([]model.Node, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Graph is a validated transition table.
type Graph struct {
	handlers map[model.Node]Handler
	edges    map[model.Node]model.Node
	branches map[model.Node]branch
}

func (g *Graph) handler(n model.Node) (Handler, bool) {
	h, ok := g.handlers[n]
	return h, ok
}

// next resolves the successor of from for the current state.
func (g *Graph) next(ctx context.Context, from model.Node, state *model.State, cfg model.RunConfig) (model.Node, model.Event, error) {
	if to, ok := g.edges[from]; ok {
		return to, model.EventNext, nil
	}
	br, ok := g.branches[from]
	if !ok {
		return model.End, model.EventNext, fmt.Errorf("node %s has no transition", from)
	}
	ev, err := br.decide(ctx, state, cfg)
	if err != nil {
		return model.End, ev, fmt.Errorf("decide after %s: %w", from, err)
	}
	to, ok := br.targets[ev]
	if !ok {
		return model.End, ev, fmt.Errorf("node %s has no target for event %q", from, ev)
	}
	return to, ev, nil
}

// Nodes lists the graph's nodes.
func (g *Graph) Nodes() []model.Node {
	return keys(g.handlers)
}
