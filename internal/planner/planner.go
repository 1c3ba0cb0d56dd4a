// Package planner produces cost-minimal action sequences over the catalog's
// implicit state graph using best-first search.
package planner

import (
	"container/heap"
	"fmt"
	"log/slog"
	"time"

	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/internal/metrics"
	"github.com/flexinfer/goalflow/pkg/types"
)

// Planning failure reasons. Both are distinct, user-visible conditions.
const (
	ReasonNoPlan         = "no plan found"
	ReasonIterationLimit = "iteration limit exceeded"
)

// PlanningError is returned when no plan can be produced. It is always
// fatal to a run and is raised before any action executes.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return "planning: " + e.Reason
}

// DefaultMaxIterations caps the number of node expansions per search.
const DefaultMaxIterations = 5000

// Config holds planner configuration.
type Config struct {
	// MaxIterations limits node expansions before the search aborts
	// (0 = DefaultMaxIterations).
	MaxIterations int
}

// Planner searches the catalog's state space.
type Planner struct {
	catalog       *catalog.Catalog
	maxIterations int
	logger        *slog.Logger
}

// New creates a planner over the given catalog.
func New(cat *catalog.Catalog, cfg *Config, logger *slog.Logger) *Planner {
	if cfg == nil {
		cfg = &Config{}
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{catalog: cat, maxIterations: maxIter, logger: logger}
}

// node is one entry in the search frontier. The back-pointers reconstruct
// the action sequence once a goal-satisfying node is popped.
type node struct {
	state  types.State
	g      float64 // cumulative cost from start
	h      float64 // heuristic estimate of remaining cost
	action *types.Action
	parent *node
	seq    int64 // insertion order, breaks f ties deterministically
	index  int   // heap bookkeeping
}

func (n *node) f() float64 { return n.g + n.h }

// frontier is a min-heap ordered by ascending f, ties by insertion order.
type frontier []*node

func (q frontier) Len() int { return len(q) }

func (q frontier) Less(i, j int) bool {
	if q[i].f() != q[j].f() {
		return q[i].f() < q[j].f()
	}
	return q[i].seq < q[j].seq
}

func (q frontier) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *frontier) Push(x any) {
	n := x.(*node)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *frontier) Pop() any {
	old := *q
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	*q = old[:last]
	return n
}

// Plan returns a cost-minimal, ordered action sequence transforming start
// into a state satisfying goal. An already-satisfied goal yields an empty
// plan. Fails with *PlanningError when the frontier empties (unreachable
// goal) or the iteration cap is hit (pathological catalog).
func (p *Planner) Plan(start types.State, goal types.Partial) (*types.Plan, error) {
	began := time.Now()
	est := newEstimator(p.catalog, goal)
	actions := p.catalog.Actions()

	var seq int64
	open := &frontier{}
	heap.Init(open)

	root := &node{state: start, h: est.estimate(start), seq: seq}
	heap.Push(open, root)

	// bestG tracks the cheapest known cost to each state key; it doubles
	// as the closed set: a state re-reached at equal or higher cost is
	// discarded.
	bestG := map[string]float64{start.Key(): 0}

	expanded := 0
	for open.Len() > 0 {
		if expanded >= p.maxIterations {
			p.observe(began, "iteration_limit", expanded)
			return nil, &PlanningError{Reason: ReasonIterationLimit}
		}
		current := heap.Pop(open).(*node)
		expanded++

		if current.state.Satisfies(goal) {
			plan := reconstruct(current)
			p.logger.Debug("plan found",
				slog.Int("actions", plan.Len()),
				slog.Float64("cost", plan.TotalCost()),
				slog.Int("expanded", expanded),
			)
			p.observe(began, "found", expanded)
			return plan, nil
		}

		for i := range actions {
			a := &actions[i]
			if !a.Applicable(current.state) {
				continue
			}
			succ := a.Apply(current.state)
			g := current.g + a.Cost
			key := succ.Key()
			if prev, seen := bestG[key]; seen && prev <= g {
				continue
			}
			bestG[key] = g
			seq++
			heap.Push(open, &node{
				state:  succ,
				g:      g,
				h:      est.estimate(succ),
				action: a,
				parent: current,
				seq:    seq,
			})
		}
	}

	p.observe(began, "exhausted", expanded)
	return nil, &PlanningError{Reason: ReasonNoPlan}
}

func reconstruct(n *node) *types.Plan {
	var reversed []types.Action
	for cur := n; cur.action != nil; cur = cur.parent {
		reversed = append(reversed, *cur.action)
	}
	actions := make([]types.Action, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		actions = append(actions, reversed[i])
	}
	return &types.Plan{Actions: actions}
}

func (p *Planner) observe(began time.Time, outcome string, expanded int) {
	metrics.PlansTotal.WithLabelValues(outcome).Inc()
	metrics.PlanDuration.WithLabelValues(outcome).Observe(time.Since(began).Seconds())
	metrics.PlanNodesExpanded.Observe(float64(expanded))
}

// Describe returns a short human-readable summary of a plan, used in logs
// and plan events.
func Describe(plan *types.Plan) string {
	if plan.Len() == 0 {
		return "(empty plan)"
	}
	out := ""
	for i := range plan.Actions {
		if i > 0 {
			out += " -> "
		}
		out += plan.Actions[i].Name
	}
	return fmt.Sprintf("%s (cost %g)", out, plan.TotalCost())
}
