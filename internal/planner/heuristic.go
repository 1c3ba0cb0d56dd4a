package planner

import (
	"math"

	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/pkg/types"
)

// estimator is the backward-chaining heuristic: for every goal field a
// candidate state has not yet satisfied, charge the cheapest catalog action
// whose effect would satisfy it. Costs are non-negative and each unmet
// field needs at least one action, so the sum is a lower bound on the true
// remaining cost as long as actions are not double-counted across fields
// they jointly satisfy.
type estimator struct {
	goal types.Partial
	// minCost[field] is the cheapest action cost that sets field to the
	// goal's required value; +Inf when no action produces it.
	minCost map[string]float64
}

func newEstimator(cat *catalog.Catalog, goal types.Partial) *estimator {
	minCost := make(map[string]float64, len(goal))
	actions := cat.Actions()
	for field, want := range goal {
		best := math.Inf(1)
		for i := range actions {
			v, ok := actions[i].Effects[field]
			if !ok || !v.Equal(want) {
				continue
			}
			if actions[i].Cost < best {
				best = actions[i].Cost
			}
		}
		minCost[field] = best
	}
	return &estimator{goal: goal, minCost: minCost}
}

// estimate returns the heuristic value for s. A state satisfying the goal
// estimates zero; a goal field no action can produce estimates +Inf, which
// orders the node after every finite candidate.
func (e *estimator) estimate(s types.State) float64 {
	var h float64
	for field, want := range e.goal {
		if got, ok := s.Get(field); ok && got.Equal(want) {
			continue
		}
		h += e.minCost[field]
	}
	return h
}
