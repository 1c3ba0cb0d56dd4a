package types

// Action is one catalog entry: a pipeline step the planner may schedule.
// Cost is static; it does not depend on the state the action is applied to.
type Action struct {
	Name          string  `json:"name"`
	AgentID       string  `json:"agent_id"`
	Cost          float64 `json:"cost"`
	Preconditions Partial `json:"preconditions,omitempty"`
	Effects       Partial `json:"effects"`
	Description   string  `json:"description,omitempty"`
}

// Applicable reports whether the action's preconditions hold in s.
func (a *Action) Applicable(s State) bool {
	return s.Satisfies(a.Preconditions)
}

// Apply returns the successor state produced by merging the action's static
// effects into s.
func (a *Action) Apply(s State) State {
	return s.With(a.Effects)
}

// Plan is an ordered sequence of actions. Applying each action's effects in
// order from the initial state yields a goal-satisfying state, and at every
// prefix the next action's preconditions hold.
type Plan struct {
	Actions []Action `json:"actions"`
}

// TotalCost sums the static costs of all actions in the plan.
func (p *Plan) TotalCost() float64 {
	var total float64
	for i := range p.Actions {
		total += p.Actions[i].Cost
	}
	return total
}

// Len returns the number of actions in the plan.
func (p *Plan) Len() int { return len(p.Actions) }
