// Package catalog holds the static registry of actions available to the
// planner, together with the world-state schema they operate on.
package catalog

import (
	"fmt"
	"sort"

	"github.com/flexinfer/goalflow/pkg/types"
)

// Catalog is the validated, immutable action registry for one deployment.
// Action order is the registration order; the planner relies on it for
// deterministic tie-breaking.
type Catalog struct {
	schema  *types.Schema
	actions []types.Action
	byName  map[string]int
}

// New validates the actions against the schema and builds a catalog.
func New(schema *types.Schema, actions []types.Action) (*Catalog, error) {
	if schema == nil {
		return nil, fmt.Errorf("catalog: schema is required")
	}

	byName := make(map[string]int, len(actions))
	for i := range actions {
		a := &actions[i]
		if a.Name == "" {
			return nil, fmt.Errorf("catalog: action %d has no name", i)
		}
		if _, dup := byName[a.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate action %q", a.Name)
		}
		if a.AgentID == "" {
			return nil, fmt.Errorf("catalog: action %q has no agent id", a.Name)
		}
		if a.Cost < 0 {
			return nil, fmt.Errorf("catalog: action %q has negative cost %g", a.Name, a.Cost)
		}
		if len(a.Effects) == 0 {
			return nil, fmt.Errorf("catalog: action %q has no effects", a.Name)
		}
		if err := schema.Check(a.Preconditions); err != nil {
			return nil, fmt.Errorf("catalog: action %q preconditions: %w", a.Name, err)
		}
		if err := schema.Check(a.Effects); err != nil {
			return nil, fmt.Errorf("catalog: action %q effects: %w", a.Name, err)
		}
		if !makesProgress(a) {
			return nil, fmt.Errorf("catalog: action %q effects change nothing its preconditions do not already require", a.Name)
		}
		byName[a.Name] = i
	}

	return &Catalog{
		schema:  schema,
		actions: append([]types.Action(nil), actions...),
		byName:  byName,
	}, nil
}

// makesProgress rejects degenerate actions whose effects only restate their
// own preconditions: such an action can never move the search forward.
func makesProgress(a *types.Action) bool {
	for field, v := range a.Effects {
		req, ok := a.Preconditions[field]
		if !ok || !req.Equal(v) {
			return true
		}
	}
	return false
}

// Schema returns the world-state schema.
func (c *Catalog) Schema() *types.Schema { return c.schema }

// Actions returns the actions in registration order. The slice is shared;
// callers must not modify it.
func (c *Catalog) Actions() []types.Action { return c.actions }

// Lookup returns the action with the given name.
func (c *Catalog) Lookup(name string) (types.Action, bool) {
	i, ok := c.byName[name]
	if !ok {
		return types.Action{}, false
	}
	return c.actions[i], true
}

// AgentIDs returns the distinct agent ids referenced by the catalog, sorted.
// The engine validates its executor registry against this set at startup.
func (c *Catalog) AgentIDs() []string {
	seen := make(map[string]bool)
	for i := range c.actions {
		seen[c.actions[i].AgentID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UnreachablePreconditions reports precondition requirements that neither
// hold in start nor are produced by any action's effect. Plans through such
// actions cannot exist; surfacing them early gives a better diagnostic than
// an eventual "no plan found".
func (c *Catalog) UnreachablePreconditions(start types.State) []string {
	var out []string
	for i := range c.actions {
		a := &c.actions[i]
		for field, want := range a.Preconditions {
			if got, ok := start.Get(field); ok && got.Equal(want) {
				continue
			}
			if c.producible(field, want) {
				continue
			}
			out = append(out, fmt.Sprintf("%s: %s=%s", a.Name, field, want))
		}
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) producible(field string, want types.Value) bool {
	for i := range c.actions {
		if v, ok := c.actions[i].Effects[field]; ok && v.Equal(want) {
			return true
		}
	}
	return false
}
