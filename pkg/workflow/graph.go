package workflow

import "fmt"

// Transition is one row of the stage graph.
type Transition struct {
	From StageName
	On   OutcomeKind
	To   StageName

	// Retry marks a loop-back edge. The Router only follows it while the
	// RetryPolicy allows another attempt.
	Retry bool
}

// DefaultTransitions returns the canonical transition table.
// MarginGate has no retry edge: a below-threshold margin is flagged for
// review and never re-proposed.
func DefaultTransitions() []Transition {
	return []Transition{
		{From: StagePropose, On: OutcomeProposed, To: StageEquipmentCheck},
		{From: StagePropose, On: OutcomeNotFound, To: StageAbort},
		{From: StagePropose, On: OutcomeUnavailable, To: StageAbort},

		{From: StageEquipmentCheck, On: OutcomeApproved, To: StageComplianceCheck},
		{From: StageEquipmentCheck, On: OutcomeRejected, To: StagePropose, Retry: true},
		{From: StageEquipmentCheck, On: OutcomeUnavailable, To: StageAbort},

		{From: StageComplianceCheck, On: OutcomeApproved, To: StageCostCalculation},
		{From: StageComplianceCheck, On: OutcomeRejected, To: StagePropose, Retry: true},
		{From: StageComplianceCheck, On: OutcomeUnavailable, To: StageAbort},

		{From: StageCostCalculation, On: OutcomeComputed, To: StageMarginGate},

		{From: StageMarginGate, On: OutcomePass, To: StageExecute},
		{From: StageMarginGate, On: OutcomeBelow, To: StageFlag},
	}
}

// Graph is a validated transition table.
type Graph struct {
	entry StageName
	edges map[StageName]map[OutcomeKind]Transition
}

// NewGraph validates transitions and builds a graph rooted at entry.
func NewGraph(entry StageName, transitions []Transition) (*Graph, error) {
	if err := entry.Validate(); err != nil {
		return nil, NewConfigurationError("invalid entry stage", err)
	}
	if entry.IsTerminal() {
		return nil, NewConfigurationError(fmt.Sprintf("entry stage %s is terminal", entry), nil)
	}

	g := &Graph{
		entry: entry,
		edges: make(map[StageName]map[OutcomeKind]Transition),
	}

	for _, t := range transitions {
		if err := t.From.Validate(); err != nil {
			return nil, NewConfigurationError("invalid transition source", err)
		}
		if err := t.To.Validate(); err != nil {
			return nil, NewConfigurationError("invalid transition target", err)
		}
		if err := t.On.Validate(); err != nil {
			return nil, NewConfigurationError("invalid transition outcome", err)
		}
		if t.From.IsTerminal() {
			return nil, NewConfigurationError(
				fmt.Sprintf("terminal stage %s cannot have outgoing transitions", t.From), nil)
		}
		if t.Retry && t.To != entry {
			return nil, NewConfigurationError(
				fmt.Sprintf("retry edge %s/%s must loop back to %s", t.From, t.On, entry), nil)
		}
		if t.To == entry && !t.Retry {
			return nil, NewConfigurationError(
				fmt.Sprintf("edge %s/%s loops back to %s without a retry bound", t.From, t.On, entry), nil)
		}

		out, ok := g.edges[t.From]
		if !ok {
			out = make(map[OutcomeKind]Transition)
			g.edges[t.From] = out
		}
		if _, dup := out[t.On]; dup {
			return nil, NewConfigurationError(
				fmt.Sprintf("duplicate transition %s/%s", t.From, t.On), nil)
		}
		out[t.On] = t
	}

	// Every stage reachable from the entry must either be terminal or have a way out.
	for stage := range g.reachable() {
		if !stage.IsTerminal() && len(g.edges[stage]) == 0 {
			return nil, NewConfigurationError(
				fmt.Sprintf("stage %s has no outgoing transitions", stage), nil)
		}
	}

	return g, nil
}

// Entry returns the initial stage.
func (g *Graph) Entry() StageName {
	return g.entry
}

// Next returns the transition for (from, on).
func (g *Graph) Next(from StageName, on OutcomeKind) (Transition, bool) {
	t, ok := g.edges[from][on]
	return t, ok
}

// Transitions returns every transition leaving from.
func (g *Graph) Transitions(from StageName) []Transition {
	out := make([]Transition, 0, len(g.edges[from]))
	for _, t := range g.edges[from] {
		out = append(out, t)
	}
	return out
}

func (g *Graph) reachable() map[StageName]bool {
	seen := map[StageName]bool{g.entry: true}
	queue := []StageName{g.entry}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, t := range g.edges[s] {
			if !seen[t.To] {
				seen[t.To] = true
				queue = append(queue, t.To)
			}
		}
	}
	return seen
}
