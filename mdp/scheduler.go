package mdp

import (
	"fmt"
	"strings"
)

// Scheduler resolves all nondeterminism: one chosen action index per
// state, within that state's action count.
type Scheduler struct {
	choices []int
}

// Choice returns the chosen local action index for the given state.
func (s Scheduler) Choice(state int) int { return s.choices[state] }

func (s Scheduler) Len() int { return len(s.choices) }

func (s Scheduler) String() string {
	parts := make([]string, len(s.choices))
	for state, c := range s.choices {
		parts[state] = fmt.Sprintf("%d->%d", state, c)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// computeExtremalScheduler picks, per state, the action attaining the
// extremal one-step lookahead of the final result vector, breaking ties
// towards the lowest action index. For reward properties the lookahead
// additionally carries the expected transition reward of the row and the
// state's own reward.
func computeExtremalScheduler(minimize bool, transitions *SparseMatrix, rowGroupIndices []int, result []float64, stateRewards []float64, transitionRewards *SparseMatrix) Scheduler {
	var rowRewards []float64
	if transitionRewards != nil {
		rowRewards = transitions.PointwiseProductRowSums(transitionRewards)
	}

	numStates := len(rowGroupIndices) - 1
	choices := make([]int, numStates)
	for s := 0; s < numStates; s++ {
		best := 0.0
		for r := rowGroupIndices[s]; r < rowGroupIndices[s+1]; r++ {
			v := transitions.MultiplyRow(r, result)
			if rowRewards != nil {
				v += rowRewards[r]
			}
			if stateRewards != nil {
				v += stateRewards[s]
			}
			if r == rowGroupIndices[s] {
				best = v
			} else if (minimize && v < best) || (!minimize && v > best) {
				best = v
				choices[s] = r - rowGroupIndices[s]
			}
		}
	}
	return Scheduler{choices: choices}
}

// InducedModel collapses the MDP to the Markov chain obtained by fixing
// the scheduler's choice in every state. Rewards follow the chosen rows.
func (m *Mdp) InducedModel(scheduler Scheduler) (*Mdp, error) {
	if scheduler.Len() != m.numStates {
		return nil, fmt.Errorf("%w: scheduler covers %d states, model has %d", ErrInvalidArgument, scheduler.Len(), m.numStates)
	}
	b := NewModelBuilder(m.numStates)
	for s := 0; s < m.numStates; s++ {
		choice := scheduler.Choice(s)
		if choice < 0 || m.rowGroupIndices[s]+choice >= m.rowGroupIndices[s+1] {
			return nil, fmt.Errorf("%w: state %d has no action %d", ErrInvalidArgument, s, choice)
		}
		row := m.rowGroupIndices[s] + choice
		branches := make([]Branch, 0, len(m.transitions.Row(row)))
		for _, e := range m.transitions.Row(row) {
			br := Branch{To: e.Column, Probability: e.Value}
			if m.transitionRewards != nil {
				for _, re := range m.transitionRewards.Row(row) {
					if re.Column == e.Column {
						br.Reward = re.Value
					}
				}
			}
			branches = append(branches, br)
		}
		b.AddAction(s, branches...)
		if m.stateRewards != nil {
			b.SetStateReward(s, m.stateRewards[s])
		}
	}
	b.SetInitial(m.initialStates.Indices()...)
	for name, states := range m.labels {
		b.AddLabel(name, states.Indices()...)
	}
	return b.Build()
}
