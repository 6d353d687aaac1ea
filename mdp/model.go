package mdp

import (
	"fmt"
	"math"
)

// probabilityTolerance is the slack allowed when validating that action
// rows are sub-probability distributions.
const probabilityTolerance = 1e-9

// Mdp is an immutable sparse Markov decision process: states 0..n-1,
// each owning a contiguous group of action rows in the transition
// matrix, optionally decorated with state rewards, transition rewards
// and named label sets.
type Mdp struct {
	numStates         int
	transitions       *SparseMatrix
	rowGroupIndices   []int
	initialStates     *BitVector
	stateRewards      []float64
	transitionRewards *SparseMatrix
	labels            map[string]*BitVector

	backward *SparseMatrix // lazily computed transpose
}

func (m *Mdp) NumStates() int  { return m.numStates }
func (m *Mdp) NumChoices() int { return m.transitions.RowCount() }

func (m *Mdp) Transitions() *SparseMatrix { return m.transitions }
func (m *Mdp) RowGroupIndices() []int     { return m.rowGroupIndices }
func (m *Mdp) InitialStates() *BitVector  { return m.initialStates }

// BackwardTransitions returns the transpose of the transition matrix,
// computing it on first use.
func (m *Mdp) BackwardTransitions() *SparseMatrix {
	if m.backward == nil {
		m.backward = m.transitions.Transpose()
	}
	return m.backward
}

func (m *Mdp) HasStateRewards() bool      { return m.stateRewards != nil }
func (m *Mdp) StateRewards() []float64    { return m.stateRewards }
func (m *Mdp) HasTransitionRewards() bool { return m.transitionRewards != nil }

func (m *Mdp) TransitionRewards() *SparseMatrix { return m.transitionRewards }

// Label returns the state set carrying the given label. Unknown labels
// yield the empty set.
func (m *Mdp) Label(name string) *BitVector {
	if states, ok := m.labels[name]; ok {
		return states
	}
	return NewBitVector(m.numStates)
}

// Labels returns the names of all labels attached to the model.
func (m *Mdp) Labels() []string {
	out := make([]string, 0, len(m.labels))
	for name := range m.labels {
		out = append(out, name)
	}
	return out
}

// Branch is one probabilistic outcome of an action: target state,
// probability, and the reward earned on this transition.
type Branch struct {
	To          int
	Probability float64
	Reward      float64
}

// ModelBuilder assembles an Mdp incrementally, in the fashion of a
// transition-table: add actions state by state, then Build.
type ModelBuilder struct {
	numStates      int
	actions        [][][]Branch // per state, per action, branches
	initialStates  []int
	stateRewards   map[int]float64
	labels         map[string][]int
	hasTransReward bool
}

func NewModelBuilder(numStates int) *ModelBuilder {
	return &ModelBuilder{
		numStates:    numStates,
		actions:      make([][][]Branch, numStates),
		stateRewards: make(map[int]float64),
		labels:       make(map[string][]int),
	}
}

// AddAction appends an action row to the given state and returns its
// local action index.
func (b *ModelBuilder) AddAction(state int, branches ...Branch) int {
	b.actions[state] = append(b.actions[state], branches)
	for _, br := range branches {
		if br.Reward != 0 {
			b.hasTransReward = true
		}
	}
	return len(b.actions[state]) - 1
}

// SetInitial marks the given states as initial.
func (b *ModelBuilder) SetInitial(states ...int) {
	b.initialStates = append(b.initialStates, states...)
}

// SetStateReward attaches a state reward. Setting any state reward
// gives the model a state-reward vector (zero elsewhere).
func (b *ModelBuilder) SetStateReward(state int, reward float64) {
	b.stateRewards[state] = reward
}

// AddLabel attaches a label to the given states.
func (b *ModelBuilder) AddLabel(name string, states ...int) {
	b.labels[name] = append(b.labels[name], states...)
}

// Build validates the accumulated pieces and produces the immutable
// model. Every state must own at least one action and every action row
// must be a sub-probability distribution.
func (b *ModelBuilder) Build() (*Mdp, error) {
	rowGroupIndices := make([]int, 0, b.numStates+1)
	var rows [][]Entry
	var rewardRows [][]Entry
	for s, stateActions := range b.actions {
		rowGroupIndices = append(rowGroupIndices, len(rows))
		if len(stateActions) == 0 {
			return nil, fmt.Errorf("%w: state %d has no actions", ErrInvalidArgument, s)
		}
		for a, branches := range stateActions {
			row := make([]Entry, 0, len(branches))
			rewardRow := make([]Entry, 0, len(branches))
			sum := 0.0
			for _, br := range branches {
				if br.To < 0 || br.To >= b.numStates {
					return nil, fmt.Errorf("%w: state %d action %d targets unknown state %d", ErrInvalidArgument, s, a, br.To)
				}
				if math.IsNaN(br.Probability) || br.Probability < 0 || br.Probability > 1+probabilityTolerance {
					return nil, fmt.Errorf("%w: state %d action %d has probability %g outside [0,1]", ErrInvalidArgument, s, a, br.Probability)
				}
				sum += br.Probability
				row = append(row, Entry{Column: br.To, Value: br.Probability})
				rewardRow = append(rewardRow, Entry{Column: br.To, Value: br.Reward})
			}
			if sum > 1+probabilityTolerance {
				return nil, fmt.Errorf("%w: state %d action %d has total probability %g > 1", ErrInvalidArgument, s, a, sum)
			}
			rows = append(rows, row)
			rewardRows = append(rewardRows, rewardRow)
		}
	}
	rowGroupIndices = append(rowGroupIndices, len(rows))

	for _, s := range b.initialStates {
		if s < 0 || s >= b.numStates {
			return nil, fmt.Errorf("%w: initial state %d out of range", ErrInvalidArgument, s)
		}
	}
	for name, states := range b.labels {
		for _, s := range states {
			if s < 0 || s >= b.numStates {
				return nil, fmt.Errorf("%w: label %q on state %d out of range", ErrInvalidArgument, name, s)
			}
		}
	}

	m := &Mdp{
		numStates:       b.numStates,
		transitions:     NewSparseMatrix(b.numStates, rows),
		rowGroupIndices: rowGroupIndices,
		initialStates:   NewBitVectorFromIndices(b.numStates, b.initialStates...),
		labels:          make(map[string]*BitVector, len(b.labels)),
	}
	if len(b.stateRewards) > 0 {
		m.stateRewards = make([]float64, b.numStates)
		for s, r := range b.stateRewards {
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return nil, fmt.Errorf("%w: state %d has non-finite reward", ErrInvalidArgument, s)
			}
			m.stateRewards[s] = r
		}
	}
	if b.hasTransReward {
		m.transitionRewards = NewSparseMatrix(b.numStates, rewardRows)
	}
	for name, states := range b.labels {
		m.labels[name] = NewBitVectorFromIndices(b.numStates, states...)
	}
	return m, nil
}
