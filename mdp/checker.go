package mdp

import (
	"fmt"
	"log/slog"
	"math"
)

// Direction selects how nondeterminism is resolved. The zero value is
// deliberately "unspecified": checking a nondeterministic model without
// declaring a direction is an error, not a default.
type Direction int

const (
	DirectionUnspecified Direction = iota
	Minimize
	Maximize
)

func (d Direction) String() string {
	switch d {
	case Minimize:
		return "min"
	case Maximize:
		return "max"
	default:
		return "unspecified"
	}
}

// Opposite returns the dual direction, used by the globally/eventually
// duality.
func (d Direction) Opposite() Direction {
	switch d {
	case Minimize:
		return Maximize
	case Maximize:
		return Minimize
	default:
		return DirectionUnspecified
	}
}

// Undetermined is the sentinel stored for maybe-states when no numeric
// solving took place (qualitative evaluation or an initial-state
// short-circuit). It is out of the probability and reward domains and
// testable with math.IsNaN.
func Undetermined() float64 { return math.NaN() }

// IsUndetermined reports whether a result entry is the qualitative
// sentinel rather than a solved value.
func IsUndetermined(v float64) bool { return math.IsNaN(v) }

// UntilChecker is the probability capability of a model representation.
// This package implements it for sparse models; symbolic representations
// are structurally analogous.
type UntilChecker interface {
	CheckUntil(dir Direction, phiStates, psiStates *BitVector, qualitative bool) ([]float64, Scheduler, error)
	CheckBoundedUntil(dir Direction, phiStates, psiStates *BitVector, stepBound int, qualitative bool) ([]float64, error)
}

// RewardChecker is the expected-reward capability of a model
// representation.
type RewardChecker interface {
	CheckReachabilityReward(dir Direction, targetStates *BitVector, qualitative bool) ([]float64, Scheduler, error)
	CheckInstantaneousReward(dir Direction, stepBound int) ([]float64, error)
	CheckCumulativeReward(dir Direction, stepBound int) ([]float64, error)
}

// ModelChecker runs probabilistic-reachability and reward analyses on a
// sparse MDP. All state handed in (model, state sets) is treated as
// read-only; every check builds its own working data.
type ModelChecker struct {
	model  *Mdp
	solver EquationSolver
	logger *slog.Logger
	stats  *StatsCollector
}

// CheckerOption configures a ModelChecker.
type CheckerOption func(*ModelChecker)

// WithSolver replaces the default value-iteration solver.
func WithSolver(solver EquationSolver) CheckerOption {
	return func(mc *ModelChecker) { mc.solver = solver }
}

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) CheckerOption {
	return func(mc *ModelChecker) { mc.logger = logger }
}

// WithStats attaches a collector that receives per-check counters.
func WithStats(stats *StatsCollector) CheckerOption {
	return func(mc *ModelChecker) { mc.stats = stats }
}

func NewModelChecker(model *Mdp, opts ...CheckerOption) *ModelChecker {
	mc := &ModelChecker{
		model:  model,
		solver: NewValueIterationSolver(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(mc)
	}
	return mc
}

func (mc *ModelChecker) Model() *Mdp { return mc.model }

// requireDirection rejects checks on a nondeterministic model that do
// not declare how to resolve the nondeterminism.
func (mc *ModelChecker) requireDirection(dir Direction) error {
	if dir != Minimize && dir != Maximize {
		return fmt.Errorf("%w: no optimization direction declared for nondeterministic model", ErrInvalidArgument)
	}
	return nil
}

func (mc *ModelChecker) checkStateSet(name string, states *BitVector) error {
	if states == nil || states.Len() != mc.model.NumStates() {
		return fmt.Errorf("%w: %s state set does not match model with %d states", ErrInvalidArgument, name, mc.model.NumStates())
	}
	return nil
}

// CheckUntil computes the extremal probability of phi until psi for
// every state, together with a memoryless scheduler attaining it.
func (mc *ModelChecker) CheckUntil(dir Direction, phiStates, psiStates *BitVector, qualitative bool) ([]float64, Scheduler, error) {
	if err := mc.requireDirection(dir); err != nil {
		return nil, Scheduler{}, err
	}
	if err := mc.checkStateSet("phi", phiStates); err != nil {
		return nil, Scheduler{}, err
	}
	if err := mc.checkStateSet("psi", psiStates); err != nil {
		return nil, Scheduler{}, err
	}
	return mc.ComputeUntilProbabilities(dir == Minimize, phiStates, psiStates, qualitative)
}

// ComputeUntilProbabilities is the core until analysis: qualitative
// precomputation, reduction to the maybe-states, min-max equation
// solving, and scheduler extraction from the final vector.
func (mc *ModelChecker) ComputeUntilProbabilities(minimize bool, phiStates, psiStates *BitVector, qualitative bool) ([]float64, Scheduler, error) {
	model := mc.model
	transitions := model.Transitions()
	rowGroupIndices := model.RowGroupIndices()
	backward := model.BackwardTransitions()

	var prob0, prob1 *BitVector
	if minimize {
		prob0, prob1 = performProb01Min(transitions, rowGroupIndices, backward, phiStates, psiStates)
	} else {
		prob0, prob1 = performProb01Max(transitions, rowGroupIndices, backward, phiStates, psiStates)
	}
	maybeStates := prob0.Union(prob1).Complement()

	mc.logger.Info("until precomputation finished",
		"direction", directionName(minimize),
		"prob0", prob0.Count(), "prob1", prob1.Count(), "maybe", maybeStates.Count())
	mc.recordQualitativeStats(prob0.Count(), prob1.Count(), maybeStates.Count())

	result := make([]float64, model.NumStates())

	if model.InitialStates().IsDisjoint(maybeStates) || qualitative {
		// No numeric solving needed: mark the maybe-states as
		// undetermined rather than overloading the probability domain.
		setValues(result, maybeStates, Undetermined())
	} else {
		submatrix, subGroups := transitions.Submatrix(maybeStates, rowGroupIndices)
		b := transitions.ConstrainedRowSumVector(maybeStates, rowGroupIndices, prob1)
		x := make([]float64, maybeStates.Count())
		if err := mc.solver.SolveEquationSystem(minimize, submatrix, x, b, subGroups); err != nil {
			return nil, Scheduler{}, fmt.Errorf("solving until equation system: %w", err)
		}
		scatterValues(result, maybeStates, x)
		mc.recordSolverStats()
	}

	setValues(result, prob0, 0)
	setValues(result, prob1, 1)

	scheduler := computeExtremalScheduler(minimize, transitions, rowGroupIndices, result, nil, nil)
	return result, scheduler, nil
}

// CheckBoundedUntil computes the extremal probability of phi until psi
// within stepBound steps. A finite horizon admits no scheduler synthesis
// here: the optimal resolution is time-dependent.
func (mc *ModelChecker) CheckBoundedUntil(dir Direction, phiStates, psiStates *BitVector, stepBound int, qualitative bool) ([]float64, error) {
	if err := mc.requireDirection(dir); err != nil {
		return nil, err
	}
	if err := mc.checkStateSet("phi", phiStates); err != nil {
		return nil, err
	}
	if err := mc.checkStateSet("psi", psiStates); err != nil {
		return nil, err
	}
	if stepBound < 0 {
		return nil, fmt.Errorf("%w: negative step bound %d", ErrInvalidArgument, stepBound)
	}
	minimize := dir == Minimize

	model := mc.model
	transitions := model.Transitions()
	rowGroupIndices := model.RowGroupIndices()

	if stepBound == 0 {
		// Zero steps: phi U<=0 psi holds exactly on psi.
		result := make([]float64, model.NumStates())
		setValues(result, psiStates, 1)
		return result, nil
	}

	// One-sided precomputation: within a finite horizon only the
	// definite-0 states come cheap; exact probability 1 is not generally
	// attainable in a bounded number of steps.
	greater0 := performProbGreater0(transitions, rowGroupIndices, model.BackwardTransitions(), phiStates, psiStates, minimize, stepBound)

	result := make([]float64, model.NumStates())
	if model.InitialStates().IsDisjoint(greater0) || qualitative {
		setValues(result, greater0, Undetermined())
		setValues(result, psiStates.Intersect(greater0), 1)
		return result, nil
	}

	submatrix, subGroups := transitions.Submatrix(greater0, rowGroupIndices)

	// Restricted psi-states become absorbing so their mass stays put
	// across the remaining sweeps.
	subPsi := restrictSet(psiStates, greater0)
	submatrix.MakeRowGroupsAbsorbing(subPsi, subGroups)

	subresult := make([]float64, greater0.Count())
	setValues(subresult, subPsi, 1)
	mc.solver.PerformMatrixVectorMultiplication(minimize, submatrix, subresult, subGroups, nil, stepBound)

	scatterValues(result, greater0, subresult)
	return result, nil
}

// CheckNext computes the extremal probability of reaching nextStates in
// exactly one step.
func (mc *ModelChecker) CheckNext(dir Direction, nextStates *BitVector) ([]float64, error) {
	if err := mc.requireDirection(dir); err != nil {
		return nil, err
	}
	if err := mc.checkStateSet("next", nextStates); err != nil {
		return nil, err
	}
	result := make([]float64, mc.model.NumStates())
	setValues(result, nextStates, 1)
	mc.solver.PerformMatrixVectorMultiplication(dir == Minimize, mc.model.Transitions(), result, mc.model.RowGroupIndices(), nil, 1)
	return result, nil
}

// CheckEventually computes extremal reachability probabilities: an
// until with an unrestricted left-hand side.
func (mc *ModelChecker) CheckEventually(dir Direction, psiStates *BitVector, qualitative bool) ([]float64, Scheduler, error) {
	return mc.CheckUntil(dir, FullBitVector(mc.model.NumStates()), psiStates, qualitative)
}

// CheckBoundedEventually is bounded reachability: a bounded until with
// an unrestricted left-hand side.
func (mc *ModelChecker) CheckBoundedEventually(dir Direction, psiStates *BitVector, stepBound int, qualitative bool) ([]float64, error) {
	return mc.CheckBoundedUntil(dir, FullBitVector(mc.model.NumStates()), psiStates, stepBound, qualitative)
}

// CheckGlobally computes the extremal probability of psi holding
// forever, via the duality P[G psi] = 1 - P_dual[F !psi]. Qualitative
// sentinels survive the subtraction as sentinels.
func (mc *ModelChecker) CheckGlobally(dir Direction, psiStates *BitVector, qualitative bool) ([]float64, error) {
	if err := mc.requireDirection(dir); err != nil {
		return nil, err
	}
	if err := mc.checkStateSet("psi", psiStates); err != nil {
		return nil, err
	}
	result, _, err := mc.CheckEventually(dir.Opposite(), psiStates.Complement(), qualitative)
	if err != nil {
		return nil, err
	}
	for i, v := range result {
		result[i] = 1 - v // NaN stays NaN
	}
	return result, nil
}

// CheckInstantaneousReward computes the extremal expected state reward
// observed exactly stepBound steps from now. Snapshot semantics: each
// sweep replaces the vector, nothing accumulates.
func (mc *ModelChecker) CheckInstantaneousReward(dir Direction, stepBound int) ([]float64, error) {
	if err := mc.requireDirection(dir); err != nil {
		return nil, err
	}
	if stepBound < 0 {
		return nil, fmt.Errorf("%w: negative step bound %d", ErrInvalidArgument, stepBound)
	}
	if !mc.model.HasStateRewards() {
		return nil, fmt.Errorf("%w: instantaneous reward needs a state-reward vector", ErrMissingRewardModel)
	}
	result := make([]float64, mc.model.NumStates())
	copy(result, mc.model.StateRewards())
	mc.solver.PerformMatrixVectorMultiplication(dir == Minimize, mc.model.Transitions(), result, mc.model.RowGroupIndices(), nil, stepBound)
	return result, nil
}

// CheckCumulativeReward computes the extremal expected reward
// accumulated over stepBound steps: each sweep adds the per-step reward
// increment before the extremal reduction.
func (mc *ModelChecker) CheckCumulativeReward(dir Direction, stepBound int) ([]float64, error) {
	if err := mc.requireDirection(dir); err != nil {
		return nil, err
	}
	if stepBound < 0 {
		return nil, fmt.Errorf("%w: negative step bound %d", ErrInvalidArgument, stepBound)
	}
	model := mc.model
	if !model.HasStateRewards() && !model.HasTransitionRewards() {
		return nil, fmt.Errorf("%w: cumulative reward needs a state- or transition-reward component", ErrMissingRewardModel)
	}

	stepRewards := mc.totalRewardVector(model.Transitions(), model.RowGroupIndices())

	result := make([]float64, model.NumStates())
	if model.HasStateRewards() {
		copy(result, model.StateRewards())
	}
	mc.solver.PerformMatrixVectorMultiplication(dir == Minimize, model.Transitions(), result, model.RowGroupIndices(), stepRewards, stepBound)
	return result, nil
}

// CheckReachabilityReward computes the extremal expected reward
// accumulated until a target state is reached, together with a
// scheduler attaining it. States that cannot guarantee reaching the
// target under the chosen direction carry infinite reward.
func (mc *ModelChecker) CheckReachabilityReward(dir Direction, targetStates *BitVector, qualitative bool) ([]float64, Scheduler, error) {
	if err := mc.requireDirection(dir); err != nil {
		return nil, Scheduler{}, err
	}
	if err := mc.checkStateSet("target", targetStates); err != nil {
		return nil, Scheduler{}, err
	}
	model := mc.model
	if !model.HasStateRewards() && !model.HasTransitionRewards() {
		return nil, Scheduler{}, fmt.Errorf("%w: reachability reward needs a state- or transition-reward component", ErrMissingRewardModel)
	}
	minimize := dir == Minimize

	transitions := model.Transitions()
	rowGroupIndices := model.RowGroupIndices()
	backward := model.BackwardTransitions()
	allStates := FullBitVector(model.NumStates())

	// Infinite-reward states: those outside prob1 of eventually reaching
	// the target. The minimum is finite when some choice resolution
	// reaches the target almost surely, the maximum only when every one
	// does, so the quantifier follows the direction.
	infinityStates := performProb1(transitions, rowGroupIndices, backward, allStates, targetStates, minimize).Complement()
	maybeStates := targetStates.Complement().Difference(infinityStates)

	mc.logger.Info("reachability-reward precomputation finished",
		"direction", directionName(minimize),
		"infinity", infinityStates.Count(), "target", targetStates.Count(), "maybe", maybeStates.Count())
	mc.recordQualitativeStats(infinityStates.Count(), targetStates.Count(), maybeStates.Count())

	result := make([]float64, model.NumStates())

	if model.InitialStates().IsDisjoint(maybeStates) || qualitative {
		setValues(result, maybeStates, Undetermined())
	} else {
		// When minimizing, an action that may fall into the infinity
		// states has infinite value and can never attain the minimum;
		// such rows are cut from the reduced system so the dropped
		// transition mass cannot underprice them. Every maybe-state keeps
		// at least one row: its membership in the existential prob1 set
		// certifies a choice whose support stays clear of the infinity
		// states. When maximizing no row of a maybe-state enters them.
		var avoid *BitVector
		if minimize {
			avoid = infinityStates
		}
		submatrix, subGroups, keptRows := transitions.SubmatrixExcluding(maybeStates, rowGroupIndices, avoid)

		// Right-hand side: expected one-step reward per kept row.
		rowRewards := mc.totalRewardVector(transitions, rowGroupIndices)
		b := make([]float64, 0, len(keptRows))
		for _, r := range keptRows {
			b = append(b, rowRewards[r])
		}

		x := make([]float64, maybeStates.Count())
		if err := mc.solver.SolveEquationSystem(minimize, submatrix, x, b, subGroups); err != nil {
			return nil, Scheduler{}, fmt.Errorf("solving reachability-reward equation system: %w", err)
		}
		scatterValues(result, maybeStates, x)
		mc.recordSolverStats()
	}

	setValues(result, targetStates, 0)
	setValues(result, infinityStates, math.Inf(1))

	scheduler := computeExtremalScheduler(minimize, transitions, rowGroupIndices, result, model.StateRewards(), model.TransitionRewards())
	return result, scheduler, nil
}

// totalRewardVector blends, per action row, the expected transition
// reward of the row with the owning state's reward (duplicated across
// every row of that state).
func (mc *ModelChecker) totalRewardVector(transitions *SparseMatrix, rowGroupIndices []int) []float64 {
	model := mc.model
	var rewards []float64
	if model.HasTransitionRewards() {
		rewards = transitions.PointwiseProductRowSums(model.TransitionRewards())
	} else {
		rewards = make([]float64, transitions.RowCount())
	}
	if model.HasStateRewards() {
		stateRewards := model.StateRewards()
		for s := 0; s < model.NumStates(); s++ {
			for r := rowGroupIndices[s]; r < rowGroupIndices[s+1]; r++ {
				rewards[r] += stateRewards[s]
			}
		}
	}
	return rewards
}

func (mc *ModelChecker) recordQualitativeStats(no, yes, maybe int) {
	if mc.stats == nil {
		return
	}
	mc.stats.Counter("checks", "analyses run against the model", "checks").Inc()
	mc.stats.Counter("states_no", "states with trivially known zero result", "states").Add(float64(no))
	mc.stats.Counter("states_yes", "states with trivially known one/target result", "states").Add(float64(yes))
	mc.stats.Counter("states_maybe", "states requiring equation solving", "states").Add(float64(maybe))
}

func (mc *ModelChecker) recordSolverStats() {
	if mc.stats == nil {
		return
	}
	if vi, ok := mc.solver.(*ValueIterationSolver); ok {
		mc.stats.Counter("solver_iterations", "value-iteration sweeps", "sweeps").Add(float64(vi.Iterations))
	}
}

func directionName(minimize bool) string {
	if minimize {
		return "min"
	}
	return "max"
}

// setValues assigns value to every position of vector selected by states.
func setValues(vector []float64, states *BitVector, value float64) {
	for i := states.NextSet(0); i >= 0; i = states.NextSet(i + 1) {
		vector[i] = value
	}
}

// scatterValues distributes the packed values (one per selected state,
// in increasing state order) into the full-length vector.
func scatterValues(vector []float64, states *BitVector, values []float64) {
	j := 0
	for i := states.NextSet(0); i >= 0; i = states.NextSet(i + 1) {
		vector[i] = values[j]
		j++
	}
}

// restrictSet re-indexes the states of set that fall inside constraint
// to their positions among the constraint's members.
func restrictSet(set, constraint *BitVector) *BitVector {
	out := NewBitVector(constraint.Count())
	j := 0
	for i := constraint.NextSet(0); i >= 0; i = constraint.NextSet(i + 1) {
		if set.Get(i) {
			out.Set(j)
		}
		j++
	}
	return out
}
