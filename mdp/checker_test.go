package mdp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoStateScenario: state 0 offers action A (sure move to absorbing
// state 1) and action B (self-loop); psi = {1}, phi = {0, 1}.
func twoStateScenario(t *testing.T) (*Mdp, *BitVector, *BitVector) {
	t.Helper()
	b := NewModelBuilder(2)
	b.AddAction(0, Branch{To: 1, Probability: 1}) // A
	b.AddAction(0, Branch{To: 0, Probability: 1}) // B
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.SetInitial(0)
	model, err := b.Build()
	require.NoError(t, err)
	return model, FullBitVector(2), NewBitVectorFromIndices(2, 1)
}

// stubSolver records calls; used to prove short-circuit paths never
// reach the solver.
type stubSolver struct {
	solves          int
	multiplications int
}

func (s *stubSolver) PerformMatrixVectorMultiplication(minimize bool, matrix *SparseMatrix, x []float64, rowGroupIndices []int, addend []float64, iterations int) {
	s.multiplications++
}

func (s *stubSolver) SolveEquationSystem(minimize bool, matrix *SparseMatrix, x []float64, b []float64, rowGroupIndices []int) error {
	s.solves++
	return nil
}

func TestUntilMaximizeTwoState(t *testing.T) {
	model, phi, psi := twoStateScenario(t)
	mc := NewModelChecker(model)

	result, scheduler, err := mc.CheckUntil(Maximize, phi, psi, false)
	require.NoError(t, err)
	assert.InDelta(t, 1, result[0], 1e-9)
	assert.InDelta(t, 1, result[1], 1e-9)
	assert.Equal(t, 0, scheduler.Choice(0), "maximizing scheduler takes action A")
}

func TestUntilMinimizeTwoState(t *testing.T) {
	model, phi, psi := twoStateScenario(t)
	mc := NewModelChecker(model)

	result, scheduler, err := mc.CheckUntil(Minimize, phi, psi, false)
	require.NoError(t, err)
	assert.InDelta(t, 0, result[0], 1e-9)
	assert.InDelta(t, 1, result[1], 1e-9)
	assert.Equal(t, 1, scheduler.Choice(0), "minimizing scheduler keeps the self-loop")
}

func TestUntilTrivialSetsAndBounds(t *testing.T) {
	model := branchingModel(t)
	mc := NewModelChecker(model)
	phi := FullBitVector(4)
	psi := NewBitVectorFromIndices(4, 1)

	result, _, err := mc.CheckUntil(Maximize, phi, psi, false)
	require.NoError(t, err)

	for s, v := range result {
		assert.GreaterOrEqual(t, v, 0.0, "state %d", s)
		assert.LessOrEqual(t, v, 1.0, "state %d", s)
	}
	assert.InDelta(t, 0.5, result[0], 1e-5)
	assert.Equal(t, 1.0, result[1])
	assert.Equal(t, 0.0, result[2])
	assert.Equal(t, 0.0, result[3])
}

func TestUntilDeterministicMinEqualsMax(t *testing.T) {
	// Exactly one action per state: the direction cannot matter.
	b := NewModelBuilder(3)
	b.AddAction(0, Branch{To: 1, Probability: 0.5}, Branch{To: 2, Probability: 0.5})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.AddAction(2, Branch{To: 2, Probability: 1})
	model, err := b.Build()
	require.NoError(t, err)

	mc := NewModelChecker(model)
	phi := FullBitVector(3)
	psi := NewBitVectorFromIndices(3, 1)

	minResult, _, err := mc.CheckUntil(Minimize, phi, psi, false)
	require.NoError(t, err)
	maxResult, _, err := mc.CheckUntil(Maximize, phi, psi, false)
	require.NoError(t, err)

	for s := range minResult {
		assert.InDelta(t, maxResult[s], minResult[s], 1e-9, "state %d", s)
	}
}

func TestUntilMonotoneInPsi(t *testing.T) {
	model := branchingModel(t)
	mc := NewModelChecker(model)
	phi := FullBitVector(4)

	small, _, err := mc.CheckUntil(Maximize, phi, NewBitVectorFromIndices(4, 1), false)
	require.NoError(t, err)
	large, _, err := mc.CheckUntil(Maximize, phi, NewBitVectorFromIndices(4, 1, 2), false)
	require.NoError(t, err)

	for s := range small {
		assert.GreaterOrEqual(t, large[s]+1e-9, small[s], "state %d", s)
	}
	assert.InDelta(t, 1.0, large[0], 1e-5)
}

func TestUntilSchedulerSoundness(t *testing.T) {
	// State 0 chooses between a 0.5 and a 0.1 chance of reaching psi.
	b := NewModelBuilder(3)
	b.AddAction(0, Branch{To: 1, Probability: 0.5}, Branch{To: 2, Probability: 0.5})
	b.AddAction(0, Branch{To: 1, Probability: 0.1}, Branch{To: 2, Probability: 0.9})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.AddAction(2, Branch{To: 2, Probability: 1})
	b.SetInitial(0)
	model, err := b.Build()
	require.NoError(t, err)

	phi := FullBitVector(3)
	psi := NewBitVectorFromIndices(3, 1)
	mc := NewModelChecker(model)

	for _, dir := range []Direction{Minimize, Maximize} {
		result, scheduler, err := mc.CheckUntil(dir, phi, psi, false)
		require.NoError(t, err)

		induced, err := model.InducedModel(scheduler)
		require.NoError(t, err)

		chainResult, _, err := NewModelChecker(induced).CheckUntil(dir, phi, psi, false)
		require.NoError(t, err)
		for s := range result {
			assert.InDelta(t, result[s], chainResult[s], 1e-5, "direction %s state %d", dir, s)
		}
	}
}

func TestBoundedUntilMonotoneAndConverges(t *testing.T) {
	// State 0 flips a coin each step: value within k steps is 1-0.5^k.
	b := NewModelBuilder(2)
	b.AddAction(0, Branch{To: 0, Probability: 0.5}, Branch{To: 1, Probability: 0.5})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.SetInitial(0)
	model, err := b.Build()
	require.NoError(t, err)

	mc := NewModelChecker(model)
	phi := FullBitVector(2)
	psi := NewBitVectorFromIndices(2, 1)

	previous := -1.0
	for bound := 0; bound <= 10; bound++ {
		result, err := mc.CheckBoundedUntil(Maximize, phi, psi, bound, false)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result[0]+1e-12, previous, "bound %d", bound)
		assert.InDelta(t, 1-math.Pow(0.5, float64(bound)), result[0], 1e-9, "bound %d", bound)
		previous = result[0]
	}

	unbounded, _, err := mc.CheckUntil(Maximize, phi, psi, false)
	require.NoError(t, err)
	farOut, err := mc.CheckBoundedUntil(Maximize, phi, psi, 60, false)
	require.NoError(t, err)
	assert.InDelta(t, unbounded[0], farOut[0], 1e-6)
}

func TestBoundedUntilZeroBound(t *testing.T) {
	model, phi, psi := twoStateScenario(t)
	mc := NewModelChecker(model)

	result, err := mc.CheckBoundedUntil(Maximize, phi, psi, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, result)
}

func TestUntilQualitativeSentinel(t *testing.T) {
	model := branchingModel(t)
	stub := &stubSolver{}
	mc := NewModelChecker(model, WithSolver(stub))
	phi := FullBitVector(4)
	psi := NewBitVectorFromIndices(4, 1)

	result, _, err := mc.CheckUntil(Maximize, phi, psi, true)
	require.NoError(t, err)
	assert.True(t, IsUndetermined(result[0]))
	assert.Equal(t, 1.0, result[1])
	assert.Equal(t, 0.0, result[2])
	assert.Equal(t, 0, stub.solves, "qualitative mode must skip numeric solving")
}

func TestUntilShortCircuitsKnownInitialStates(t *testing.T) {
	// Initial state 1 lies in the probability-1 set, so the maybe-state
	// 0 is never solved numerically.
	b := NewModelBuilder(4)
	b.AddAction(0, Branch{To: 1, Probability: 0.5}, Branch{To: 2, Probability: 0.5})
	b.AddAction(0, Branch{To: 3, Probability: 1})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.AddAction(2, Branch{To: 2, Probability: 1})
	b.AddAction(3, Branch{To: 3, Probability: 1})
	b.SetInitial(1)
	model, err := b.Build()
	require.NoError(t, err)

	stub := &stubSolver{}
	mc := NewModelChecker(model, WithSolver(stub))
	result, _, err := mc.CheckUntil(Maximize, FullBitVector(4), NewBitVectorFromIndices(4, 1), false)
	require.NoError(t, err)
	assert.True(t, IsUndetermined(result[0]))
	assert.Equal(t, 1.0, result[1])
	assert.Equal(t, 0, stub.solves)
}

func TestUntilRequiresDirection(t *testing.T) {
	model, phi, psi := twoStateScenario(t)
	mc := NewModelChecker(model)

	result, _, err := mc.CheckUntil(DirectionUnspecified, phi, psi, false)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Nil(t, result)
}

func TestUntilRejectsMismatchedStateSets(t *testing.T) {
	model, _, psi := twoStateScenario(t)
	mc := NewModelChecker(model)

	_, _, err := mc.CheckUntil(Maximize, NewBitVector(5), psi, false)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCheckNext(t *testing.T) {
	model, _, _ := twoStateScenario(t)
	mc := NewModelChecker(model)
	next := NewBitVectorFromIndices(2, 1)

	maxResult, err := mc.CheckNext(Maximize, next)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, maxResult)

	minResult, err := mc.CheckNext(Minimize, next)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, minResult)
}

func TestCheckEventuallyMatchesUntilWithFullPhi(t *testing.T) {
	model := branchingModel(t)
	mc := NewModelChecker(model)
	psi := NewBitVectorFromIndices(4, 1)

	eventually, _, err := mc.CheckEventually(Maximize, psi, false)
	require.NoError(t, err)
	until, _, err := mc.CheckUntil(Maximize, FullBitVector(4), psi, false)
	require.NoError(t, err)
	assert.Equal(t, until, eventually)
}

func TestCheckGlobally(t *testing.T) {
	// State 0 must leave to state 1, so G {0} fails and G {0,1} holds.
	b := NewModelBuilder(2)
	b.AddAction(0, Branch{To: 1, Probability: 1})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	model, err := b.Build()
	require.NoError(t, err)
	mc := NewModelChecker(model)

	all, err := mc.CheckGlobally(Maximize, FullBitVector(2), false)
	require.NoError(t, err)
	assert.InDelta(t, 1, all[0], 1e-9)

	only0, err := mc.CheckGlobally(Maximize, NewBitVectorFromIndices(2, 0), false)
	require.NoError(t, err)
	assert.InDelta(t, 0, only0[0], 1e-9)
}

func TestInstantaneousReward(t *testing.T) {
	// Chain 0 -> 1 with rewards [2, 5]: the snapshot moves with the chain.
	b := NewModelBuilder(2)
	b.AddAction(0, Branch{To: 1, Probability: 1})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.SetStateReward(0, 2)
	b.SetStateReward(1, 5)
	model, err := b.Build()
	require.NoError(t, err)
	mc := NewModelChecker(model)

	zero, err := mc.CheckInstantaneousReward(Maximize, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5}, zero)

	one, err := mc.CheckInstantaneousReward(Maximize, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 5}, one)
}

func TestInstantaneousRewardRequiresStateRewards(t *testing.T) {
	// Transition rewards alone do not carry snapshot semantics.
	b := NewModelBuilder(1)
	b.AddAction(0, Branch{To: 0, Probability: 1, Reward: 2})
	model, err := b.Build()
	require.NoError(t, err)

	_, err = NewModelChecker(model).CheckInstantaneousReward(Maximize, 3)
	require.ErrorIs(t, err, ErrMissingRewardModel)
}

func TestCumulativeReward(t *testing.T) {
	// Chain 0 -> 1 -> 2 with state rewards [1, 2, 0].
	b := NewModelBuilder(3)
	b.AddAction(0, Branch{To: 1, Probability: 1})
	b.AddAction(1, Branch{To: 2, Probability: 1})
	b.AddAction(2, Branch{To: 2, Probability: 1})
	b.SetStateReward(0, 1)
	b.SetStateReward(1, 2)
	model, err := b.Build()
	require.NoError(t, err)
	mc := NewModelChecker(model)

	result, err := mc.CheckCumulativeReward(Maximize, 2)
	require.NoError(t, err)
	assert.InDelta(t, 3, result[0], 1e-9)
	assert.InDelta(t, 2, result[1], 1e-9)
	assert.InDelta(t, 0, result[2], 1e-9)
}

func TestCumulativeRewardMissingRewardModel(t *testing.T) {
	model, _, _ := twoStateScenario(t)
	mc := NewModelChecker(model)

	result, err := mc.CheckCumulativeReward(Maximize, 3)
	require.ErrorIs(t, err, ErrMissingRewardModel)
	assert.Nil(t, result)
}

// rewardScenario: state 0 earns reward 1 per step and chooses between a
// sure move to the target and a lingering coin flip; state 2 is an
// unrewarded trap that never reaches the target.
func rewardScenario(t *testing.T) *Mdp {
	t.Helper()
	b := NewModelBuilder(3)
	b.AddAction(0, Branch{To: 1, Probability: 1})
	b.AddAction(0, Branch{To: 0, Probability: 0.5}, Branch{To: 1, Probability: 0.5})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.AddAction(2, Branch{To: 2, Probability: 1})
	b.SetStateReward(0, 1)
	b.SetInitial(0)
	model, err := b.Build()
	require.NoError(t, err)
	return model
}

func TestReachabilityReward(t *testing.T) {
	model := rewardScenario(t)
	mc := NewModelChecker(model)
	target := NewBitVectorFromIndices(3, 1)

	minResult, minSched, err := mc.CheckReachabilityReward(Minimize, target, false)
	require.NoError(t, err)
	assert.InDelta(t, 1, minResult[0], 1e-5)
	assert.Equal(t, 0.0, minResult[1])
	assert.Equal(t, 0, minSched.Choice(0), "minimizing scheduler goes straight to the target")

	maxResult, maxSched, err := mc.CheckReachabilityReward(Maximize, target, false)
	require.NoError(t, err)
	assert.InDelta(t, 2, maxResult[0], 1e-4)
	assert.Equal(t, 1, maxSched.Choice(0), "maximizing scheduler lingers on the coin flip")

	// The trap cannot reach the target at all.
	assert.True(t, math.IsInf(minResult[2], 1))
	assert.True(t, math.IsInf(maxResult[2], 1))
}

func TestReachabilityRewardMaxInfiniteWhenTargetAvoidable(t *testing.T) {
	// State 0 chooses between the target and a trap: the minimum commits
	// to the target and stays finite, the maximum hides in the trap.
	b := NewModelBuilder(3)
	b.AddAction(0, Branch{To: 1, Probability: 1})
	b.AddAction(0, Branch{To: 2, Probability: 1})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.AddAction(2, Branch{To: 2, Probability: 1})
	b.SetStateReward(0, 1)
	b.SetInitial(0)
	model, err := b.Build()
	require.NoError(t, err)
	target := NewBitVectorFromIndices(3, 1)

	minResult, _, err := NewModelChecker(model).CheckReachabilityReward(Minimize, target, false)
	require.NoError(t, err)
	assert.InDelta(t, 1, minResult[0], 1e-9)

	maxResult, _, err := NewModelChecker(model).CheckReachabilityReward(Maximize, target, false)
	require.NoError(t, err)
	assert.True(t, math.IsInf(maxResult[0], 1))
}

func TestReachabilityRewardMinAvoidsInfiniteCheapAction(t *testing.T) {
	// The nominally cheaper action falls into a trap that never reaches
	// the target: its true value is infinite, so it must not win the
	// minimization over the reduced system.
	b := NewModelBuilder(3)
	b.AddAction(0, Branch{To: 1, Probability: 1, Reward: 5})
	b.AddAction(0, Branch{To: 2, Probability: 1, Reward: 1})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.AddAction(2, Branch{To: 2, Probability: 1})
	b.SetInitial(0)
	model, err := b.Build()
	require.NoError(t, err)
	target := NewBitVectorFromIndices(3, 1)

	result, scheduler, err := NewModelChecker(model).CheckReachabilityReward(Minimize, target, false)
	require.NoError(t, err)
	assert.InDelta(t, 5, result[0], 1e-5)
	assert.True(t, math.IsInf(result[2], 1))
	assert.Equal(t, 0, scheduler.Choice(0), "minimizing scheduler pays for the action that reaches the target")

	// The induced chain attains the computed minimum.
	induced, err := model.InducedModel(scheduler)
	require.NoError(t, err)
	chainResult, _, err := NewModelChecker(induced).CheckReachabilityReward(Minimize, target, false)
	require.NoError(t, err)
	assert.InDelta(t, result[0], chainResult[0], 1e-5)
}

func TestReachabilityRewardTransitionRewards(t *testing.T) {
	b := NewModelBuilder(2)
	b.AddAction(0, Branch{To: 1, Probability: 1, Reward: 3})
	b.AddAction(1, Branch{To: 1, Probability: 1})
	b.SetStateReward(0, 1)
	b.SetInitial(0)
	model, err := b.Build()
	require.NoError(t, err)

	result, _, err := NewModelChecker(model).CheckReachabilityReward(Minimize, NewBitVectorFromIndices(2, 1), false)
	require.NoError(t, err)
	assert.InDelta(t, 4, result[0], 1e-5, "transition reward plus state reward")
}

func TestReachabilityRewardQualitative(t *testing.T) {
	model := rewardScenario(t)
	stub := &stubSolver{}
	mc := NewModelChecker(model, WithSolver(stub))

	result, _, err := mc.CheckReachabilityReward(Minimize, NewBitVectorFromIndices(3, 1), true)
	require.NoError(t, err)
	assert.True(t, IsUndetermined(result[0]))
	assert.Equal(t, 0.0, result[1])
	assert.True(t, math.IsInf(result[2], 1))
	assert.Equal(t, 0, stub.solves)
}

func TestReachabilityRewardMissingRewardModel(t *testing.T) {
	model, _, _ := twoStateScenario(t)
	result, _, err := NewModelChecker(model).CheckReachabilityReward(Minimize, NewBitVectorFromIndices(2, 1), false)
	require.ErrorIs(t, err, ErrMissingRewardModel)
	assert.Nil(t, result)
}

func TestBoundedRewardsRejectNegativeBound(t *testing.T) {
	model := rewardScenario(t)
	mc := NewModelChecker(model)

	_, err := mc.CheckInstantaneousReward(Maximize, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = mc.CheckCumulativeReward(Maximize, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStatsCollection(t *testing.T) {
	model := branchingModel(t)
	stats := NewStatsCollector()
	mc := NewModelChecker(model, WithStats(stats))

	_, _, err := mc.CheckUntil(Maximize, FullBitVector(4), NewBitVectorFromIndices(4, 1), false)
	require.NoError(t, err)

	assert.Equal(t, 1.0, stats.Value("checks"))
	assert.Equal(t, 1.0, stats.Value("states_maybe"))
	assert.Equal(t, 1.0, stats.Value("states_yes"))
	assert.Equal(t, 2.0, stats.Value("states_no"))
	assert.Greater(t, stats.Value("solver_iterations"), 0.0)
	assert.Contains(t, stats.GenerateMetricsTable(), "states_maybe")
}
