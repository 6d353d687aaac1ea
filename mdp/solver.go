package mdp

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoConvergence is reported by an iterative solver that exhausts its
// iteration budget before meeting its precision criterion.
var ErrNoConvergence = errors.New("equation solver did not converge")

// EquationSolver solves the min-max equation systems arising from
// nondeterministic models. The checkers consume exactly these two
// primitives; everything else about the solver (method, precision,
// convergence) is its own business.
type EquationSolver interface {
	// PerformMatrixVectorMultiplication executes exactly iterations
	// synchronous sweeps of x := reduce(A*x + addend), where reduce
	// collapses each row group to its minimum or maximum. x has one
	// entry per row group, addend (optional) one entry per row.
	PerformMatrixVectorMultiplication(minimize bool, matrix *SparseMatrix, x []float64, rowGroupIndices []int, addend []float64, iterations int)

	// SolveEquationSystem solves x = reduce(A*x + b) to the solver's own
	// convergence criterion. x holds the initial guess on entry and the
	// solution on success.
	SolveEquationSystem(minimize bool, matrix *SparseMatrix, x []float64, b []float64, rowGroupIndices []int) error
}

// ValueIterationSolver is the reference EquationSolver: synchronous
// value iteration with an absolute or relative termination criterion.
type ValueIterationSolver struct {
	Precision     float64
	MaxIterations int
	Relative      bool

	// Iterations holds the sweep count of the most recent solve.
	Iterations int
}

// NewValueIterationSolver returns a solver with the default precision
// 1e-6 and an iteration cap of 10000.
func NewValueIterationSolver() *ValueIterationSolver {
	return &ValueIterationSolver{Precision: 1e-6, MaxIterations: 10000}
}

// sweep computes one reduced multiplication pass: per row group the
// extremal value of A*x + addend over the group's rows, with ties going
// to the lowest row. The result has one entry per row group.
func sweep(minimize bool, matrix *SparseMatrix, x []float64, rowGroupIndices []int, addend []float64) []float64 {
	numGroups := len(rowGroupIndices) - 1
	out := make([]float64, numGroups)
	for g := 0; g < numGroups; g++ {
		best := 0.0
		for r := rowGroupIndices[g]; r < rowGroupIndices[g+1]; r++ {
			v := matrix.MultiplyRow(r, x)
			if addend != nil {
				v += addend[r]
			}
			if r == rowGroupIndices[g] {
				best = v
			} else if (minimize && v < best) || (!minimize && v > best) {
				best = v
			}
		}
		out[g] = best
	}
	return out
}

func (s *ValueIterationSolver) PerformMatrixVectorMultiplication(minimize bool, matrix *SparseMatrix, x []float64, rowGroupIndices []int, addend []float64, iterations int) {
	for i := 0; i < iterations; i++ {
		copy(x, sweep(minimize, matrix, x, rowGroupIndices, addend))
	}
}

func (s *ValueIterationSolver) SolveEquationSystem(minimize bool, matrix *SparseMatrix, x []float64, b []float64, rowGroupIndices []int) error {
	precision := s.Precision
	if precision <= 0 {
		precision = 1e-6
	}
	maxIterations := s.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10000
	}

	for s.Iterations = 0; s.Iterations < maxIterations; s.Iterations++ {
		next := sweep(minimize, matrix, x, rowGroupIndices, b)
		converged := true
		for i := range next {
			diff := math.Abs(next[i] - x[i])
			if s.Relative && next[i] != 0 {
				diff /= math.Abs(next[i])
			}
			if diff > precision {
				converged = false
			}
		}
		copy(x, next)
		if converged {
			return nil
		}
	}
	return fmt.Errorf("%w after %d iterations (precision %g)", ErrNoConvergence, maxIterations, precision)
}
