package mdp

// Qualitative precomputation: backward fixed points over the transpose
// of the transition matrix. Choices within a state are quantified
// existentially (some action) or universally (every action) depending on
// whether the surrounding analysis maximizes or minimizes. The fixpoints
// are unique, so traversal order does not matter; a predecessor worklist
// is used here.

// performProbGreater0 computes the states whose probability of
// satisfying phi until psi is greater than zero, existentially over
// schedulers when forallChoices is false and universally when it is
// true. A positive stepBound limits the backward search depth for the
// bounded-until precomputation; stepBound 0 means unbounded.
func performProbGreater0(transitions *SparseMatrix, rowGroupIndices []int, backward *SparseMatrix, phi, psi *BitVector, forallChoices bool, stepBound int) *BitVector {
	reachable := psi.Copy()
	queue := psi.Indices()

	var remaining []int
	if stepBound > 0 {
		remaining = make([]int, phi.Len())
		for _, s := range queue {
			remaining[s] = stepBound
		}
	}

	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]
		if stepBound > 0 && remaining[j] == 0 {
			continue
		}
		for _, e := range backward.Row(j) {
			s := stateOfRow(e.Column, rowGroupIndices)
			if !phi.Get(s) || reachable.Get(s) {
				continue
			}
			if forallChoices && !everyRowEnters(transitions, rowGroupIndices, s, reachable) {
				continue
			}
			reachable.Set(s)
			if stepBound > 0 {
				remaining[s] = remaining[j] - 1
			}
			queue = append(queue, s)
		}
	}
	return reachable
}

// everyRowEnters reports whether every action row of state s has at
// least one transition into the set.
func everyRowEnters(transitions *SparseMatrix, rowGroupIndices []int, s int, set *BitVector) bool {
	for r := rowGroupIndices[s]; r < rowGroupIndices[s+1]; r++ {
		if !rowEnters(transitions.Row(r), set) {
			return false
		}
	}
	return true
}

func rowEnters(row []Entry, set *BitVector) bool {
	for _, e := range row {
		if e.Value > 0 && set.Get(e.Column) {
			return true
		}
	}
	return false
}

// rowStaysWithin reports whether the support of the row lies entirely in
// the set.
func rowStaysWithin(row []Entry, set *BitVector) bool {
	for _, e := range row {
		if e.Value > 0 && !set.Get(e.Column) {
			return false
		}
	}
	return true
}

// performProb1 computes the states whose probability of satisfying phi
// until psi equals one, existentially over schedulers when existsChoice
// is set and universally otherwise. Greatest fixpoint with a nested
// least fixpoint: a state survives a round if it can reach psi through
// phi-states using only choices whose whole support stays inside the
// current candidate set.
func performProb1(transitions *SparseMatrix, rowGroupIndices []int, backward *SparseMatrix, phi, psi *BitVector, existsChoice bool) *BitVector {
	u := FullBitVector(phi.Len())
	for {
		v := psi.Copy()
		queue := psi.Indices()
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			for _, e := range backward.Row(j) {
				s := stateOfRow(e.Column, rowGroupIndices)
				if !phi.Get(s) || v.Get(s) {
					continue
				}
				if prob1Qualifies(transitions, rowGroupIndices, s, u, v, existsChoice) {
					v.Set(s)
					queue = append(queue, s)
				}
			}
		}
		if v.Equal(u) {
			return v
		}
		u = v
	}
}

// prob1Qualifies checks the per-state fixpoint condition: a choice
// qualifies if its support stays within u and touches v; the state
// qualifies if some (exists) or every (forall) choice does.
func prob1Qualifies(transitions *SparseMatrix, rowGroupIndices []int, s int, u, v *BitVector, existsChoice bool) bool {
	for r := rowGroupIndices[s]; r < rowGroupIndices[s+1]; r++ {
		row := transitions.Row(r)
		ok := rowStaysWithin(row, u) && rowEnters(row, v)
		if existsChoice && ok {
			return true
		}
		if !existsChoice && !ok {
			return false
		}
	}
	return !existsChoice
}

// performProb01Max computes the maximal sets of states with probability
// exactly 0 and exactly 1 of satisfying phi until psi when maximizing
// over schedulers.
func performProb01Max(transitions *SparseMatrix, rowGroupIndices []int, backward *SparseMatrix, phi, psi *BitVector) (prob0, prob1 *BitVector) {
	prob0 = performProbGreater0(transitions, rowGroupIndices, backward, phi, psi, false, 0).Complement()
	prob1 = performProb1(transitions, rowGroupIndices, backward, phi, psi, true)
	return prob0, prob1
}

// performProb01Min computes the maximal sets of states with probability
// exactly 0 and exactly 1 of satisfying phi until psi when minimizing
// over schedulers.
func performProb01Min(transitions *SparseMatrix, rowGroupIndices []int, backward *SparseMatrix, phi, psi *BitVector) (prob0, prob1 *BitVector) {
	prob0 = performProbGreater0(transitions, rowGroupIndices, backward, phi, psi, true, 0).Complement()
	prob1 = performProb1(transitions, rowGroupIndices, backward, phi, psi, false)
	return prob0, prob1
}
