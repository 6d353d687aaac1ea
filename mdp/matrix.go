package mdp

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is a single matrix entry: column index and value.
type Entry struct {
	Column int
	Value  float64
}

// SparseMatrix is a row-grouped sparse matrix. Each state of the model
// owns a contiguous block of rows, one per available action; the block
// boundaries live in a separate rowGroupIndices slice (rowGroupIndices[s]
// is the first row of state s, rowGroupIndices[s+1] the first row of
// state s+1). Rows keep their entries sorted by column.
type SparseMatrix struct {
	columnCount int
	rows        [][]Entry
}

// NewSparseMatrix builds a matrix from explicit rows. Entries within a
// row are sorted by column; the rows are used as given, not copied.
func NewSparseMatrix(columnCount int, rows [][]Entry) *SparseMatrix {
	for _, row := range rows {
		sort.Slice(row, func(i, j int) bool { return row[i].Column < row[j].Column })
	}
	return &SparseMatrix{columnCount: columnCount, rows: rows}
}

func (m *SparseMatrix) RowCount() int    { return len(m.rows) }
func (m *SparseMatrix) ColumnCount() int { return m.columnCount }

// Row returns the entries of row r. The slice must not be modified.
func (m *SparseMatrix) Row(r int) []Entry { return m.rows[r] }

// RowSum returns the sum of the entries in row r.
func (m *SparseMatrix) RowSum(r int) float64 {
	sum := 0.0
	for _, e := range m.rows[r] {
		sum += e.Value
	}
	return sum
}

// MultiplyRow returns the dot product of row r with the vector x.
func (m *SparseMatrix) MultiplyRow(r int, x []float64) float64 {
	sum := 0.0
	for _, e := range m.rows[r] {
		sum += e.Value * x[e.Column]
	}
	return sum
}

// Transpose returns the backward view of the matrix: row j of the
// transpose lists, per original row entering column j, the row index and
// value. Together with the row-group indices this yields the predecessor
// relation used by the graph precomputations.
func (m *SparseMatrix) Transpose() *SparseMatrix {
	rows := make([][]Entry, m.columnCount)
	for r, row := range m.rows {
		for _, e := range row {
			rows[e.Column] = append(rows[e.Column], Entry{Column: r, Value: e.Value})
		}
	}
	return NewSparseMatrix(len(m.rows), rows)
}

// Submatrix restricts the matrix to the row groups of the states in
// constraint. Columns are renumbered to positions within the kept
// states; entries leading outside the kept states are dropped. Returns
// the submatrix and its row-group indices.
func (m *SparseMatrix) Submatrix(constraint *BitVector, rowGroupIndices []int) (*SparseMatrix, []int) {
	sub, subGroups, _ := m.SubmatrixExcluding(constraint, rowGroupIndices, nil)
	return sub, subGroups
}

// SubmatrixExcluding restricts like Submatrix but additionally drops
// every row of a kept group whose support touches the avoid set (nil
// avoids nothing). The third result lists the original indices of the
// kept rows. Callers must ensure every kept group retains a row.
func (m *SparseMatrix) SubmatrixExcluding(constraint *BitVector, rowGroupIndices []int, avoid *BitVector) (*SparseMatrix, []int, []int) {
	newIndex := make([]int, constraint.Len())
	kept := 0
	for i := constraint.NextSet(0); i >= 0; i = constraint.NextSet(i + 1) {
		newIndex[i] = kept
		kept++
	}

	rows := make([][]Entry, 0)
	subGroups := make([]int, 0, kept+1)
	var keptRows []int
	for s := constraint.NextSet(0); s >= 0; s = constraint.NextSet(s + 1) {
		subGroups = append(subGroups, len(rows))
		for r := rowGroupIndices[s]; r < rowGroupIndices[s+1]; r++ {
			if avoid != nil && rowEnters(m.rows[r], avoid) {
				continue
			}
			var row []Entry
			for _, e := range m.rows[r] {
				if constraint.Get(e.Column) {
					row = append(row, Entry{Column: newIndex[e.Column], Value: e.Value})
				}
			}
			rows = append(rows, row)
			keptRows = append(keptRows, r)
		}
	}
	subGroups = append(subGroups, len(rows))
	return NewSparseMatrix(kept, rows), subGroups, keptRows
}

// ConstrainedRowSumVector computes, for every row of every state in
// rowGroupConstraint, the sum of the entries whose column lies in
// columnConstraint. The result is indexed like the rows of the
// corresponding submatrix.
func (m *SparseMatrix) ConstrainedRowSumVector(rowGroupConstraint *BitVector, rowGroupIndices []int, columnConstraint *BitVector) []float64 {
	out := make([]float64, 0)
	for s := rowGroupConstraint.NextSet(0); s >= 0; s = rowGroupConstraint.NextSet(s + 1) {
		for r := rowGroupIndices[s]; r < rowGroupIndices[s+1]; r++ {
			sum := 0.0
			for _, e := range m.rows[r] {
				if columnConstraint.Get(e.Column) {
					sum += e.Value
				}
			}
			out = append(out, sum)
		}
	}
	return out
}

// PointwiseProductRowSums multiplies the matrix entrywise with other and
// returns the per-row sums. Rows of other may carry entries for any
// subset of this matrix's columns; missing entries count as zero. Used
// to turn a transition-reward matrix into expected one-step rewards.
func (m *SparseMatrix) PointwiseProductRowSums(other *SparseMatrix) []float64 {
	out := make([]float64, len(m.rows))
	for r, row := range m.rows {
		o := other.rows[r]
		i, j := 0, 0
		sum := 0.0
		for i < len(row) && j < len(o) {
			switch {
			case row[i].Column < o[j].Column:
				i++
			case row[i].Column > o[j].Column:
				j++
			default:
				sum += row[i].Value * o[j].Value
				i++
				j++
			}
		}
		out[r] = sum
	}
	return out
}

// MakeRowGroupsAbsorbing replaces every row of every state in the given
// set with a unit self-loop. Only safe on matrices the caller owns, such
// as a freshly built submatrix.
func (m *SparseMatrix) MakeRowGroupsAbsorbing(states *BitVector, rowGroupIndices []int) {
	for s := states.NextSet(0); s >= 0; s = states.NextSet(s + 1) {
		for r := rowGroupIndices[s]; r < rowGroupIndices[s+1]; r++ {
			m.rows[r] = []Entry{{Column: s, Value: 1.0}}
		}
	}
}

func (m *SparseMatrix) String() string {
	var sb strings.Builder
	for r, row := range m.rows {
		fmt.Fprintf(&sb, "row %d:", r)
		for _, e := range row {
			fmt.Fprintf(&sb, " %d:%g", e.Column, e.Value)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// stateOfRow maps a row index back to the state owning its row group.
func stateOfRow(row int, rowGroupIndices []int) int {
	// rowGroupIndices is sorted; find the group containing row.
	return sort.SearchInts(rowGroupIndices, row+1) - 1
}
