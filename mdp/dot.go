package mdp

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// GenerateGraphviz generates a Graphviz DOT representation of the MDP.
// States are circles; each action is an intermediate point node with
// probability-labeled branches, the usual MDP drawing convention.
func (m *Mdp) GenerateGraphviz() string {
	var sb strings.Builder

	sb.WriteString("digraph MDP {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=circle];\n")
	sb.WriteString("\n")

	for i := m.initialStates.NextSet(0); i >= 0; i = m.initialStates.NextSet(i + 1) {
		sb.WriteString(fmt.Sprintf("  start%d [shape=point];\n", i))
		sb.WriteString(fmt.Sprintf("  start%d -> s%d;\n", i, i))
	}
	sb.WriteString("\n")

	for s := 0; s < m.numStates; s++ {
		labels := m.labelsOfState(s)
		if len(labels) > 0 {
			sb.WriteString(fmt.Sprintf("  s%d [label=\"s%d\\n{%s}\"];\n", s, s, strings.Join(labels, ", ")))
		} else {
			sb.WriteString(fmt.Sprintf("  s%d [label=\"s%d\"];\n", s, s))
		}
	}
	sb.WriteString("\n")

	for s := 0; s < m.numStates; s++ {
		for r := m.rowGroupIndices[s]; r < m.rowGroupIndices[s+1]; r++ {
			action := r - m.rowGroupIndices[s]
			row := m.transitions.Row(r)
			if len(row) == 1 && row[0].Value == 1 {
				// Deterministic action: draw a direct edge.
				sb.WriteString(fmt.Sprintf("  s%d -> s%d [label=\"a%d\"];\n", s, row[0].Column, action))
				continue
			}
			choice := fmt.Sprintf("c%d_%d", s, action)
			sb.WriteString(fmt.Sprintf("  %s [shape=point];\n", choice))
			sb.WriteString(fmt.Sprintf("  s%d -> %s [label=\"a%d\"];\n", s, choice, action))
			for _, e := range row {
				sb.WriteString(fmt.Sprintf("  %s -> s%d [label=\"%g\"];\n", choice, e.Column, e.Value))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// GenerateSchedulerGraphviz draws only the transitions of the Markov
// chain induced by the scheduler.
func (m *Mdp) GenerateSchedulerGraphviz(scheduler Scheduler) string {
	var sb strings.Builder

	sb.WriteString("digraph InducedChain {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=circle];\n")
	sb.WriteString("\n")

	for s := 0; s < m.numStates; s++ {
		r := m.rowGroupIndices[s] + scheduler.Choice(s)
		for _, e := range m.transitions.Row(r) {
			sb.WriteString(fmt.Sprintf("  s%d -> s%d [label=\"%g\"];\n", s, e.Column, e.Value))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// SaveGraphviz writes the DOT representation to a file.
func (m *Mdp) SaveGraphviz(filename string) error {
	return os.WriteFile(filename, []byte(m.GenerateGraphviz()), 0o644)
}

func (m *Mdp) labelsOfState(s int) []string {
	var out []string
	for name, states := range m.labels {
		if states.Get(s) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
