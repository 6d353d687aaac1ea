package mdp

import (
	"fmt"
	"sort"
	"strings"
)

// Metric is a named counter describing one aspect of a check run.
type Metric struct {
	Name        string
	Type        string
	Value       float64
	Unit        string
	Description string
}

func (m *Metric) Inc() {
	m.Value++
}

func (m *Metric) Add(delta float64) {
	m.Value += delta
}

// StatsCollector accumulates counters across check calls: qualitative
// precomputation set sizes, solver sweeps, and whatever callers add.
type StatsCollector struct {
	metrics map[string]*Metric
}

func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		metrics: make(map[string]*Metric),
	}
}

// Counter returns the named counter, creating it on first use.
func (sc *StatsCollector) Counter(name, desc, unit string) *Metric {
	if m, exists := sc.metrics[name]; exists {
		return m
	}
	m := &Metric{
		Name:        name,
		Type:        "counter",
		Value:       0,
		Unit:        unit,
		Description: desc,
	}
	sc.metrics[name] = m
	return m
}

// Value returns the current value of the named counter, zero if absent.
func (sc *StatsCollector) Value(name string) float64 {
	if m, exists := sc.metrics[name]; exists {
		return m.Value
	}
	return 0
}

// GenerateMetricsTable renders the counters as a markdown table.
func (sc *StatsCollector) GenerateMetricsTable() string {
	var sb strings.Builder
	sb.WriteString("| Metric | Type | Value | Unit | Description |\n")
	sb.WriteString("|--------|------|-------|------|-------------|\n")

	names := make([]string, 0, len(sc.metrics))
	for name := range sc.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := sc.metrics[name]
		sb.WriteString(fmt.Sprintf("| %s | %s | %.2f | %s | %s |\n",
			m.Name, m.Type, m.Value, m.Unit, m.Description))
	}

	return sb.String()
}
