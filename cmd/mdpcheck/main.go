// Command mdpcheck runs probabilistic-reachability and reward analyses
// on explicit MDP model files.
//
// Usage:
//
//	mdpcheck until --model die.yaml --dir max --phi safe --psi goal
//	mdpcheck bounded-until --model die.yaml --dir min --phi safe --psi goal --bound 10
//	mdpcheck reward --model die.yaml --dir min --target done
//	mdpcheck cumulative --model die.yaml --dir max --bound 5
//	mdpcheck dot --model die.yaml
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rfielding/mdp-prctl/mdp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type options struct {
	modelPath   string
	direction   string
	phi         string
	psi         string
	target      string
	bound       int
	qualitative bool
	showStats   bool
	showSched   bool
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "mdpcheck",
		Short:         "Extremal probability and reward analysis for sparse MDPs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&opts.modelPath, "model", "", "path to the YAML model file")
	root.PersistentFlags().StringVar(&opts.direction, "dir", "", "optimization direction: min or max")
	root.PersistentFlags().BoolVar(&opts.qualitative, "qualitative", false, "qualitative evaluation only")
	root.PersistentFlags().BoolVar(&opts.showStats, "stats", false, "print check statistics")
	root.PersistentFlags().BoolVar(&opts.showSched, "scheduler", false, "print the synthesized scheduler")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")
	_ = root.MarkPersistentFlagRequired("model")

	root.AddCommand(newUntilCmd(opts))
	root.AddCommand(newBoundedUntilCmd(opts))
	root.AddCommand(newRewardCmd(opts))
	root.AddCommand(newCumulativeCmd(opts))
	root.AddCommand(newInstantaneousCmd(opts))
	root.AddCommand(newDotCmd(opts))
	return root
}

func newUntilCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "until",
		Short: "Extremal probability of phi until psi",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCheckEnv(opts)
			if err != nil {
				return err
			}
			result, scheduler, err := env.checker.CheckUntil(env.direction, env.labelSet(opts.phi), env.labelSet(opts.psi), opts.qualitative)
			if err != nil {
				return err
			}
			env.printResult(result)
			env.printScheduler(scheduler)
			env.printStats()
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.phi, "phi", "", "label of the phi states")
	cmd.Flags().StringVar(&opts.psi, "psi", "", "label of the psi states")
	_ = cmd.MarkFlagRequired("psi")
	return cmd
}

func newBoundedUntilCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bounded-until",
		Short: "Extremal probability of phi until psi within a step bound",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCheckEnv(opts)
			if err != nil {
				return err
			}
			result, err := env.checker.CheckBoundedUntil(env.direction, env.labelSet(opts.phi), env.labelSet(opts.psi), opts.bound, opts.qualitative)
			if err != nil {
				return err
			}
			env.printResult(result)
			env.printStats()
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.phi, "phi", "", "label of the phi states")
	cmd.Flags().StringVar(&opts.psi, "psi", "", "label of the psi states")
	cmd.Flags().IntVar(&opts.bound, "bound", 0, "step bound")
	_ = cmd.MarkFlagRequired("psi")
	_ = cmd.MarkFlagRequired("bound")
	return cmd
}

func newRewardCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reward",
		Short: "Extremal expected reward until reaching the target states",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCheckEnv(opts)
			if err != nil {
				return err
			}
			result, scheduler, err := env.checker.CheckReachabilityReward(env.direction, env.labelSet(opts.target), opts.qualitative)
			if err != nil {
				return err
			}
			env.printResult(result)
			env.printScheduler(scheduler)
			env.printStats()
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.target, "target", "", "label of the target states")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newCumulativeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cumulative",
		Short: "Extremal expected reward accumulated over a step bound",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCheckEnv(opts)
			if err != nil {
				return err
			}
			result, err := env.checker.CheckCumulativeReward(env.direction, opts.bound)
			if err != nil {
				return err
			}
			env.printResult(result)
			env.printStats()
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.bound, "bound", 0, "step bound")
	_ = cmd.MarkFlagRequired("bound")
	return cmd
}

func newInstantaneousCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instantaneous",
		Short: "Extremal expected state reward after a step bound",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCheckEnv(opts)
			if err != nil {
				return err
			}
			result, err := env.checker.CheckInstantaneousReward(env.direction, opts.bound)
			if err != nil {
				return err
			}
			env.printResult(result)
			env.printStats()
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.bound, "bound", 0, "step bound")
	_ = cmd.MarkFlagRequired("bound")
	return cmd
}

func newDotCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dot",
		Short: "Print the model as Graphviz DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCheckEnv(opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), env.model.GenerateGraphviz())
			return nil
		},
	}
}

// checkEnv bundles the loaded model, its state names, and a checker.
type checkEnv struct {
	opts       *options
	spec       *mdp.ModelSpec
	model      *mdp.Mdp
	checker    *mdp.ModelChecker
	direction  mdp.Direction
	stats      *mdp.StatsCollector
	stateNames []string
}

func newCheckEnv(opts *options) (*checkEnv, error) {
	data, err := os.ReadFile(opts.modelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	spec, err := mdp.ParseModelSpec(data)
	if err != nil {
		return nil, err
	}
	model, err := spec.Build()
	if err != nil {
		return nil, err
	}

	direction, err := parseDirection(opts.direction)
	if err != nil {
		return nil, err
	}

	stats := mdp.NewStatsCollector()
	checker := mdp.NewModelChecker(model, mdp.WithStats(stats))

	names := make([]string, len(spec.States))
	for i, st := range spec.States {
		names[i] = st.Name
	}
	return &checkEnv{
		opts:       opts,
		spec:       spec,
		model:      model,
		checker:    checker,
		direction:  direction,
		stats:      stats,
		stateNames: names,
	}, nil
}

func parseDirection(s string) (mdp.Direction, error) {
	switch s {
	case "min":
		return mdp.Minimize, nil
	case "max":
		return mdp.Maximize, nil
	case "":
		return mdp.DirectionUnspecified, nil
	default:
		return mdp.DirectionUnspecified, fmt.Errorf("%w: unknown direction %q (want min or max)", mdp.ErrInvalidArgument, s)
	}
}

// labelSet resolves a label argument to a state set; the empty label
// means all states (an unrestricted phi).
func (env *checkEnv) labelSet(label string) *mdp.BitVector {
	if label == "" {
		return mdp.FullBitVector(env.model.NumStates())
	}
	return env.model.Label(label)
}

func (env *checkEnv) printResult(result []float64) {
	for s, v := range result {
		switch {
		case mdp.IsUndetermined(v):
			fmt.Printf("%s: undetermined (qualitative)\n", env.stateNames[s])
		case math.IsInf(v, 1):
			fmt.Printf("%s: inf\n", env.stateNames[s])
		default:
			fmt.Printf("%s: %g\n", env.stateNames[s], v)
		}
	}
	if v, err := initialValue(env.model, result); err == nil {
		fmt.Printf("result (initial states): %g\n", v)
	}
}

// initialValue returns the minimum result over the initial states, the
// value the whole check stands for. Requesting a numeric value from a
// qualitative evaluation is a result-type mismatch.
func initialValue(model *mdp.Mdp, result []float64) (float64, error) {
	value := math.Inf(1)
	found := false
	initial := model.InitialStates()
	for s := initial.NextSet(0); s >= 0; s = initial.NextSet(s + 1) {
		if mdp.IsUndetermined(result[s]) {
			return 0, fmt.Errorf("%w: quantitative value requested from a qualitative result", mdp.ErrInternalType)
		}
		if result[s] < value {
			value = result[s]
		}
		found = true
	}
	if !found {
		return 0, errors.New("model has no initial states")
	}
	return value, nil
}

func (env *checkEnv) printScheduler(scheduler mdp.Scheduler) {
	if !env.opts.showSched {
		return
	}
	fmt.Println("scheduler:")
	index := env.spec.StateIndex()
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return index[names[i]] < index[names[j]] })
	for _, name := range names {
		s := index[name]
		action := scheduler.Choice(s)
		label := env.spec.States[s].Actions[action].Name
		if label == "" {
			label = fmt.Sprintf("a%d", action)
		}
		fmt.Printf("  %s: %s\n", name, label)
	}
}

func (env *checkEnv) printStats() {
	if !env.opts.showStats {
		return
	}
	fmt.Print(env.stats.GenerateMetricsTable())
}
