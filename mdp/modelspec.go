package mdp

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ModelSpec is the file format for an explicit MDP: named states, each
// with labeled action rows of probability/reward branches. States are
// numbered in file order.
type ModelSpec struct {
	Name    string      `yaml:"name"`
	Type    string      `yaml:"type" validate:"required"`
	Initial []string    `yaml:"initial" validate:"required,min=1"`
	States  []StateSpec `yaml:"states" validate:"required,min=1,dive"`
}

// StateSpec describes one state of the model.
type StateSpec struct {
	Name    string       `yaml:"name" validate:"required"`
	Labels  []string     `yaml:"labels"`
	Reward  float64      `yaml:"reward" validate:"gte=0"`
	Actions []ActionSpec `yaml:"actions" validate:"required,min=1,dive"`
}

// ActionSpec is one nondeterministic choice of a state.
type ActionSpec struct {
	Name     string       `yaml:"name"`
	Branches []BranchSpec `yaml:"branches" validate:"required,min=1,dive"`
}

// BranchSpec is one probabilistic outcome of an action.
type BranchSpec struct {
	To          string  `yaml:"to" validate:"required"`
	Probability float64 `yaml:"probability" validate:"gt=0,lte=1"`
	Reward      float64 `yaml:"reward"`
}

var specValidator = validator.New()

// ParseModelSpec decodes and validates a YAML model spec.
func ParseModelSpec(data []byte) (*ModelSpec, error) {
	var spec ModelSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: decoding model spec: %v", ErrInvalidArgument, err)
	}
	if err := specValidator.Struct(&spec); err != nil {
		return nil, fmt.Errorf("%w: validating model spec: %v", ErrInvalidArgument, err)
	}
	return &spec, nil
}

// LoadModelFile reads, parses and builds a model file.
func LoadModelFile(path string) (*Mdp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	spec, err := ParseModelSpec(data)
	if err != nil {
		return nil, err
	}
	return spec.Build()
}

// Build turns the spec into an immutable model. Only explicit sparse
// MDPs are supported; other model types in the file format are reserved.
func (spec *ModelSpec) Build() (*Mdp, error) {
	if spec.Type != "mdp" {
		return nil, fmt.Errorf("%w: model type %q", ErrNotImplemented, spec.Type)
	}

	index := make(map[string]int, len(spec.States))
	for i, st := range spec.States {
		if _, dup := index[st.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate state %q", ErrInvalidArgument, st.Name)
		}
		index[st.Name] = i
	}

	b := NewModelBuilder(len(spec.States))
	for i, st := range spec.States {
		if st.Reward != 0 {
			b.SetStateReward(i, st.Reward)
		}
		for _, label := range st.Labels {
			b.AddLabel(label, i)
		}
		for _, action := range st.Actions {
			branches := make([]Branch, 0, len(action.Branches))
			for _, br := range action.Branches {
				to, ok := index[br.To]
				if !ok {
					return nil, fmt.Errorf("%w: state %q targets unknown state %q", ErrInvalidArgument, st.Name, br.To)
				}
				branches = append(branches, Branch{To: to, Probability: br.Probability, Reward: br.Reward})
			}
			b.AddAction(i, branches...)
		}
	}
	for _, name := range spec.Initial {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown initial state %q", ErrInvalidArgument, name)
		}
		b.SetInitial(i)
	}
	return b.Build()
}

// StateIndex returns the file-order index of each state name.
func (spec *ModelSpec) StateIndex() map[string]int {
	index := make(map[string]int, len(spec.States))
	for i, st := range spec.States {
		index[st.Name] = i
	}
	return index
}
