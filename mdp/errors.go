package mdp

import "errors"

// Failure kinds raised at the entry boundary of a check. Callers match
// them with errors.Is; the wrapped message carries the specifics.
var (
	// ErrInvalidArgument covers malformed inputs, including checking a
	// nondeterministic model without a declared min/max direction.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotImplemented marks a check variant that is not supported for
	// the given model representation.
	ErrNotImplemented = errors.New("not implemented")

	// ErrMissingRewardModel is returned when a reward property is
	// checked against a model lacking the required reward component.
	ErrMissingRewardModel = errors.New("missing reward model")

	// ErrInternalType signals a qualitative/quantitative mismatch
	// between the result that was produced and the one requested.
	ErrInternalType = errors.New("internal type error")
)
