package sweep

import (
	"fmt"

	"github.com/stplan/sheetsweep/internal/model"
)

// Space is the Cartesian combination space spanned by a set of ordered
// parameter value lists. Combinations are addressed by a single linear index
// in mixed radix: the last parameter list is the least significant digit, so
// walking indexes 0..Total()-1 cycles the last parameter fastest.
type Space struct {
	parameters [][]string
	total      int
}

// NewSpace creates a combination space from parameter value lists.
func NewSpace(parameters [][]string) (*Space, error) {
	if len(parameters) == 0 {
		return nil, fmt.Errorf("at least one parameter list is required: %w", model.ErrNotValid)
	}

	total := 1
	for i, values := range parameters {
		if len(values) == 0 {
			return nil, fmt.Errorf("parameter list %d is empty: %w", i, model.ErrNotValid)
		}
		total *= len(values)
	}

	return &Space{parameters: parameters, total: total}, nil
}

// Total returns the number of combinations in the space.
func (s *Space) Total() int { return s.total }

// Dimensions returns the number of parameter lists.
func (s *Space) Dimensions() int { return len(s.parameters) }

// Decode returns the parameter combination at a linear index, one value per
// parameter list and in list order.
func (s *Space) Decode(index int) ([]string, error) {
	if index < 0 || index >= s.total {
		return nil, fmt.Errorf("index %d outside combination space of size %d: %w",
			index, s.total, model.ErrNotValid)
	}

	combination := make([]string, len(s.parameters))
	remainder := index
	for i := len(s.parameters) - 1; i >= 0; i-- {
		values := s.parameters[i]
		combination[i] = values[remainder%len(values)]
		remainder /= len(values)
	}
	return combination, nil
}
