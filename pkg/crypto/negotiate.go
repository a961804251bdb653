package crypto

import (
	"errors"
	"fmt"
)

// ErrPaddingExhausted is returned when every padding strategy failed with a
// recoverable error.
var ErrPaddingExhausted = errors.New("all padding modes failed")

// Result tags the outcome of one padding attempt.
type Result int

const (
	// Done stops negotiation successfully.
	Done Result = iota
	// TryNext means the attempt failed in a way the next padding may fix.
	TryNext
	// Abort stops negotiation with the attempt's error.
	Abort
)

// Negotiate runs try for each padding in order, stopping at the first Done or
// Abort. It returns the padding that succeeded.
func Negotiate(order []Padding, try func(Padding) (Result, error)) (Padding, error) {
	if len(order) == 0 {
		return 0, errors.New("no padding modes to try")
	}

	var last error
	for _, p := range order {
		res, err := try(p)
		switch res {
		case Done:
			return p, nil
		case Abort:
			return p, err
		}
		last = err
	}
	return order[len(order)-1], fmt.Errorf("%w after %d attempts: %v", ErrPaddingExhausted, len(order), last)
}
