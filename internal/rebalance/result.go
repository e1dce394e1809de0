package rebalance

import (
	"errors"
	"fmt"
)

// ErrMalformedOutcome marks a successful result that is not a 3-element sequence.
var ErrMalformedOutcome = errors.New("rebalance: malformed outcome shape")

// RawResult is the positional result produced by the rebalance operation:
// increase, decrease, result.
type RawResult []any

// Response is the named view over a RawResult.
type Response struct {
	Increase any `json:"increase"`
	Decrease any `json:"decrease"`
	Result   any `json:"result"`
}

// CheckShape must pass before Decompose is called.
func CheckShape(raw RawResult) error {
	if len(raw) != 3 {
		return fmt.Errorf("%w: expected 3 elements, got %d", ErrMalformedOutcome, len(raw))
	}
	return nil
}

// Decompose maps the positional result onto named fields. It does not validate.
func Decompose(raw RawResult) Response {
	return Response{
		Increase: raw[0],
		Decrease: raw[1],
		Result:   raw[2],
	}
}
