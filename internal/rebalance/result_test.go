package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecompose(t *testing.T) {
	raw := RawResult{5000, 3000, "ok"}

	require.NoError(t, CheckShape(raw))
	resp := Decompose(raw)

	assert.Equal(t, Response{Increase: 5000, Decrease: 3000, Result: "ok"}, resp)
}

func TestCheckShapeRejectsWrongLength(t *testing.T) {
	for _, raw := range []RawResult{nil, {}, {1, 2}, {1, 2, 3, 4}} {
		assert.ErrorIs(t, CheckShape(raw), ErrMalformedOutcome, "len=%d", len(raw))
	}
}
