package outcome

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	out := Run(context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})

	require.True(t, out.OK())
	value, ok := out.Value()
	assert.True(t, ok)
	assert.Equal(t, 42, value)
	assert.NoError(t, out.Err())
}

func TestRunFailure(t *testing.T) {
	fault := errors.New("node unreachable")

	var out Outcome[string]
	require.NotPanics(t, func() {
		out = Run(context.Background(), func(context.Context) (string, error) {
			return "ignored", fault
		})
	})

	assert.False(t, out.OK())
	assert.ErrorIs(t, out.Err(), fault)
	value, ok := out.Value()
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestRunRecoversPanic(t *testing.T) {
	var out Outcome[int]
	require.NotPanics(t, func() {
		out = Run(context.Background(), func(context.Context) (int, error) {
			panic("boom")
		})
	})

	require.False(t, out.OK())
	var panicErr *PanicError
	require.ErrorAs(t, out.Err(), &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestRunRecoversErrorPanic(t *testing.T) {
	fault := errors.New("nil channel")
	out := Run(context.Background(), func(context.Context) (int, error) {
		panic(fault)
	})

	assert.ErrorIs(t, out.Err(), fault)
}

func TestRunPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "job")

	out := Run(ctx, func(ctx context.Context) (any, error) {
		return ctx.Value(key{}), nil
	})

	value, _ := out.Value()
	assert.Equal(t, "job", value)
}

func TestFailureWithoutError(t *testing.T) {
	out := Failure[int](nil)

	assert.False(t, out.OK())
	assert.ErrorIs(t, out.Err(), ErrUnknownFault)

	var zero Outcome[int]
	assert.ErrorIs(t, zero.Err(), ErrUnknownFault)
}

func TestUnwrap(t *testing.T) {
	value, err := Success("report").Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "report", value)

	_, err = Failure[string](context.DeadlineExceeded).Unwrap()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
