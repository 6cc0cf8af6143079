package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/util/retry"
)

func TestDoStopsAfterAttempts(t *testing.T) {
	calls := 0
	err := retry.Do(t.Context(), retry.Policy{Attempts: 4, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("flaky")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoPermanentShortCircuits(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad input")
	err := retry.Do(t.Context(), retry.Policy{Attempts: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return retry.Permanent(sentinel)
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestValueEventuallySucceeds(t *testing.T) {
	calls := 0
	v, err := retry.Value(t.Context(), retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDoHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := retry.Do(ctx, retry.Policy{Attempts: 5, BaseDelay: 10 * time.Millisecond}, func(context.Context) error {
		return errors.New("flaky")
	})

	require.Error(t, err)
}
