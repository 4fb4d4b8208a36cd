package reconcile

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type source struct {
	values []int64
	forced []bool
	errAt  map[int]error
}

func (s *source) fetch(_ context.Context, force bool) (*big.Int, error) {
	i := len(s.forced)
	s.forced = append(s.forced, force)
	if err := s.errAt[i]; err != nil {
		return nil, err
	}
	if i >= len(s.values) {
		i = len(s.values) - 1
	}
	return big.NewInt(s.values[i]), nil
}

func noSleep(t *testing.T) (Option, *[]time.Duration) {
	var slept []time.Duration
	return WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}), &slept
}

func TestSatisfiedImmediately(t *testing.T) {
	src := &source{values: []int64{100}}
	sleep, slept := noSleep(t)
	res, err := Wait(context.Background(), src.fetch, big.NewInt(100), sleep)
	require.NoError(t, err)
	require.True(t, res.Satisfied)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, []bool{false}, src.forced)
	require.Empty(t, *slept)
}

func TestConvergesWithinBudget(t *testing.T) {
	src := &source{values: []int64{10, 60, 100}}
	sleep, slept := noSleep(t)
	res, err := Wait(context.Background(), src.fetch, big.NewInt(100), sleep)
	require.NoError(t, err)
	require.True(t, res.Satisfied)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, int64(100), res.Balance.Int64())
	require.Equal(t, []bool{false, true, true}, src.forced)
	require.Equal(t, []time.Duration{DefaultDelay, DefaultDelay}, *slept)
}

func TestNeverConvergesStopsAtBudget(t *testing.T) {
	for _, budget := range []int{1, 3, 5} {
		src := &source{values: []int64{1, 2, 3, 4, 5, 6}}
		sleep, _ := noSleep(t)
		res, err := Wait(context.Background(), src.fetch, big.NewInt(1000), sleep, WithAttempts(budget))
		require.NoError(t, err)
		require.False(t, res.Satisfied)
		require.Equal(t, budget, res.Attempts)
		require.Len(t, src.forced, budget)
		require.Equal(t, int64(budget), res.Balance.Int64(), "last observed value is returned")
	}
}

func TestFetchErrorsDegrade(t *testing.T) {
	src := &source{values: []int64{0, 0, 500}, errAt: map[int]error{0: errors.New("rpc down")}}
	sleep, _ := noSleep(t)
	res, err := Wait(context.Background(), src.fetch, big.NewInt(500), sleep)
	require.NoError(t, err)
	require.True(t, res.Satisfied)
	require.NoError(t, res.Err)
}

func TestAllFetchesFail(t *testing.T) {
	boom := errors.New("rpc down")
	src := &source{values: []int64{0}, errAt: map[int]error{0: boom, 1: boom, 2: boom}}
	sleep, _ := noSleep(t)
	res, err := Wait(context.Background(), src.fetch, big.NewInt(1), sleep)
	require.NoError(t, err)
	require.False(t, res.Satisfied)
	require.ErrorIs(t, res.Err, boom)
	require.False(t, res.Observed)
	require.Equal(t, int64(0), res.Balance.Int64())
}

func TestFailedRefreshKeepsLastObservedBalance(t *testing.T) {
	boom := errors.New("refresh failed")
	src := &source{values: []int64{400}, errAt: map[int]error{1: boom, 2: boom}}
	sleep, _ := noSleep(t)
	res, err := Wait(context.Background(), src.fetch, big.NewInt(500), sleep)
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempts)
	require.False(t, res.Satisfied)
	require.True(t, res.Observed)
	require.ErrorIs(t, res.Err, boom)
	require.Equal(t, int64(400), res.Balance.Int64())
}

func TestCancellationDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &source{values: []int64{0}}
	_, err := Wait(ctx, src.fetch, big.NewInt(1), WithDelay(time.Hour), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, src.forced, 1)
}

func TestRealSleepHonoursDelay(t *testing.T) {
	src := &source{values: []int64{0, 5}}
	start := time.Now()
	res, err := Wait(context.Background(), src.fetch, big.NewInt(5), WithDelay(20*time.Millisecond))
	require.NoError(t, err)
	require.True(t, res.Satisfied)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
