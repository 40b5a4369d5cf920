package shared

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapStorageKeepsBusinessErrors(t *testing.T) {
	business := Invalid("line %d missing account", 2)
	require.Same(t, business, WrapStorage("insert", business))
	require.True(t, IsBusiness(business))

	infra := WrapStorage("insert voucher", errors.New("connection reset"))
	require.ErrorIs(t, infra, ErrStorage)
	require.False(t, IsBusiness(infra))
	require.Nil(t, WrapStorage("noop", nil))
}

func TestRoundAmountHalfUp(t *testing.T) {
	assert.Equal(t, "10.13", RoundAmount(decimal.RequireFromString("10.125")).StringFixed(2))
	assert.Equal(t, "10.12", RoundAmount(decimal.RequireFromString("10.1249")).StringFixed(2))
	assert.True(t, HasMinorUnitPrecision(decimal.RequireFromString("1.50")))
	assert.False(t, HasMinorUnitPrecision(decimal.RequireFromString("1.505")))
}

func TestSimpleInterest(t *testing.T) {
	got := SimpleInterest(decimal.NewFromInt(10000), decimal.RequireFromString("7.3"), 30)
	assert.Equal(t, "60.00", got.StringFixed(2))
	assert.True(t, SimpleInterest(decimal.NewFromInt(100), decimal.NewFromInt(5), 0).IsZero())
}

func TestLocalBranchLockSerialisesSameBranch(t *testing.T) {
	lock := NewLocalBranchLock()
	var (
		mu        sync.Mutex
		inside    int
		maxInside int
		failures  int32
	)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithBranchLock(context.Background(), lock, 7, func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				atomic.AddInt32(&failures, 1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, failures)
	assert.Equal(t, 1, maxInside)
}

func TestLocalBranchLockHonoursCancel(t *testing.T) {
	lock := NewLocalBranchLock()
	release, err := lock.Acquire(context.Background(), 5)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx, 5)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := lock.Acquire(context.Background(), 6)
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := lock.Acquire(context.Background(), 5)
	require.NoError(t, err)
	again()
}

func TestRedisBranchLockBusy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lock := NewRedisBranchLock(client, time.Second, 10*time.Millisecond, 60*time.Millisecond)
	release, err := lock.Acquire(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, mr.Exists(BranchLedgerLockKey(3)))

	_, err = lock.Acquire(context.Background(), 3)
	require.ErrorIs(t, err, ErrConcurrentModification)

	other, err := lock.Acquire(context.Background(), 4)
	require.NoError(t, err)
	other()

	release()
	require.False(t, mr.Exists(BranchLedgerLockKey(3)))
	again, err := lock.Acquire(context.Background(), 3)
	require.NoError(t, err)
	again()
}
