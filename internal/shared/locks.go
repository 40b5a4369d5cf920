package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// BranchLedgerLockKey builds redis keys for branch ledger critical sections.
func BranchLedgerLockKey(branchID int64) string {
	return fmt.Sprintf("ledger:branch:%d:lock", branchID)
}

// BranchLedgerLock serialises voucher numbering and session toggling for one branch.
type BranchLedgerLock interface {
	Acquire(ctx context.Context, branchID int64) (release func(), err error)
}

// WithBranchLock runs fn while holding the branch ledger lock.
func WithBranchLock(ctx context.Context, lock BranchLedgerLock, branchID int64, fn func(context.Context) error) error {
	if lock == nil {
		return fn(ctx)
	}
	release, err := lock.Acquire(ctx, branchID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// LocalBranchLock is an in-process keyed lock. Each branch owns a one-slot semaphore.
type LocalBranchLock struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

// NewLocalBranchLock constructs a LocalBranchLock.
func NewLocalBranchLock() *LocalBranchLock {
	return &LocalBranchLock{slots: make(map[int64]chan struct{})}
}

// Acquire blocks until the branch slot is held or ctx is done.
func (l *LocalBranchLock) Acquire(ctx context.Context, branchID int64) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[branchID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[branchID] = slot
	}
	l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-slot }) }, nil
}

// RedisBranchLock holds the branch lock in redis so several API nodes share it.
type RedisBranchLock struct {
	locker  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	wait    time.Duration
}

// NewRedisBranchLock constructs a redis backed lock. wait bounds how long Acquire retries.
func NewRedisBranchLock(client *redis.Client, ttl, backoff, wait time.Duration) *RedisBranchLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	if wait <= 0 {
		wait = ttl
	}
	return &RedisBranchLock{locker: redislock.New(client), ttl: ttl, backoff: backoff, wait: wait}
}

// Acquire obtains the branch key, retrying linearly until wait elapses.
func (l *RedisBranchLock) Acquire(ctx context.Context, branchID int64) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	lock, err := l.locker.Obtain(waitCtx, BranchLedgerLockKey(branchID), l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: branch %d ledger lock busy", ErrConcurrentModification, branchID)
		}
		return nil, WrapStorage("acquire branch lock", err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}
