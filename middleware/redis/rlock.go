package redis

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/util/errs"
)

type Runnable func() error
type LRunnable[T any] func() (T, error)

const (
	lockBackoffWindow  = 5 * time.Millisecond
	lockDefaultBackoff = 30 * time.Second
	lockLeaseTime      = 30 * time.Second
	lockRefreshTime    = 10 * time.Second
)

// Check whether the error is 'redislock.ErrNotObtained'
func IsRLockNotObtainedErr(err error) bool {
	return errors.Is(err, redislock.ErrNotObtained)
}

func ObtainRLocker() *redislock.Client {
	return redislock.New(GetRedis())
}

// Lock the key and run the runnable, waits up to 30s for the lock.
//
// The lock is refreshed while the runnable is running. Returns error matching
// 'redislock.ErrNotObtained' if the lock can't be obtained in time.
func RLockRun[T any](rail core.Rail, key string, runnable LRunnable[T]) (T, error) {
	var t T
	lock := NewRLock(rail, key)
	if err := lock.Lock(); err != nil {
		return t, err
	}
	defer lock.Unlock()
	return runnable()
}

// Same as RLockRun, for runnables without result.
func RLockExec(rail core.Rail, key string, runnable Runnable) error {
	_, err := RLockRun(rail, key, func() (struct{}, error) {
		return struct{}{}, runnable()
	})
	return err
}

// Distributed lock backed by redis, the lease is refreshed until Unlock.
type RLock struct {
	rail    core.Rail
	key     string
	steps   int
	lock    *redislock.Lock
	stop    context.CancelFunc
	stopped chan struct{}
}

type RLockConfig struct {
	// How long to keep retrying for the lock, approximately, 30s by default.
	//
	// The lock is attempted every 5ms.
	BackoffDuration time.Duration
}

func NewRLock(rail core.Rail, key string) *RLock {
	return NewCustomRLock(rail, key, RLockConfig{})
}

func NewCustomRLock(rail core.Rail, key string, config RLockConfig) *RLock {
	backoff := config.BackoffDuration
	if backoff < lockBackoffWindow {
		backoff = lockDefaultBackoff
	}
	return &RLock{
		rail:  rail,
		key:   key,
		steps: int(backoff / lockBackoffWindow),
	}
}

// Attempt to lock, false is returned if the lock is held by others.
func (r *RLock) TryLock() (bool, error) {
	if err := r.Lock(); err != nil {
		if IsRLockNotObtainedErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *RLock) Lock() error {
	lock, err := ObtainRLocker().Obtain(r.rail.Context(), r.key, lockLeaseTime, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(lockBackoffWindow), r.steps),
	})
	if err != nil {
		return errs.WrapErrf(err, "failed to obtain lock '%v'", r.key)
	}
	r.lock = lock
	r.rail.Debugf("Obtained lock '%v'", r.key)

	ctx, cancel := context.WithCancel(context.Background())
	r.stop = cancel
	r.stopped = make(chan struct{})
	go r.refresh(ctx, lock)
	return nil
}

func (r *RLock) refresh(ctx context.Context, lock *redislock.Lock) {
	defer close(r.stopped)
	ticker := time.NewTicker(lockRefreshTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.Refresh(ctx, lockLeaseTime, nil)
			if err == nil {
				r.rail.Debugf("Refreshed lock '%v'", r.key)
				continue
			}
			if IsRLockNotObtainedErr(err) || ctx.Err() != nil {
				return
			}
			r.rail.Warnf("Failed to refresh lock '%v', %v", r.key, err)
		}
	}
}

// Release the lock, it's a no-op if the lock is not held.
func (r *RLock) Unlock() error {
	if r.lock == nil {
		return nil
	}
	r.stop()
	<-r.stopped

	err := r.lock.Release(context.Background())
	r.lock = nil
	if err != nil {
		r.rail.Errorf("Failed to release lock '%v', %v", r.key, err)
		return errs.WrapErr(err)
	}
	r.rail.Debugf("Released lock '%v'", r.key)
	return nil
}
