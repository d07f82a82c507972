package runlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/miradorstack/latencyguard/internal/utils"
)

// Locker grants exclusive permission to run a detection cycle.
type Locker interface {
	// TryAcquire returns immediately. When the lock is held elsewhere the error wraps
	// utils.ErrCycleInProgress.
	TryAcquire(ctx context.Context) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Local is an in-process, non-blocking semaphore of size one.
type Local struct {
	sem chan struct{}
}

// NewLocal constructs an unlocked Local.
func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

// TryAcquire implements Locker.
func (l *Local) TryAcquire(ctx context.Context) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case l.sem <- struct{}{}:
		return &localLease{sem: l.sem}, nil
	default:
		return nil, utils.NewAppError("acquire run lock", "held by this process", utils.ErrCycleInProgress)
	}
}

type localLease struct {
	sem      chan struct{}
	released bool
}

func (l *localLease) Release(context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	<-l.sem
	return nil
}

// Chain acquires every locker in order and releases them in reverse. If any acquisition
// fails the locks already taken are released before returning.
type Chain []Locker

// TryAcquire implements Locker.
func (c Chain) TryAcquire(ctx context.Context) (Lease, error) {
	held := make(chainLease, 0, len(c))
	for i, l := range c {
		lease, err := l.TryAcquire(ctx)
		if err != nil {
			if rerr := held.Release(context.WithoutCancel(ctx)); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return nil, fmt.Errorf("lock %d: %w", i, err)
		}
		held = append(held, lease)
	}
	return held, nil
}

type chainLease []Lease

func (c chainLease) Release(ctx context.Context) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
