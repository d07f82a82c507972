package runlock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/latencyguard/internal/utils"
)

func TestLocalIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	lease, err := l.TryAcquire(ctx)
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx)
	assert.ErrorIs(t, err, utils.ErrCycleInProgress)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx), "double release is harmless")

	again, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal().TryAcquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingLocker struct {
	name   string
	fail   error
	events *[]string
}

func (r recordingLocker) TryAcquire(context.Context) (Lease, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	*r.events = append(*r.events, "acquire "+r.name)
	return recordingLease(r), nil
}

type recordingLease recordingLocker

func (r recordingLease) Release(context.Context) error {
	*r.events = append(*r.events, "release "+r.name)
	return nil
}

func TestChainReleasesInReverse(t *testing.T) {
	var events []string
	chain := Chain{
		recordingLocker{name: "local", events: &events},
		recordingLocker{name: "valkey", events: &events},
	}
	lease, err := chain.TryAcquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
	assert.Equal(t, []string{"acquire local", "acquire valkey", "release valkey", "release local"}, events)
}

func TestChainRollsBackOnFailure(t *testing.T) {
	var events []string
	busy := utils.NewAppError("acquire lease", "held by another replica", utils.ErrCycleInProgress)
	chain := Chain{
		recordingLocker{name: "local", events: &events},
		recordingLocker{name: "valkey", fail: busy, events: &events},
	}
	_, err := chain.TryAcquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrCycleInProgress))
	assert.Equal(t, []string{"acquire local", "release local"}, events)
}
