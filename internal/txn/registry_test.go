package txn

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemux/internal/transport"
)

func TestNextIDIsMonotonicAndUnique(t *testing.T) {
	r := NewRegistry()

	prev := 0
	for i := 0; i < 100; i++ {
		id, err := strconv.Atoi(r.NextID())
		require.NoError(t, err)
		assert.Greater(t, id, prev, "ids MUST increase strictly")
		prev = id
	}
}

func TestNextIDConcurrent(t *testing.T) {
	r := NewRegistry()

	const workers = 8
	const perWorker = 250

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := r.NextID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker, "concurrent NextID MUST never repeat an id")
}

func TestRegisterUnregisterLifecycle(t *testing.T) {
	r := NewRegistry()

	fired := false
	id := r.NextID()
	require.NoError(t, r.Register(id, func(*transport.Error) { fired = true }))
	assert.Equal(t, 1, r.InFlight())

	r.Unregister(id)
	assert.Equal(t, 0, r.InFlight())
	assert.False(t, fired, "unregister MUST NOT invoke the hook")

	// Absent ids are a no-op.
	r.Unregister(id)
	r.Unregister("no-such-id")
}

func TestRegisterRefusesLiveID(t *testing.T) {
	r := NewRegistry()

	id := r.NextID()
	require.NoError(t, r.Register(id, func(*transport.Error) {}))
	err := r.Register(id, func(*transport.Error) {})
	assert.Error(t, err, "an in-flight id MUST NOT be silently overwritten")

	// After the first settles the id slot is free again.
	r.Unregister(id)
	assert.NoError(t, r.Register(id, func(*transport.Error) {}))
}

func TestCancelOne(t *testing.T) {
	r := NewRegistry()

	var got *transport.Error
	id := r.NextID()
	require.NoError(t, r.Register(id, func(reason *transport.Error) { got = reason }))

	r.CancelOne(id, transport.NewCancelled("caller asked"))
	require.NotNil(t, got)
	assert.Equal(t, transport.CodeOperationCancelled, got.Code)
	assert.Equal(t, 0, r.InFlight(), "a cancelled transaction MUST be removed")

	// Second cancel of the same id and cancel of unknown ids are silent.
	got = nil
	r.CancelOne(id, transport.NewCancelled("again"))
	r.CancelOne("unknown", transport.NewCancelled("nobody"))
	assert.Nil(t, got, "a settled id MUST NOT fire again")
}

func TestCancelAllFiresEveryHookWithTeardownError(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	var fired []string
	for i := 0; i < 5; i++ {
		id := r.NextID()
		require.NoError(t, r.Register(id, func(reason *transport.Error) {
			mu.Lock()
			defer mu.Unlock()
			assert.True(t, errors.Is(reason, transport.ErrDestroyed))
			fired = append(fired, id)
		}))
	}

	r.CancelAll(transport.NewDestroyed())

	sort.Strings(fired)
	assert.Len(t, fired, 5, "every pending hook MUST fire exactly once")
	assert.Equal(t, 0, r.InFlight())
	assert.True(t, r.Destroyed())

	// Idempotent teardown.
	r.CancelAll(transport.NewDestroyed())
	assert.Len(t, fired, 5)
}

func TestRegisterAfterCancelAllFiresImmediately(t *testing.T) {
	r := NewRegistry()
	r.CancelAll(transport.NewDestroyed())

	var got *transport.Error
	err := r.Register(r.NextID(), func(reason *transport.Error) { got = reason })
	require.NoError(t, err)
	require.NotNil(t, got, "registration racing teardown MUST be cancelled on arrival")
	assert.Equal(t, transport.CodeManagerDestroyed, got.Code)
	assert.Equal(t, 0, r.InFlight())
}

// TestHookMayReenterRegistry guards against deadlock when a hook calls
// back into the registry, which happens when subscriptions remove
// themselves while being force-cancelled.
func TestHookMayReenterRegistry(t *testing.T) {
	r := NewRegistry()

	other := r.NextID()
	require.NoError(t, r.Register(other, func(*transport.Error) {}))

	id := r.NextID()
	require.NoError(t, r.Register(id, func(*transport.Error) {
		r.Unregister(id)
		r.CancelOne("unknown", transport.NewCancelled(""))
	}))

	r.CancelAll(transport.NewDestroyed())
	assert.True(t, r.Destroyed())
}
