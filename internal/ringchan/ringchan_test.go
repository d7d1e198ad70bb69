package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropsOldestWhenFull(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	// 1 and 2 were overwritten; the last three survive in order.
	var got []int
	for rc.Len() > 0 {
		v, ok := rc.TryReceive()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)

	m := rc.Snapshot()
	assert.Equal(t, int64(5), m.Published)
	assert.Equal(t, int64(2), m.Dropped)
	assert.Equal(t, int64(3), m.Delivered)
}

func TestSendReportsDrop(t *testing.T) {
	rc := New[string](1)

	assert.False(t, rc.Send("a"), "send into free space MUST NOT drop")
	assert.True(t, rc.Send("b"), "send into a full buffer MUST drop the oldest")

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestTrySendRefusesWhenFull(t *testing.T) {
	rc := New[int](1)

	assert.True(t, rc.TrySend(1))
	assert.False(t, rc.TrySend(2), "TrySend MUST NOT displace buffered elements")

	v, _ := rc.TryReceive()
	assert.Equal(t, 1, v)
}

func TestTryReceiveOnEmpty(t *testing.T) {
	rc := New[int](2)

	v, ok := rc.TryReceive()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestCloseEndsRange(t *testing.T) {
	rc := New[int](4)
	rc.Send(10)
	rc.Send(20)
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{10, 20}, got)

	_, ok := rc.Receive()
	assert.False(t, ok, "Receive on a closed drained channel MUST report !ok")
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
}
