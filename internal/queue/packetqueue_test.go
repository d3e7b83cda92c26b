package queue

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPacketQueue_StartsAborted(t *testing.T) {
	q := NewPacketQueue()
	assert.True(t, q.Aborted())
	_, ok := q.Get(false)
	assert.False(t, ok)
}

func TestPacketQueue_PutGetRoundTrip(t *testing.T) {
	q := NewPacketQueue()
	q.Start()

	pkt := astiav.AllocPacket()
	q.Put(pkt)

	assert.Equal(t, 1, q.PacketCount())
	assert.Equal(t, int64(perPacketOverhead), q.SizeBytes())

	entry, ok := q.Get(false)
	require.True(t, ok)
	assert.False(t, entry.IsNull)
	require.NotNil(t, entry.Pkt)
	entry.Pkt.Free()

	assert.Equal(t, 0, q.PacketCount())
	assert.Equal(t, int64(0), q.SizeBytes())
}

func TestPacketQueue_PutNull(t *testing.T) {
	q := NewPacketQueue()
	q.Start()

	q.PutNull(3)
	entry, ok := q.Get(false)
	require.True(t, ok)
	assert.True(t, entry.IsNull)
	assert.Equal(t, 3, entry.StreamIndex)
}

func TestPacketQueue_PutAfterAbortFreesImmediately(t *testing.T) {
	q := NewPacketQueue() // starts aborted
	pkt := astiav.AllocPacket()
	q.Put(pkt) // Put frees the packet itself when aborted; nothing to assert
	// beyond "no entry was queued".
	assert.Equal(t, 0, q.PacketCount())
}

func TestPacketQueue_FlushBumpsSerialAndDropsItems(t *testing.T) {
	q := NewPacketQueue()
	q.Start()
	before := q.GetSerial()

	q.PutNull(0)
	q.PutNull(1)
	require.Equal(t, 2, q.PacketCount())

	q.Flush()
	assert.Equal(t, 0, q.PacketCount())
	assert.Equal(t, int64(0), q.SizeBytes())
	assert.Greater(t, q.GetSerial(), before)
}

func TestPacketQueue_AbortUnblocksGet(t *testing.T) {
	q := NewPacketQueue()
	q.Start()

	done := make(chan struct{})
	go func() {
		_, ok := q.Get(true)
		assert.False(t, ok)
		close(done)
	}()

	q.Abort()
	<-done
}

// TestPacketQueue_SizeBytesMatchesPushedCount is a property test: pushing
// N null markers always leaves SizeBytes at exactly N*perPacketOverhead,
// regardless of how many are then popped back off.
func TestPacketQueue_SizeBytesMatchesPushedCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pushed := rapid.IntRange(0, 50).Draw(t, "pushed")
		popped := rapid.IntRange(0, pushed).Draw(t, "popped")

		q := NewPacketQueue()
		q.Start()
		for i := 0; i < pushed; i++ {
			q.PutNull(i)
		}
		for i := 0; i < popped; i++ {
			_, ok := q.Get(false)
			require.True(t, ok)
		}

		assert.Equal(t, int64(pushed-popped)*perPacketOverhead, q.SizeBytes())
		assert.Equal(t, pushed-popped, q.PacketCount())
	})
}
