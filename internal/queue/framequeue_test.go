package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedPacketQueue() *PacketQueue {
	q := NewPacketQueue()
	q.Start()
	return q
}

func TestFrameQueue_PushAndReadBackInOrder(t *testing.T) {
	pq := newStartedPacketQueue()
	fq := NewFrameQueue(pq, 3, false)
	defer fq.Destroy()

	for i, pts := range []float64{1, 2, 3} {
		slot := fq.PeekWritable()
		require.NotNil(t, slot)
		slot.PTS = pts
		slot.Serial = i
		fq.Push()
	}

	assert.Equal(t, 3, fq.Remaining())

	for _, want := range []float64{1, 2, 3} {
		f := fq.PeekReadable()
		require.NotNil(t, f)
		assert.Equal(t, want, f.PTS)
		fq.Next()
	}
	assert.Equal(t, 0, fq.Remaining())
}

func TestFrameQueue_RingWrapsAtCapacity(t *testing.T) {
	pq := newStartedPacketQueue()
	fq := NewFrameQueue(pq, 2, false)
	defer fq.Destroy()

	for i := 0; i < 5; i++ {
		slot := fq.PeekWritable()
		require.NotNil(t, slot)
		slot.PTS = float64(i)
		fq.Push()

		f := fq.PeekReadable()
		require.NotNil(t, f)
		assert.Equal(t, float64(i), f.PTS)
		fq.Next()
	}
}

func TestFrameQueue_KeepLastPromotesInsteadOfAdvancing(t *testing.T) {
	pq := newStartedPacketQueue()
	fq := NewFrameQueue(pq, 3, true)
	defer fq.Destroy()

	slot := fq.PeekWritable()
	require.NotNil(t, slot)
	slot.PTS = 1
	fq.Push()

	slot2 := fq.PeekWritable()
	require.NotNil(t, slot2)
	slot2.PTS = 2
	fq.Push()

	assert.Equal(t, 0, fq.RindexShown())
	fq.Next() // first Next under keepLast only promotes rshown
	assert.Equal(t, 1, fq.RindexShown())
	assert.Equal(t, 1, fq.Remaining())

	f := fq.PeekReadable()
	require.NotNil(t, f)
	assert.Equal(t, float64(2), f.PTS)
}

func TestFrameQueue_AbortedPacketQueueUnblocksPeek(t *testing.T) {
	pq := NewPacketQueue() // never started: Aborted() is true from the start
	fq := NewFrameQueue(pq, 2, false)
	defer fq.Destroy()

	assert.Nil(t, fq.PeekReadable())
	assert.Nil(t, fq.PeekWritable())
}

func TestFrameQueue_SignalUnblocksWaitingWriter(t *testing.T) {
	pq := newStartedPacketQueue()
	fq := NewFrameQueue(pq, 1, false)
	defer fq.Destroy()

	slot := fq.PeekWritable()
	require.NotNil(t, slot)
	fq.Push() // queue is now full (size 1, maxSize 1)

	done := make(chan struct{})
	go func() {
		pq.Abort()
		fq.Signal()
		close(done)
	}()

	// A second PeekWritable would block until the paired queue aborts.
	blocked := fq.PeekWritable()
	assert.Nil(t, blocked)
	<-done
}
