// Package queue implements the two buffers that glue the demux thread to
// the per-stream decoder threads: PacketQueue and FrameQueue.
package queue

import (
	"sync"

	"github.com/asticode/go-astiav"
)

// perPacketOverhead approximates the bookkeeping cost of one queue entry,
// matching ffplay's sizeof(MyAVPacketList) accounting so that size-based
// backpressure trips at roughly the same point regardless of average
// packet size.
const perPacketOverhead = 64

// item is one FIFO entry. pkt is nil for a null/EOF marker, in which case
// streamIndex names the stream that reached EOF.
type item struct {
	pkt         *astiav.Packet
	streamIndex int
	serial      int
	size        int64
	duration    float64
}

// PacketQueue is a FIFO of (packet, serial) pairs with aggregate byte
// size and duration tracking, a generation serial, and an abort flag.
// The zero value is not usable; call NewPacketQueue.
type PacketQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items []item

	size     int64
	duration float64
	serial   int
	aborted  bool
}

// NewPacketQueue creates a PacketQueue. A newborn queue starts aborted
// with serial 0; callers must call Start before producers may insert.
func NewPacketQueue() *PacketQueue {
	q := &PacketQueue{aborted: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SerialRef returns a read-only accessor to the queue's current serial,
// for a paired Clock to detect staleness. The queue never hands out a
// pointer into its own state; the clock only ever calls this func.
func (q *PacketQueue) SerialRef() func() int {
	return q.GetSerial
}

// GetSerial returns the queue's current serial.
func (q *PacketQueue) GetSerial() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serial
}

// SizeBytes returns the aggregate byte size (payload + per-entry overhead)
// of packets currently queued.
func (q *PacketQueue) SizeBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// PacketCount returns the number of entries (packets and null markers)
// currently queued.
func (q *PacketQueue) PacketCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Duration returns the aggregate duration of queued packets, in seconds.
func (q *PacketQueue) Duration() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// Aborted reports whether the queue is in its terminal, unblocking state.
func (q *PacketQueue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Flush drops all queued entries and bumps the serial, so that any
// in-flight consumer discovers the generation change through the paired
// Clock's staleness check.
func (q *PacketQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
}

func (q *PacketQueue) flushLocked() {
	for _, it := range q.items {
		if it.pkt != nil {
			it.pkt.Free()
		}
	}
	q.items = nil
	q.size = 0
	q.duration = 0
	q.serial++
}

// Start resets aborted=false and also bumps serial.
func (q *PacketQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = false
	q.serial++
	q.cond.Broadcast()
}

// Abort sets the terminal flag and wakes every waiter.
func (q *PacketQueue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = true
	q.cond.Broadcast()
}

// Put takes ownership of pkt (move semantics: the caller must not use pkt
// again) and appends it under the queue's current serial.
func (q *PacketQueue) Put(pkt *astiav.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		pkt.Free()
		return
	}
	durSec := 0.0
	if tb := pkt.TimeBase(); tb.Den() != 0 {
		durSec = float64(pkt.Duration()) * float64(tb.Num()) / float64(tb.Den())
	}
	it := item{
		pkt:      pkt,
		serial:   q.serial,
		size:     int64(pkt.Size()) + perPacketOverhead,
		duration: durSec,
	}
	q.items = append(q.items, it)
	q.size += it.size
	q.duration += it.duration
	q.cond.Signal()
}

// PutNull enqueues a null packet: a stream-index-only marker that tells
// the decoder for that stream it has reached EOF.
func (q *PacketQueue) PutNull(streamIndex int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		return
	}
	it := item{streamIndex: streamIndex, serial: q.serial, size: perPacketOverhead}
	q.items = append(q.items, it)
	q.size += it.size
	q.cond.Signal()
}

// Entry is what Get hands back: either a real packet or a null/EOF
// marker for the given stream index (Pkt == nil in that case).
type Entry struct {
	Pkt         *astiav.Packet
	IsNull      bool
	StreamIndex int
	Serial      int
}

// Get pops the oldest entry. With blocking=true it waits on the condvar
// until an entry arrives or the queue is aborted (in which case it
// returns ok=false). With blocking=false it returns immediately
// (ok=false) if nothing is queued.
func (q *PacketQueue) Get(blocking bool) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.aborted {
			return Entry{}, false
		}
		if !blocking {
			return Entry{}, false
		}
		q.cond.Wait()
	}
	it := q.items[0]
	q.items = q.items[1:]
	q.size -= it.size
	q.duration -= it.duration
	if it.pkt != nil {
		return Entry{Pkt: it.pkt, Serial: it.serial}, true
	}
	return Entry{IsNull: true, StreamIndex: it.streamIndex, Serial: it.serial}, true
}
