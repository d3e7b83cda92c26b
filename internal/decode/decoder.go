// Package decode implements the per-stream decoder worker: a cooperative
// send/receive loop over an astiav.CodecContext that pulls packets of the
// current generation from a queue.PacketQueue and hands back decoded
// frames one at a time.
package decode

import (
	"errors"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/e1z0/avplayer/internal/queue"
)

// Result is the outcome of one Decode call, modeling a
// Ready(frame) | Empty | End | Err shape instead of a
// send/receive-interleaved coroutine.
type Result int

const (
	// Empty means no frame was produced: the packet queue was aborted, or
	// an error is returned alongside it. The decoder signals the
	// empty-queue condvar before every wait on an empty queue.
	Empty Result = iota
	// Ready means a frame was produced; it is stored in the *astiav.Frame
	// passed into Decode.
	Ready
	// End means this stream has reached EOF at the current serial.
	End
)

// EmptyQueueSignaler is called when the decoder is about to block on an
// empty packet queue, so that the Player's demux thread (which is
// blocked on a timed wait of its own) wakes up and re-evaluates whether
// it should keep reading.
type EmptyQueueSignaler func()

// Decoder owns a codec context exclusively; it borrows a PacketQueue and
// an EmptyQueueSignaler from the Player that created it.
type Decoder struct {
	mu sync.Mutex

	codecCtx    *astiav.CodecContext
	mediaType   astiav.MediaType
	q           *queue.PacketQueue
	emptySignal EmptyQueueSignaler
	reorderPTS  bool

	pkt           *astiav.Packet
	packetSerial  int
	finished      int // serial at which EOF was observed; 0 if not finished
	packetPending bool

	nextPTS   int64
	nextPTSTB astiav.Rational

	startPTS   int64
	startPTSTB astiav.Rational

	worker   func(d *Decoder)
	workerWG sync.WaitGroup
	stopped  bool
}

// New creates a Decoder around codecCtx, pulling from q and signaling
// emptySignal whenever it blocks on an empty queue. reorderPTS selects
// best_effort_timestamp vs raw pkt_dts for video frames.
func New(codecCtx *astiav.CodecContext, mediaType astiav.MediaType, q *queue.PacketQueue, emptySignal EmptyQueueSignaler, reorderPTS bool) *Decoder {
	return &Decoder{
		codecCtx:    codecCtx,
		mediaType:   mediaType,
		q:           q,
		emptySignal: emptySignal,
		reorderPTS:  reorderPTS,
		pkt:         astiav.AllocPacket(),
		startPTSTB:  astiav.NewRational(1, 1),
		nextPTSTB:   astiav.NewRational(1, 1),
	}
}

// SetStartPTS seeds the (start_pts, start_pts_tb) pair used to derive
// timestamps for formats that don't carry them.
func (d *Decoder) SetStartPTS(pts int64, tb astiav.Rational) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startPTS = pts
	d.startPTSTB = tb
}

// Destroy frees the scratch packet and the owned codec context.
func (d *Decoder) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pkt != nil {
		d.pkt.Free()
		d.pkt = nil
	}
	if d.codecCtx != nil {
		d.codecCtx.Free()
		d.codecCtx = nil
	}
}

// Start launches workerFn in its own goroutine, passing it d.
func (d *Decoder) Start(workerFn func(d *Decoder)) {
	d.worker = workerFn
	d.workerWG.Add(1)
	go func() {
		defer d.workerWG.Done()
		workerFn(d)
	}()
}

// Abort aborts the paired packet queue (waking the decoder out of any
// blocking Get) and waits for the worker goroutine to return. fq's
// "keep last" consumers must also observe the abort via their own
// FrameQueue signal, which the caller triggers separately.
func (d *Decoder) Abort() {
	d.q.Abort()
	d.workerWG.Wait()
}

// PacketSerial returns the serial of the generation currently loaded into
// the codec.
func (d *Decoder) PacketSerial() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.packetSerial
}

// Finished returns the serial at which this decoder observed EOF, or 0 if
// it has not finished.
func (d *Decoder) Finished() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finished
}

// CodecContext exposes the underlying codec context, e.g. for a
// StreamPipeline building a filter graph around it.
func (d *Decoder) CodecContext() *astiav.CodecContext {
	return d.codecCtx
}

// Decode is the heart of the decoder: one call keeps pulling and feeding
// packets (blocking on the queue while it is empty) until it produces a
// frame (Ready), observes EOF (End), the queue is aborted (Empty), or the
// codec reports an error.
func (d *Decoder) Decode(out *astiav.Frame) (Result, error) {
	for {
		d.mu.Lock()
		sameGen := d.q.GetSerial() == d.packetSerial
		d.mu.Unlock()

		if sameGen {
			res, err := d.receivePhase(out)
			if res != Empty || err != nil {
				return res, err
			}
			// EAGAIN: fall through to pull another packet.
		}

		pulled, ok := d.pullMatchingPacket()
		if !ok {
			return Empty, nil
		}
		if err := d.sendPhase(pulled); err != nil {
			return Empty, err
		}
		// Loop back to drain whatever the send just unlocked.
	}
}

// receivePhase drains receive_frame until EAGAIN, returning the first
// frame as Ready. On EOF it records finished and flushes codec buffers.
func (d *Decoder) receivePhase(out *astiav.Frame) (Result, error) {
	err := d.codecCtx.ReceiveFrame(out)
	switch {
	case err == nil:
		d.stampFrame(out)
		return Ready, nil
	case errors.Is(err, astiav.ErrEof):
		d.mu.Lock()
		d.finished = d.packetSerial
		d.mu.Unlock()
		d.codecCtx.FlushBuffers()
		return End, nil
	case errors.Is(err, astiav.ErrEagain):
		return Empty, nil
	default:
		return Empty, err
	}
}

// stampFrame fills in pts for video (best-effort or raw dts, per
// reorderPTS) and for audio (rescaled into 1/sample_rate, or derived from
// next_pts/next_pts_tb, with next_pts advanced by nb_samples).
func (d *Decoder) stampFrame(f *astiav.Frame) {
	if d.mediaType == astiav.MediaTypeAudio {
		d.stampAudio(f)
		return
	}
	d.stampVideo(f)
}

func (d *Decoder) stampVideo(f *astiav.Frame) {
	if d.reorderPTS {
		f.SetPts(f.BestEffortTimestamp())
	} else {
		f.SetPts(f.PktDts())
	}
}

func (d *Decoder) stampAudio(f *astiav.Frame) {
	sr := f.SampleRate()
	if sr <= 0 {
		return
	}
	pts := f.Pts()
	if pts == astiav.NoPtsValue {
		d.mu.Lock()
		pts = d.nextPTS
		d.mu.Unlock()
	}
	f.SetPts(pts)
	d.mu.Lock()
	d.nextPTS = pts + int64(f.NbSamples())
	d.nextPTSTB = astiav.NewRational(1, sr)
	d.mu.Unlock()
}

// pullMatchingPacket pulls packets until one matches the current queue
// serial (dropping obsolete ones), or returns ok=false if the queue is
// empty/aborted. If the serial changed since the last pull, it flushes
// codec buffers, clears finished, and reseeds next_pts from start_pts.
func (d *Decoder) pullMatchingPacket() (*astiav.Packet, bool) {
	d.mu.Lock()
	if d.packetPending {
		pkt := d.pkt
		d.packetPending = false
		d.mu.Unlock()
		return pkt, true
	}
	d.mu.Unlock()

	for {
		if d.q.PacketCount() == 0 {
			d.emptySignal()
		}
		entry, ok := d.q.Get(true)
		if !ok {
			return nil, false
		}
		if entry.Serial != d.q.GetSerial() {
			if entry.Pkt != nil {
				entry.Pkt.Unref()
				entry.Pkt.Free()
			}
			continue
		}

		d.mu.Lock()
		serialChanged := entry.Serial != d.packetSerial
		d.packetSerial = entry.Serial
		if serialChanged {
			d.codecCtx.FlushBuffers()
			d.finished = 0
			d.nextPTS = d.startPTS
			d.nextPTSTB = d.startPTSTB
		}
		d.mu.Unlock()

		if entry.IsNull {
			// A null packet still has to reach send_packet(nil) so the
			// codec starts draining; astiav represents that as SendPacket
			// with a nil packet argument.
			return nil, true
		}

		return entry.Pkt, true
	}
}

// sendPhase feeds pkt (nil for a null/EOF packet) to the codec. On
// EAGAIN it stashes the packet as pending and returns nil so the next
// Decode call retries the receive phase first.
func (d *Decoder) sendPhase(pkt *astiav.Packet) error {
	err := d.codecCtx.SendPacket(pkt)
	if err == nil {
		if pkt != nil {
			pkt.Unref()
			pkt.Free()
		}
		return nil
	}
	if errors.Is(err, astiav.ErrEagain) {
		d.mu.Lock()
		d.pkt = pkt
		d.packetPending = true
		d.mu.Unlock()
		return nil
	}
	if pkt != nil {
		pkt.Unref()
		pkt.Free()
	}
	return err
}
