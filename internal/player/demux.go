package player

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
)

// stallCutoff bounds how long the read loop tolerates a stream that
// keeps returning transient errors without making progress.
const stallCutoff = 10 * time.Second

// readLoop is the demux thread: it owns the FormatContext, is the only
// goroutine that calls ReadFrame or SeekFrame, and consumes the
// queueAttachmentsReq and seekPending requests other goroutines set.
func (p *Player) readLoop() {
	pkt := astiav.AllocPacket()
	defer pkt.Free()

	lastProgress := time.Now()
	var bytePos int64

	for {
		if p.abortRequest.Load() {
			break
		}

		p.continueMu.Lock()
		for p.paused.Load() && !p.abortRequest.Load() {
			p.continueCond.Wait()
		}
		p.continueMu.Unlock()
		if p.abortRequest.Load() {
			break
		}

		if p.seekPending.Load() {
			if err := p.performSeek(); err != nil {
				p.logf("seek failed: %v", newError(KindSeekFailed, err))
			}
		}

		p.queueAttachedPicIfRequested()

		if p.isFullOfPackets() {
			p.continueMu.Lock()
			p.continueWaitTimeoutLocked(continueWaitTimeout)
			p.continueMu.Unlock()
			continue
		}

		if p.eof.Load() && p.bothQueuesDrained() {
			if p.opts.Loop {
				if err := p.seekToStart(); err != nil {
					p.logf("loop seek failed: %v", err)
					break
				}
				continue
			}
			// Nothing left to demux or decode; idle until aborted or
			// told to seek.
			p.continueMu.Lock()
			p.continueWaitTimeoutLocked(continueWaitTimeout)
			p.continueMu.Unlock()
			continue
		}

		err := p.fc.ReadFrame(pkt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, astiav.ErrEof) {
				p.markEOF()
				lastProgress = time.Now()
				continue
			}
			if time.Since(lastProgress) > stallCutoff {
				p.logf("demux stalled (>%s without progress): %v", stallCutoff, err)
				if p.opts.OnErrorCB != nil {
					p.opts.OnErrorCB(p.opts.Opaque, newError(KindSoftDemuxStall, err))
				}
				lastProgress = time.Now()
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		lastProgress = time.Now()

		// Packets from a non-seekable or otherwise position-less source
		// report Pos() == -1; this running tally stands in for "wherever
		// the demuxer is" so decoded frames still carry a monotonic
		// position for the presenter's last_pos bookkeeping.
		if pkt.Pos() < 0 {
			pkt.SetPos(bytePos)
		}
		bytePos += int64(pkt.Size())

		if !p.inPlayRange(pkt) {
			pkt.Unref()
			continue
		}

		switch pkt.StreamIndex() {
		case p.audioStreamIdx:
			p.audioPQ.Put(refPacket(pkt))
		case p.videoStreamIdx:
			atomic.AddInt64(&p.bytesVideo, int64(pkt.Size()))
			p.videoPQ.Put(refPacket(pkt))
		}
		pkt.Unref()
	}

	p.eof.Store(true)
	if p.videoPQ != nil {
		p.videoPQ.Abort()
	}
	if p.audioPQ != nil {
		p.audioPQ.Abort()
	}
}

// isFullOfPackets reports whether to stop reading: both queues together
// hold more than maxQueueBytes, or both queues that carry a
// stream have more than minQueuePackets entries and more than
// minQueueDuration seconds buffered (a duration of 0 counts as "unknown", i.e. always
// satisfied, matching streams with no reliable packet duration).
func (p *Player) isFullOfPackets() bool {
	total := int64(0)
	if p.audioPQ != nil {
		total += p.audioPQ.SizeBytes()
	}
	if p.videoPQ != nil {
		total += p.videoPQ.SizeBytes()
	}
	if total > maxQueueBytes {
		return true
	}
	return p.streamHasEnoughPackets(p.audioPQ, p.audioStreamIdx) &&
		p.streamHasEnoughPackets(p.videoPQ, p.videoStreamIdx)
}

func (p *Player) streamHasEnoughPackets(q interface {
	PacketCount() int
	Duration() float64
}, streamIdx int) bool {
	if streamIdx < 0 {
		return true
	}
	return q.PacketCount() > minQueuePackets && (q.Duration() == 0 || q.Duration() > minQueueDuration)
}

func (p *Player) bothQueuesDrained() bool {
	if p.videoDec != nil && p.videoDec.Finished() != p.videoPQ.GetSerial() {
		return false
	}
	if p.audioDec != nil && p.audioDec.Finished() != p.audioPQ.GetSerial() {
		return false
	}
	if p.videoFQ != nil && p.videoFQ.Remaining() > 0 {
		return false
	}
	if p.audioFQ != nil && p.audioFQ.Remaining() > 0 {
		return false
	}
	return true
}

func (p *Player) markEOF() {
	if p.videoStreamIdx >= 0 {
		p.videoPQ.PutNull(p.videoStreamIdx)
	}
	if p.audioStreamIdx >= 0 {
		p.audioPQ.PutNull(p.audioStreamIdx)
	}
	p.eof.Store(true)
}

// inPlayRange applies Options.StartTime/Duration (microseconds) as a
// filter over demuxed packets: a packet's presentation time, adjusted
// for the container's own start offset, must fall within
// [StartTime, StartTime+Duration] (both ends included) or it is silently
// dropped.
func (p *Player) inPlayRange(pkt *astiav.Packet) bool {
	if p.opts.Duration <= 0 && p.opts.StartTime <= 0 {
		return true
	}
	var streamIdx int
	switch pkt.StreamIndex() {
	case p.audioStreamIdx:
		streamIdx = p.audioStreamIdx
	case p.videoStreamIdx:
		streamIdx = p.videoStreamIdx
	default:
		return true
	}
	stream := p.fc.Streams()[streamIdx]
	tb := stream.TimeBase()
	if tb.Den() == 0 || pkt.Pts() == astiav.NoPtsValue {
		return true
	}
	containerStart := int64(0)
	if st := p.fc.StartTime(); st != astiav.NoPtsValue {
		containerStart = st
	}
	ptsSec := float64(pkt.Pts())*float64(tb.Num())/float64(tb.Den()) - float64(containerStart)/1e6
	startSec := float64(p.opts.StartTime) / 1e6
	if ptsSec < startSec {
		return false
	}
	if p.opts.Duration <= 0 {
		return true
	}
	endSec := startSec + float64(p.opts.Duration)/1e6
	return ptsSec <= endSec
}

// queueAttachedPicIfRequested injects the video stream's embedded cover
// art, if any, as a one-shot packet followed by a null marker, exactly
// once per stream (re)open. Called at the top of every read-loop
// iteration so it runs before the first real packet is read.
func (p *Player) queueAttachedPicIfRequested() {
	if !p.queueAttachmentsReq.CompareAndSwap(true, false) {
		return
	}
	if p.videoStream == nil || p.videoStreamIdx < 0 {
		return
	}
	if p.videoStream.Disposition()&astiav.StreamDispositionAttachedPic == 0 {
		return
	}
	pic := p.videoStream.AttachedPic()
	if pic == nil {
		return
	}
	p.videoPQ.Put(refPacket(pic))
	p.videoPQ.PutNull(p.videoStreamIdx)
}

// continueWaitTimeout bounds how long a backpressure/idle wait blocks
// before the read loop rechecks its exit conditions, mirroring a timed
// condition wait.
const continueWaitTimeout = 10 * time.Millisecond

// continueWaitTimeoutLocked waits on continueCond for at most d,
// unblocking itself via a timer-driven broadcast if nothing else wakes
// it first. Caller must hold continueMu.
func (p *Player) continueWaitTimeoutLocked(d time.Duration) {
	timer := time.AfterFunc(d, p.wakeDemux)
	defer timer.Stop()
	p.continueCond.Wait()
}

// refPacket allocates a fresh packet and references src into it, an
// AllocPacket+Ref pairing that hands a just-read packet off to a second
// consumer without copying its payload.
func refPacket(src *astiav.Packet) *astiav.Packet {
	dst := astiav.AllocPacket()
	_ = dst.Ref(src)
	return dst
}

// wakeDemux wakes the demux loop's idle wait; the control methods and the
// timed wait call it, while decoders use signalContinueRead.
func (p *Player) wakeDemux() {
	p.continueMu.Lock()
	p.continueCond.Broadcast()
	p.continueMu.Unlock()
}
