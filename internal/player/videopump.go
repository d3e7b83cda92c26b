package player

import (
	"sync/atomic"
	"time"
)

// PumpVideo drives AcquireVideoFrame/Next in a loop until stop is closed,
// without compositing anything; an aborted video queue does not end the
// loop, it only stops frames from arriving. It is the
// minimal consumer a host with no presenter still needs to run so the
// video clock advances and the scheduler's drop logic keeps the queue
// from
// filling up on a video-only or av-desynced source.
func (p *Player) PumpVideo(stop <-chan struct{}) {
	if p.videoFQ == nil {
		return
	}
	for {
		select {
		case <-stop:
			return
		default:
		}

		decision, ok := p.AcquireVideoFrame()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if decision.Delay > 0 {
			time.Sleep(time.Duration(decision.Delay * float64(time.Second)))
			continue
		}
		if decision.Drop {
			atomic.AddInt64(&p.framesDropped, 1)
		} else {
			atomic.AddInt64(&p.framesDecoded, 1)
		}
		p.videoFQ.Next()
	}
}
