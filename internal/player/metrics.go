package player

import (
	"sync/atomic"
	"time"
)

// runMetrics recomputes Stats once a second from the raw counters: a
// delta-over-a-ticker computation of fps/bitrateKbps/dropsPct/health.
func (p *Player) runMetrics() {
	defer close(p.metricsDone)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastFrames, lastDrops, lastBytes int64
	lastAt := time.Now()

	for {
		select {
		case <-p.metricsStop:
			return
		case now := <-ticker.C:
			dt := now.Sub(lastAt).Seconds()
			lastAt = now
			if dt <= 0 {
				continue
			}

			frames := atomic.LoadInt64(&p.framesDecoded)
			drops := atomic.LoadInt64(&p.framesDropped)
			bytes := atomic.LoadInt64(&p.bytesVideo)

			dFrames := frames - lastFrames
			dDrops := drops - lastDrops
			dBytes := bytes - lastBytes
			lastFrames, lastDrops, lastBytes = frames, drops, bytes
			if dFrames < 0 {
				dFrames = 0
			}
			if dDrops < 0 {
				dDrops = 0
			}
			if dBytes < 0 {
				dBytes = 0
			}

			fps := float64(dFrames) / dt
			bitrateKbps := (float64(dBytes) * 8.0 / dt) / 1000.0

			var dropsPct float64
			if den := dFrames + dDrops; den > 0 {
				dropsPct = 100.0 * float64(dDrops) / float64(den)
			}

			score := healthScore(fps, dropsPct)

			p.statsMu.Lock()
			p.stats = Stats{
				FramesDecoded: frames,
				FramesDropped: drops,
				BitrateKbps:   bitrateKbps,
				Health:        score,
			}
			p.statsMu.Unlock()
		}
	}
}

// healthScore buckets fps into a 0..5 score, with a one-point penalty
// once drops exceed 10%.
func healthScore(fps, dropsPct float64) int {
	score := 0
	switch {
	case fps >= 24:
		score = 5
	case fps >= 15:
		score = 4
	case fps >= 5:
		score = 3
	case fps > 0:
		score = 2
	default:
		score = 0
	}
	if dropsPct > 10 && score > 0 {
		score--
	}
	return score
}
