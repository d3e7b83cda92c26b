package player

import (
	"math"

	"github.com/e1z0/avplayer/internal/queue"
)

// syncThreshold is how far, in seconds, frameTimer may lag the wall clock
// before the scheduler snaps it to now instead of advancing it.
const syncThreshold = 0.1

// noSyncThreshold is the desync beyond which the scheduler applies no
// audio/video correction at all; it is also the drift at which the
// external clock adopts a stream clock's value.
const noSyncThreshold = 10.0

// avSyncThresholdMin/Max bound the target-delay correction window
// computeTargetDelay clamps into; distinct from syncThreshold/
// noSyncThreshold above, which gate when a correction is applied at all.
const (
	avSyncThresholdMin = 0.04
	avSyncThresholdMax = 0.1
)

// VideoFrameDecision is what AcquireVideoFrame reports back to the
// presenter: show frame after waiting delay seconds, or drop it
// outright without ever compositing it.
type VideoFrameDecision struct {
	Drop  bool
	Delay float64
}

// AcquireVideoFrame decides, given the next two queued video frames,
// how long to hold the current one on screen, corrects that hold time
// against the master clock, and decides whether frames in between
// should be skipped to catch up. It also drops any frame whose serial
// has gone stale (an obsolete generation left behind by a seek) before
// ever considering it for display.
//
// The caller is expected to call this once per refresh tick while a
// frame is available (FrameQueue.Remaining() > 0), hold the picture
// named by FrameQueue.Peek() for the returned Delay, then call
// FrameQueue.Next() once satisfied (or immediately, for Drop).
func (p *Player) AcquireVideoFrame() (VideoFrameDecision, bool) {
	if p.videoFQ == nil {
		return VideoFrameDecision{}, false
	}

	var cur, last *queue.Frame
	for {
		if p.videoFQ.Remaining() <= 0 {
			return VideoFrameDecision{}, false
		}
		cur = p.videoFQ.Peek()
		if cur.Serial != p.videoPQ.GetSerial() {
			p.videoFQ.Next()
			continue
		}
		break
	}
	last = p.videoFQ.PeekLast()
	if last.Serial != cur.Serial {
		p.frameTimer = nowSeconds()
	}

	lastDuration := p.computeFrameDuration(last, cur)
	delay := p.computeTargetDelay(lastDuration)

	now := nowSeconds()
	if p.frameTimer == 0 {
		p.frameTimer = now
	}
	if now < p.frameTimer+delay {
		wait := p.frameTimer + delay - now
		return VideoFrameDecision{Delay: wait}, true
	}
	p.frameTimer += delay
	if delay > 0 && now-p.frameTimer > syncThreshold {
		p.frameTimer = now
	}

	p.videoFQ.Lock()
	if !math.IsNaN(cur.PTS) {
		p.videoClock.SetAt(cur.PTS, cur.Serial, now)
		p.extClock.SyncToSlave(p.videoClock, noSyncThreshold)
	}
	p.videoFQ.Unlock()

	if p.step.Load() {
		p.step.Store(false)
		if !p.paused.Load() {
			p.TogglePause()
		}
		return VideoFrameDecision{Delay: 0}, true
	}

	if p.videoFQ.Remaining() > 1 {
		next := p.videoFQ.PeekNext()
		dur := next.PTS - cur.PTS
		if !p.masterIsVideoSelf() && p.frameDroppable(dur) {
			return VideoFrameDecision{Drop: true}, true
		}
	}

	return VideoFrameDecision{Delay: 0}, true
}

// computeFrameDuration returns cur.PTS - last.PTS when both frames come
// from the same decode generation, clamped to [0, maxFrameDuration];
// outside that range (a seek boundary, a missing pts) it falls back to
// the frame's own reported duration. Across a generation change it
// reports zero, since last's pts is meaningless against cur's timeline.
func (p *Player) computeFrameDuration(last, cur *queue.Frame) float64 {
	if last.Serial != cur.Serial {
		return 0
	}
	duration := cur.PTS - last.PTS
	if math.IsNaN(duration) || duration <= 0 || duration > p.maxFrameDuration {
		return cur.Duration
	}
	return duration
}

// computeTargetDelay adjusts lastDuration against how far the video
// clock has drifted from the master, clamping the correction window to
// [avSyncThresholdMin, avSyncThresholdMax] so neither a near-zero
// duration nor a very long one distorts how large a correction counts
// as significant.
func (p *Player) computeTargetDelay(lastDuration float64) float64 {
	if p.masterSyncType() == SyncVideo {
		return lastDuration
	}
	diff := p.videoClock.Get() - p.masterClock().Get()
	syncThresh := math.Max(avSyncThresholdMin, math.Min(avSyncThresholdMax, lastDuration))
	if !math.IsNaN(diff) && math.Abs(diff) < noSyncThreshold {
		if diff <= -syncThresh {
			lastDuration = math.Max(0, lastDuration+diff)
		} else if diff >= syncThresh && lastDuration > 0.1 {
			lastDuration += diff
		} else if diff >= syncThresh {
			lastDuration *= 2
		}
	}
	return lastDuration
}

func (p *Player) masterIsVideoSelf() bool {
	return p.masterSyncType() == SyncVideo
}

// frameDroppable reports whether the scheduler is so far behind that the
// current video frame's display slot (frameTimer+dur) has already passed
// on the wall clock, so it should skip straight to the next one.
func (p *Player) frameDroppable(dur float64) bool {
	return !math.IsNaN(dur) && dur > 0 && nowSeconds() > p.frameTimer+dur
}

// AudioBufferPlan is what AcquireAudioBuffer reports: how many of the
// available samples to actually write to the device, after drift
// correction.
type AudioBufferPlan struct {
	WantedSamples int
}

// AcquireAudioBuffer compares the audio clock's position to the master
// and nudges wantedSamples so that, over audioDiffAvgNB calls, a
// persistent drift is absorbed by slightly stretching or shrinking the
// resampled buffer rather than snapping.
func (p *Player) AcquireAudioBuffer(frame *queue.Frame, nbSamples, sampleRate int) AudioBufferPlan {
	if p.masterSyncType() == SyncAudio {
		return AudioBufferPlan{WantedSamples: nbSamples}
	}

	diff := p.audioClockEstimate(frame) - p.masterClock().Get()
	if math.IsNaN(diff) || math.Abs(diff) >= noSyncThreshold {
		p.audioDiffAvgCount = 0
		p.audioDiffCum = 0
		return AudioBufferPlan{WantedSamples: nbSamples}
	}

	p.audioDiffCum = diff + p.audioDiffAvgCoef*p.audioDiffCum
	if p.audioDiffAvgCount < audioDiffAvgNB {
		p.audioDiffAvgCount++
		return AudioBufferPlan{WantedSamples: nbSamples}
	}

	avgDiff := p.audioDiffCum * (1.0 - p.audioDiffAvgCoef)
	if p.audioDiffThresh == 0 {
		p.audioDiffThresh = 2.0 * float64(nbSamples) / float64(sampleRate)
	}
	if math.Abs(avgDiff) < p.audioDiffThresh {
		return AudioBufferPlan{WantedSamples: nbSamples}
	}

	wanted := nbSamples + int(avgDiff*float64(sampleRate))
	minSamples := int(float64(nbSamples) * (100 - audioSampleCorrectionMaxPct) / 100)
	maxSamples := int(float64(nbSamples) * (100 + audioSampleCorrectionMaxPct) / 100)
	if wanted < minSamples {
		wanted = minSamples
	}
	if wanted > maxSamples {
		wanted = maxSamples
	}
	return AudioBufferPlan{WantedSamples: wanted}
}

// audioSampleCorrectionMaxPct bounds how aggressively a single buffer's
// sample count can be stretched/shrunk for drift correction.
const audioSampleCorrectionMaxPct = 10

func (p *Player) audioClockEstimate(frame *queue.Frame) float64 {
	if math.IsNaN(frame.PTS) {
		return math.NaN()
	}
	return frame.PTS + frame.Duration
}

// SyncExternalClockSpeed adapts the external clock's speed: only
// engages for realtime sources, and nudges the external clock's
// playback speed toward 1.0 or away from it depending on how many
// packets (not seconds) are buffered on the thinner queue.
func (p *Player) SyncExternalClockSpeed() {
	if !p.opts.Realtime || p.masterSyncType() != SyncExternal {
		return
	}

	const minSpeed = 0.900
	const maxSpeed = 1.010
	const speedStep = 0.001

	videoCount := math.MaxInt32
	if p.videoPQ != nil {
		videoCount = p.videoPQ.PacketCount()
	}
	audioCount := math.MaxInt32
	if p.audioPQ != nil {
		audioCount = p.audioPQ.PacketCount()
	}
	minCount := videoCount
	if audioCount < minCount {
		minCount = audioCount
	}

	speed := p.extClock.Speed()
	switch {
	case minCount <= extClockMinFrames && speed > minSpeed:
		speed -= speedStep
	case minCount > extClockMaxFrames && speed < maxSpeed:
		speed += speedStep
	case speed != 1.0:
		speed += speedStep * (1.0 - speed) / math.Abs(1.0-speed)
	}
	if speed != p.extClock.Speed() {
		p.extClock.SetSpeed(speed)
	}
}

const (
	extClockMinFrames = 2
	extClockMaxFrames = 10
)
