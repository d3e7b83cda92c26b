package player

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/e1z0/avplayer/internal/decode"
)

// Seek requests an absolute seek to position (seconds from the
// container's start). rel (also seconds) is the signed offset that led to
// position: a negative rel makes it a backward seek, and it is otherwise
// only recorded. The actual container seek happens on the demux thread at
// its next loop iteration.
func (p *Player) Seek(position, rel float64) {
	p.seekMu.Lock()
	defer p.seekMu.Unlock()

	var target int64
	var flags astiav.SeekFlags
	if p.opts.SeekByBytes {
		target = int64(position * float64(p.estimateBitrate()) / 8)
		flags = astiav.NewSeekFlags(astiav.SeekFlagByte)
	} else {
		target = int64(position * float64(time1e6))
		flags = astiav.NewSeekFlags()
	}
	if rel < 0 {
		if p.opts.SeekByBytes {
			flags = astiav.NewSeekFlags(astiav.SeekFlagByte, astiav.SeekFlagBackward)
		} else {
			flags = astiav.NewSeekFlags(astiav.SeekFlagBackward)
		}
	}

	p.seekPos = target
	p.seekRel = int64(rel * float64(time1e6))
	p.seekFlags = flags
	p.seekReq = true
	p.seekPending.Store(true)
	p.wakeDemux()
}

// seekToStart rewinds to the container's first timestamp, used for
// Options.Loop once both queues have drained at EOF.
func (p *Player) seekToStart() error {
	p.seekMu.Lock()
	p.seekPos = p.fc.StartTime()
	p.seekRel = 0
	p.seekFlags = astiav.NewSeekFlags()
	p.seekReq = true
	p.seekPending.Store(true)
	p.seekMu.Unlock()
	return p.performSeek()
}

const time1e6 = 1_000_000

// estimateBitrate returns the container's reported overall bitrate, or
// a conservative fallback if it is unknown, for byte-seek math.
func (p *Player) estimateBitrate() int64 {
	if br := p.fc.BitRate(); br > 0 {
		return br
	}
	return 1_000_000
}

// performSeek runs on the demux thread: issues the container seek,
// flushes both packet queues (bumping their serials so any in-flight
// decoder output is recognized as stale), and reseeds every clock at
// the new position.
func (p *Player) performSeek() error {
	p.seekMu.Lock()
	pos, flags := p.seekPos, p.seekFlags
	p.seekReq = false
	p.seekMu.Unlock()
	p.seekPending.Store(false)

	streamIdx := -1
	if p.videoStreamIdx >= 0 {
		streamIdx = p.videoStreamIdx
	} else if p.audioStreamIdx >= 0 {
		streamIdx = p.audioStreamIdx
	}

	if err := p.fc.SeekFrame(streamIdx, pos, flags); err != nil {
		return fmt.Errorf("SeekFrame: %w", err)
	}

	if p.audioPQ != nil {
		p.audioPQ.Flush()
	}
	if p.videoPQ != nil {
		p.videoPQ.Flush()
	}

	posSec := float64(pos) / float64(time1e6)
	if p.videoClock != nil {
		p.videoClock.Init(p.videoPQ.SerialRef())
		p.videoClock.Set(posSec, p.videoPQ.GetSerial())
	}
	if p.audioClock != nil {
		p.audioClock.Init(p.audioPQ.SerialRef())
		p.audioClock.Set(posSec, p.audioPQ.GetSerial())
	}
	p.extClock.Init(nil)
	p.extClock.Set(posSec, p.extClock.Serial())

	p.eof.Store(false)
	return nil
}

// TogglePause flips paused/running and, when resuming, rebases
// frameTimer and the video clock so elapsed pause time is not counted
// as desync.
func (p *Player) TogglePause() {
	wasPaused := p.paused.Load()
	if wasPaused && p.videoClock != nil {
		p.frameTimer += nowSeconds() - p.videoClock.LastUpdated()
	}
	newPaused := !wasPaused
	p.paused.Store(newPaused)
	p.extClock.SetPaused(newPaused)
	if p.videoClock != nil {
		p.videoClock.SetPaused(newPaused)
	}
	if p.audioClock != nil {
		p.audioClock.SetPaused(newPaused)
	}
	p.wakeDemux()
}

// Paused reports the current pause state.
func (p *Player) Paused() bool { return p.paused.Load() }

// StepToNextFrame unpauses for exactly one displayed video frame: the
// scheduler clears the step flag itself once it has shown a frame.
func (p *Player) StepToNextFrame() {
	if p.paused.Load() {
		p.TogglePause()
	}
	p.step.Store(true)
}

// CycleChannel switches to the next available stream of the given
// media type. The switch always commits once a matching stream is
// found, rather than merely computing a candidate.
func (p *Player) CycleChannel(mediaType astiav.MediaType) error {
	if p.fc == nil {
		return errors.New("player: not open")
	}
	streams := p.fc.Streams()

	var current int
	switch mediaType {
	case astiav.MediaTypeVideo:
		current = p.videoStreamIdx
	case astiav.MediaTypeAudio:
		current = p.audioStreamIdx
	default:
		return fmt.Errorf("player: unsupported cycle media type %v", mediaType)
	}

	next := -1
	for i := 1; i <= len(streams); i++ {
		idx := (current + i) % len(streams)
		if streams[idx].CodecParameters().MediaType() == mediaType {
			next = idx
			break
		}
	}
	if next < 0 || next == current {
		return errors.New("player: no other stream of that type")
	}

	return p.switchStream(mediaType, next)
}

// switchStream tears down the old decoder/pipeline for mediaType and
// opens idx in its place, reusing the existing packet/frame queues and
// clock so playback continues without a full reopen.
func (p *Player) switchStream(mediaType astiav.MediaType, idx int) error {
	switch mediaType {
	case astiav.MediaTypeVideo:
		if p.videoDec != nil {
			p.videoPipe.Stop()
			p.videoDec.Abort()
			<-p.videoPipe.Done()
			p.videoDec.Destroy()
		}
		p.videoStream = p.fc.Streams()[idx]
		p.videoStreamIdx = idx
		p.videoPQ.Start()
		if err := p.openVideoStream(); err != nil {
			return err
		}
		p.videoDec.Start(func(*decode.Decoder) { p.videoPipe.Run() })
	case astiav.MediaTypeAudio:
		if p.audioDec != nil {
			p.audioPipe.Stop()
			p.audioDec.Abort()
			<-p.audioPipe.Done()
			p.audioDec.Destroy()
		}
		p.audioStream = p.fc.Streams()[idx]
		p.audioStreamIdx = idx
		p.audioPQ.Start()
		if err := p.openAudioStream(); err != nil {
			return err
		}
		p.audioDec.Start(func(*decode.Decoder) { p.audioPipe.Run() })
	}
	return nil
}

// SeekChapter seeks to the start of the chapter incr positions away from
// whichever chapter currently contains the master clock's position (incr
// is typically +1 or -1). Returns an error if the container has no
// chapter table or incr would move past the last chapter.
func (p *Player) SeekChapter(incr int) error {
	if p.fc == nil {
		return errors.New("player: not open")
	}
	chapters := p.fc.Chapters()
	if len(chapters) == 0 {
		return errors.New("player: no chapters")
	}

	posSec := p.masterClock().Get()

	idx := -1
	for i, ch := range chapters {
		tb := ch.TimeBase()
		startSec := float64(ch.Start()) * float64(tb.Num()) / float64(tb.Den())
		if startSec > posSec {
			break
		}
		idx = i
	}

	idx += incr
	if idx < 0 {
		idx = 0
	}
	if idx >= len(chapters) {
		return errors.New("player: no chapter in that direction")
	}

	tb := chapters[idx].TimeBase()
	startSec := float64(chapters[idx].Start()) * float64(tb.Num()) / float64(tb.Den())
	p.Seek(startSec, 1)
	return nil
}

// SetVolume clamps vol into [0, AudioVolumeMax] and records it; the
// host's audio sink reads it back through Volume on every buffer fill.
// Volume lives in the core so it survives a device swap.
func (p *Player) SetVolume(vol int) {
	if vol < 0 {
		vol = 0
	}
	if vol > AudioVolumeMax {
		vol = AudioVolumeMax
	}
	p.statsMu.Lock()
	p.opts.AudioVolume = vol
	p.statsMu.Unlock()
}

// Volume returns the current audio volume, 0..AudioVolumeMax.
func (p *Player) Volume() int {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.opts.AudioVolume
}

// Stats returns a snapshot of the engine's per-source metrics: decoded
// and dropped frame counts, instantaneous bitrate, and a 0-5 health
// score.
func (p *Player) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}
