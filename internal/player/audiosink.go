package player

import (
	"fmt"
	"math"

	"github.com/e1z0/avplayer/internal/present"
)

// DriveAudioSink pulls decoded audio frames and feeds sink, applying the
// drift-correction plan from AcquireAudioBuffer before each write. It
// blocks until the audio queue is aborted (by Close, or when the demux
// loop exits), so callers run it on its own goroutine. At end of stream
// without Loop the demux loop idles, so this keeps waiting until Close.
func (p *Player) DriveAudioSink(sink present.AudioSink) error {
	if p.audioFQ == nil {
		return fmt.Errorf("player: no audio stream")
	}

	layout, sampleRate, ok := p.AudioParams()
	if !ok {
		return fmt.Errorf("player: audio codec context not open")
	}
	if err := sink.Open(present.AudioParams{ChannelLayout: layout, SampleRate: sampleRate}); err != nil {
		return fmt.Errorf("audio sink open: %w", err)
	}
	defer sink.Close()

	for {
		frame := p.audioFQ.PeekReadable()
		if frame == nil {
			return nil
		}

		nbSamples := frame.AVFrame.NbSamples()
		plan := p.AcquireAudioBuffer(frame, nbSamples, sampleRate)

		pcm, err := frame.AVFrame.Data().Bytes(0)
		if err != nil || len(pcm) == 0 {
			p.audioFQ.Next()
			continue
		}

		bytesPerSample := 2 * layout.Channels()
		want := plan.WantedSamples * bytesPerSample
		if want <= 0 || want > len(pcm) {
			want = len(pcm)
		}

		vol := p.Volume()
		if vol < AudioVolumeMax {
			applyVolume(pcm[:want], vol)
		}

		if _, err := sink.Write(pcm[:want]); err != nil {
			p.audioFQ.Next()
			return fmt.Errorf("audio sink write: %w", err)
		}

		if !math.IsNaN(frame.PTS) {
			p.audioClock.SetAt(frame.PTS+frame.Duration, frame.Serial, nowSeconds())
			p.extClock.SyncToSlave(p.audioClock, noSyncThreshold)
		}

		p.audioFQ.Next()
	}
}

// applyVolume scales packed S16LE samples in place by vol/AudioVolumeMax.
func applyVolume(pcm []byte, vol int) {
	scale := float64(vol) / float64(AudioVolumeMax)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		v := int32(float64(s) * scale)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		pcm[i] = byte(v)
		pcm[i+1] = byte(v >> 8)
	}
}
