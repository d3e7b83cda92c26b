// Package present defines the boundary between the playback core and its
// external collaborators: the windowing/rendering subsystem and the
// audio device callback, both left to the host process. The core only
// ever talks to these two interfaces.
package present

import "github.com/asticode/go-astiav"

// VideoMeta is delivered once per opened video stream, negotiating the
// picture size/aspect the presenter should prepare for.
type VideoMeta struct {
	Width             int
	Height            int
	SampleAspectRatio astiav.Rational
}

// AudioMeta is the audio negotiation handshake: the core proposes a
// layout/rate derived from the codec, the host returns what it actually
// opened the device
// with.
type AudioMeta struct {
	ChannelLayout astiav.ChannelLayout
	SampleRate    int
}

// AudioParams is the host's answer to an AudioMeta proposal.
type AudioParams struct {
	ChannelLayout astiav.ChannelLayout
	SampleRate    int
}

// VideoMetaFunc is called once the video stream's shape is known.
type VideoMetaFunc func(VideoMeta)

// AudioMetaFunc is called to negotiate the audio device; it returns the
// negotiated params.
type AudioMetaFunc func(AudioMeta) AudioParams

// ErrorFunc is the on_error_cb plumbing: called from the demux thread
// each time reading has made no progress for longer than the stall
// cutoff. Reading continues after the call.
type ErrorFunc func(opaque any, err error)

// AudioSink is the device-facing consumer a host wires the player's
// negotiated audio output into. It generalizes a one-oto.Player-per-source
// pattern into an interface the core can drive without depending on oto
// directly.
type AudioSink interface {
	// Open is called once, with the format the player actually settled
	// on (which may differ from what AudioMetaFunc proposed if the sink
	// replied with different AudioParams).
	Open(params AudioParams) error

	// Write delivers one buffer of interleaved S16LE PCM samples and
	// reports how many bytes were accepted.
	Write(pcm []byte) (int, error)

	// Close releases whatever device/pipe Open acquired.
	Close() error
}
