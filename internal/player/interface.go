package player

import "github.com/asticode/go-astiav"

// AudioParams reports the channel layout and sample rate of the opened
// audio codec context, for a host building its own output conversion
// instead of relying on AudioMetaCB negotiation. These are the decoder's
// parameters; with AudioMetaCB set, the pipeline's output frames use the
// negotiated layout and rate instead.
func (p *Player) AudioParams() (layout astiav.ChannelLayout, sampleRate int, ok bool) {
	if p.audioDec == nil || p.audioDec.CodecContext() == nil {
		return astiav.ChannelLayout{}, 0, false
	}
	ctx := p.audioDec.CodecContext()
	return ctx.ChannelLayout(), ctx.SampleRate(), true
}

// FormatContext exposes the underlying container handle, for callers
// that need container-level metadata (chapters, duration, tags) the
// Player doesn't itself surface.
func (p *Player) FormatContext() *astiav.FormatContext {
	return p.fc
}

// ForceRefresh reports whether the presenter should redraw the current
// frame even if no new one has arrived (e.g. after a pause toggle or a
// window resize).
func (p *Player) ForceRefresh() bool {
	return p.forceRefresh.Swap(false)
}

// SetForceRefresh requests a redraw on the next presenter tick.
func (p *Player) SetForceRefresh() {
	p.forceRefresh.Store(true)
}
