// Package pipeline implements the per-stream filter graph + reformat +
// queue-push worker: StreamPipeline, built on top of an
// internal/decode.Decoder.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/asticode/go-astiav"
)

// videoGraphKey and audioGraphKey capture the filter-graph-relevant subset
// of a decoded frame's shape. reconfigureIfNeeded compares the previous key
// to the current frame and rebuilds the graph whenever they differ.
type videoGraphKey struct {
	width, height int
	format        astiav.PixelFormat
	serial        int
	sar           astiav.Rational
}

type audioGraphKey struct {
	format     astiav.SampleFormat
	channels   astiav.ChannelLayout
	sampleRate int
	serial     int
}

// graph wraps an astiav filter graph plus its buffer source/sink, with
// the plumbing every StreamPipeline needs regardless of media kind.
type graph struct {
	fg   *astiav.FilterGraph
	src  *astiav.BuffersrcContext
	sink *astiav.BuffersinkContext
}

func (g *graph) close() {
	if g == nil || g.fg == nil {
		return
	}
	g.fg.Free()
	g.fg = nil
	g.src = nil
	g.sink = nil
}

// buildVideoGraph constructs "buffer -> [autorotate] -> [user filters] ->
// buffersink" constrained to pixFmts. The sink's color spaces are not
// constrained.
func buildVideoGraph(codecCtx *astiav.CodecContext, sar astiav.Rational, rotationFilters []string, userFilters string, pixFmts []astiav.PixelFormat) (*graph, error) {
	fg := astiav.AllocFilterGraph()
	if fg == nil {
		return nil, fmt.Errorf("pipeline: AllocFilterGraph failed")
	}

	args := fmt.Sprintf("video_size=%dx%d:pix_fmt=%d:time_base=%d/%d:pixel_aspect=%d/%d",
		codecCtx.Width(), codecCtx.Height(), int(codecCtx.PixelFormat()),
		codecCtx.TimeBase().Num(), codecCtx.TimeBase().Den(),
		sar.Num(), sar.Den())

	srcFilter := astiav.FindFilterByName("buffer")
	sinkFilter := astiav.FindFilterByName("buffersink")
	if srcFilter == nil || sinkFilter == nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: buffer/buffersink filters not found")
	}

	srcCtx, err := fg.NewFilterContext(srcFilter, "in", args)
	if err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: create buffer source: %w", err)
	}
	sinkCtx, err := fg.NewFilterContext(sinkFilter, "out", "")
	if err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: create buffersink: %w", err)
	}
	if err := sinkCtx.SetPixelFormats(pixFmts); err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: constrain pix_fmts: %w", err)
	}

	chain := append(append([]string{}, rotationFilters...))
	if userFilters != "" {
		chain = append(chain, userFilters)
	}
	desc := "null"
	if len(chain) > 0 {
		desc = strings.Join(chain, ",")
	}

	if err := fg.ParseAndLink(desc, srcCtx, sinkCtx); err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: parse filter chain %q: %w", desc, err)
	}
	if err := fg.Configure(); err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: configure filter graph: %w", err)
	}

	return &graph{fg: fg, src: astiav.NewBuffersrcContext(srcCtx), sink: astiav.NewBuffersinkContext(sinkCtx)}, nil
}

// buildAudioGraph constructs "abuffer -> [user filters] -> abuffersink"
// pinned to S16 (or, with forceOutputFormat, to the negotiated
// layout/rate).
func buildAudioGraph(codecCtx *astiav.CodecContext, userFilters string, forceOutputFormat bool, targetLayout astiav.ChannelLayout, targetRate int) (*graph, error) {
	fg := astiav.AllocFilterGraph()
	if fg == nil {
		return nil, fmt.Errorf("pipeline: AllocFilterGraph failed")
	}

	args := fmt.Sprintf("time_base=%d/%d:sample_rate=%d:sample_fmt=%s:channel_layout=%s",
		codecCtx.TimeBase().Num(), codecCtx.TimeBase().Den(),
		codecCtx.SampleRate(), codecCtx.SampleFormat().Name(), codecCtx.ChannelLayout().String())

	srcFilter := astiav.FindFilterByName("abuffer")
	sinkFilter := astiav.FindFilterByName("abuffersink")
	if srcFilter == nil || sinkFilter == nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: abuffer/abuffersink filters not found")
	}

	srcCtx, err := fg.NewFilterContext(srcFilter, "in", args)
	if err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: create abuffer source: %w", err)
	}
	sinkCtx, err := fg.NewFilterContext(sinkFilter, "out", "")
	if err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: create abuffersink: %w", err)
	}

	if forceOutputFormat {
		if err := sinkCtx.SetSampleFormats([]astiav.SampleFormat{astiav.SampleFormatS16}); err != nil {
			fg.Free()
			return nil, err
		}
		if err := sinkCtx.SetChannelLayouts([]astiav.ChannelLayout{targetLayout}); err != nil {
			fg.Free()
			return nil, err
		}
		if err := sinkCtx.SetSampleRates([]int{targetRate}); err != nil {
			fg.Free()
			return nil, err
		}
	} else {
		if err := sinkCtx.SetSampleFormats([]astiav.SampleFormat{astiav.SampleFormatS16}); err != nil {
			fg.Free()
			return nil, err
		}
		if err := sinkCtx.SetAllChannelCounts(true); err != nil {
			fg.Free()
			return nil, err
		}
	}

	desc := "anull"
	if userFilters != "" {
		desc = userFilters
	}
	if err := fg.ParseAndLink(desc, srcCtx, sinkCtx); err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: parse audio filter chain %q: %w", desc, err)
	}
	if err := fg.Configure(); err != nil {
		fg.Free()
		return nil, fmt.Errorf("pipeline: configure audio filter graph: %w", err)
	}

	return &graph{fg: fg, src: astiav.NewBuffersrcContext(srcCtx), sink: astiav.NewBuffersinkContext(sinkCtx)}, nil
}

// readDisplayMatrix pulls the AV_PKT_DATA_DISPLAYMATRIX side data off a
// stream, if present, as the 3x3 fixed-point matrix ffutil.DisplayRotation
// expects.
func readDisplayMatrix(stream *astiav.Stream) ([9]int32, bool) {
	var m [9]int32
	sd := stream.SideData(astiav.PacketSideDataTypeDisplaymatrix)
	if sd == nil || len(sd) < 36 {
		return m, false
	}
	for i := 0; i < 9; i++ {
		off := i * 4
		m[i] = int32(uint32(sd[off]) | uint32(sd[off+1])<<8 | uint32(sd[off+2])<<16 | uint32(sd[off+3])<<24)
	}
	return m, true
}
