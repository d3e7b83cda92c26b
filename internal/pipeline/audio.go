package pipeline

import (
	"log"
	"math"

	"github.com/asticode/go-astiav"

	"github.com/e1z0/avplayer/internal/decode"
	"github.com/e1z0/avplayer/internal/queue"
)

// AudioOptions configures an Audio pipeline.
type AudioOptions struct {
	UserFilters       string
	ForceOutputFormat bool
	TargetLayout      astiav.ChannelLayout
	TargetSampleRate  int
}

// Audio is the audio StreamPipeline: decode -> filter graph
// (reconfigure on format/layout/rate change, pinned to S16) -> FrameQueue
// push.
type Audio struct {
	dec    *decode.Decoder
	stream *astiav.Stream
	fq     *queue.FrameQueue
	opts   AudioOptions

	g       *graph
	lastKey audioGraphKey

	stop chan struct{}
	done chan struct{}
}

// NewAudio wires a Decoder to a FrameQueue through an audio filter graph.
func NewAudio(dec *decode.Decoder, stream *astiav.Stream, fq *queue.FrameQueue, opts AudioOptions) *Audio {
	return &Audio{
		dec:    dec,
		stream: stream,
		fq:     fq,
		opts:   opts,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run is the worker loop.
func (a *Audio) Run() {
	defer close(a.done)
	defer a.g.close()

	frame := astiav.AllocFrame()
	defer frame.Free()

	for {
		select {
		case <-a.stop:
			return
		default:
		}

		res, err := a.dec.Decode(frame)
		if err != nil {
			log.Printf("pipeline(audio): decode error: %v", err)
			continue
		}
		switch res {
		case decode.Empty, decode.End:
			continue
		case decode.Ready:
		}

		if err := a.reconfigureIfNeeded(frame); err != nil {
			log.Printf("pipeline(audio): reconfigure failed: %v", err)
			frame.Unref()
			continue
		}

		if err := a.g.src.AddFrame(frame); err != nil {
			log.Printf("pipeline(audio): push to graph failed: %v", err)
			frame.Unref()
			continue
		}
		frame.Unref()

		for {
			out := astiav.AllocFrame()
			if err := a.g.sink.GetFrame(out); err != nil {
				out.Free()
				break
			}
			a.deposit(out)
		}
	}
}

func (a *Audio) reconfigureIfNeeded(f *astiav.Frame) error {
	key := audioGraphKey{
		format:     f.SampleFormat(),
		channels:   f.ChannelLayout(),
		sampleRate: f.SampleRate(),
		serial:     a.dec.PacketSerial(),
	}
	if a.g != nil && key == a.lastKey {
		return nil
	}
	a.g.close()

	g, err := buildAudioGraph(a.dec.CodecContext(), a.opts.UserFilters, a.opts.ForceOutputFormat, a.opts.TargetLayout, a.opts.TargetSampleRate)
	if err != nil {
		return err
	}
	a.g = g
	a.lastKey = key
	return nil
}

// deposit converts one buffersink output frame into a queue.Frame:
// pts = frame.pts * time_base (NaN if absent), duration = nb_samples /
// sample_rate.
func (a *Audio) deposit(out *astiav.Frame) {
	slot := a.fq.PeekWritable()
	if slot == nil {
		out.Free()
		return
	}

	tb := a.stream.TimeBase()
	pts := math.NaN()
	if out.Pts() != astiav.NoPtsValue && tb.Den() != 0 {
		pts = float64(out.Pts()) * float64(tb.Num()) / float64(tb.Den())
	}
	duration := 0.0
	if sr := out.SampleRate(); sr > 0 {
		duration = float64(out.NbSamples()) / float64(sr)
	}

	slot.AVFrame.Unref()
	if err := slot.AVFrame.Ref(out); err != nil {
		out.Free()
		return
	}
	out.Free()

	slot.PTS = pts
	slot.Duration = duration
	slot.Serial = a.dec.PacketSerial()
	slot.Pos = slot.AVFrame.PktPos()

	a.fq.Push()
}

// Stop signals the worker loop to exit after its current iteration.
func (a *Audio) Stop() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}

// Done is closed once Run has returned.
func (a *Audio) Done() <-chan struct{} { return a.done }
