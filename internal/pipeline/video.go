package pipeline

import (
	"log"
	"math"

	"github.com/asticode/go-astiav"

	"github.com/e1z0/avplayer/internal/decode"
	"github.com/e1z0/avplayer/internal/ffutil"
	"github.com/e1z0/avplayer/internal/queue"
)

// AVNoSyncThreshold is the maximum allowed desync, in seconds, before the
// video pipeline drops frames to catch back up to the master clock.
const AVNoSyncThreshold = 10.0

// VideoMasterReader exposes the (possibly video) master clock's current
// value, without importing the player package (which depends on this one).
type VideoMasterReader interface {
	MasterIsVideo() bool
	MasterValue() float64
}

// VideoOptions configures a Video pipeline.
type VideoOptions struct {
	Autorotate   bool
	UserFilters  string
	SupportedFmt []astiav.PixelFormat // pix_fmts the presenter accepts
}

// Video is the video StreamPipeline: decode -> (drop if way behind
// master) -> filter graph (autorotate + reconfigure on shape change) ->
// FrameQueue push.
type Video struct {
	dec     *decode.Decoder
	stream  *astiav.Stream
	fq      *queue.FrameQueue
	pq      *queue.PacketQueue
	opts    VideoOptions
	master  VideoMasterReader

	g       *graph
	lastKey videoGraphKey

	stop chan struct{}
	done chan struct{}
}

// NewVideo wires a Decoder to a FrameQueue through a filter graph.
func NewVideo(dec *decode.Decoder, stream *astiav.Stream, fq *queue.FrameQueue, pq *queue.PacketQueue, opts VideoOptions, master VideoMasterReader) *Video {
	return &Video{
		dec:    dec,
		stream: stream,
		fq:     fq,
		pq:     pq,
		opts:   opts,
		master: master,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run is the worker loop: call it in its own goroutine (Decoder.Start
// passes this as workerFn, closed over the Video receiver).
func (v *Video) Run() {
	defer close(v.done)
	defer v.g.close()

	frame := astiav.AllocFrame()
	defer frame.Free()

	frameRate := v.stream.AvgFrameRate()

	for {
		select {
		case <-v.stop:
			return
		default:
		}

		res, err := v.dec.Decode(frame)
		if err != nil {
			log.Printf("pipeline(video): decode error: %v", err)
			continue
		}
		switch res {
		case decode.Empty:
			continue
		case decode.End:
			continue
		case decode.Ready:
		}

		if v.shouldDrop(frame) {
			frame.Unref()
			continue
		}

		if err := v.reconfigureIfNeeded(frame); err != nil {
			log.Printf("pipeline(video): reconfigure failed: %v", err)
			frame.Unref()
			continue
		}

		if err := v.g.src.AddFrame(frame); err != nil {
			log.Printf("pipeline(video): push to graph failed: %v", err)
			frame.Unref()
			continue
		}
		frame.Unref()

		for {
			out := astiav.AllocFrame()
			if err := v.g.sink.GetFrame(out); err != nil {
				out.Free()
				break
			}
			v.deposit(out, frameRate)
		}
	}
}

// shouldDrop drops a frame whose pts is more than AVNoSyncThreshold
// behind the master, but only while video is not itself the master and
// the decoder is on the current serial. The filter chain's own delay is
// not measured and not subtracted.
func (v *Video) shouldDrop(f *astiav.Frame) bool {
	if v.master == nil || v.master.MasterIsVideo() {
		return false
	}
	if v.dec.PacketSerial() != v.pq.GetSerial() {
		return false
	}
	tb := v.stream.TimeBase()
	if tb.Den() == 0 || f.Pts() == astiav.NoPtsValue {
		return false
	}
	pts := float64(f.Pts()) * float64(tb.Num()) / float64(tb.Den())
	masterVal := v.master.MasterValue()
	if math.IsNaN(masterVal) {
		return false
	}
	return masterVal-pts > AVNoSyncThreshold
}

func (v *Video) reconfigureIfNeeded(f *astiav.Frame) error {
	key := videoGraphKey{
		width:  f.Width(),
		height: f.Height(),
		format: f.PixelFormat(),
		serial: v.dec.PacketSerial(),
		sar:    f.SampleAspectRatio(),
	}
	if v.g != nil && key == v.lastKey {
		return nil
	}
	v.g.close()

	var rotationFilters []string
	if v.opts.Autorotate {
		if matrix, ok := readDisplayMatrix(v.stream); ok {
			theta := ffutil.DisplayRotation(matrix)
			rotationFilters = ffutil.RotateFilters(theta)
		}
	}

	g, err := buildVideoGraph(v.dec.CodecContext(), key.sar, rotationFilters, v.opts.UserFilters, v.opts.SupportedFmt)
	if err != nil {
		return err
	}
	v.g = g
	v.lastKey = key
	return nil
}

// deposit converts one buffersink output frame into a queue.Frame and
// pushes it.
func (v *Video) deposit(out *astiav.Frame, frameRate astiav.Rational) {
	slot := v.fq.PeekWritable()
	if slot == nil {
		out.Free()
		return
	}

	tb := v.stream.TimeBase()
	pts := math.NaN()
	if out.Pts() != astiav.NoPtsValue && tb.Den() != 0 {
		pts = float64(out.Pts()) * float64(tb.Num()) / float64(tb.Den())
	}
	duration := 0.0
	if frameRate.Num() > 0 && frameRate.Den() > 0 {
		duration = float64(frameRate.Den()) / float64(frameRate.Num())
	}

	slot.AVFrame.Unref()
	if err := slot.AVFrame.Ref(out); err != nil {
		out.Free()
		return
	}
	out.Free()

	slot.PTS = pts
	slot.Duration = duration
	slot.Serial = v.dec.PacketSerial()
	slot.Pos = slot.AVFrame.PktPos()
	slot.Width = slot.AVFrame.Width()
	slot.Height = slot.AVFrame.Height()
	slot.Format = slot.AVFrame.PixelFormat()
	slot.SampleAspectRatio = slot.AVFrame.SampleAspectRatio()
	slot.Uploaded = false

	v.fq.Push()
}

// Stop signals the worker loop to exit after its current iteration.
func (v *Video) Stop() {
	select {
	case <-v.stop:
	default:
		close(v.stop)
	}
}

// Done is closed once Run has returned.
func (v *Video) Done() <-chan struct{} { return v.done }
