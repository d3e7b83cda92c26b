// Package player implements the top-level playback engine: Player
// aggregates the three clocks, the two packet/frame queue pairs, the two
// decoders/pipelines, the demux thread, and the master-clock scheduler,
// and exposes the library's external interface.
package player

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"golang.org/x/sync/errgroup"

	"github.com/e1z0/avplayer/internal/clock"
	"github.com/e1z0/avplayer/internal/decode"
	"github.com/e1z0/avplayer/internal/ffutil"
	"github.com/e1z0/avplayer/internal/pipeline"
	"github.com/e1z0/avplayer/internal/present"
	"github.com/e1z0/avplayer/internal/queue"
)

// maxQueueBytes is the 15 MiB backpressure ceiling on the combined size
// of both packet queues.
const maxQueueBytes = 15 << 20

// minQueuePackets/minQueueDuration are the "enough packets" thresholds
// from the same step.
const (
	minQueuePackets  = 10
	minQueueDuration = 1.0
)

// audioDiffAvgNB is the number of samples the audio drift average runs
// over before it is trusted.
const audioDiffAvgNB = 20

// Player is the engine. Create one with New, Open a URL, Close
// it, and Destroy it; while open, drive it through the methods in
// control.go and scheduler.go.
type Player struct {
	opts Options

	audioClock *clock.Clock
	videoClock *clock.Clock
	extClock   *clock.Clock

	audioPQ *queue.PacketQueue
	videoPQ *queue.PacketQueue
	audioFQ *queue.FrameQueue
	videoFQ *queue.FrameQueue

	audioDec *decode.Decoder
	videoDec *decode.Decoder

	audioPipe *pipeline.Audio
	videoPipe *pipeline.Video

	fc             *astiav.FormatContext
	audioStreamIdx int
	videoStreamIdx int
	audioStream    *astiav.Stream
	videoStream    *astiav.Stream

	abortRequest atomic.Bool
	paused       atomic.Bool
	step         atomic.Bool
	eof          atomic.Bool
	forceRefresh atomic.Bool

	seekPending atomic.Bool

	// queueAttachmentsReq is set once per video-stream (re)open and
	// consumed the next time the demux thread's read loop runs, so a
	// stream's attached cover art (if any) is injected exactly once.
	queueAttachmentsReq atomic.Bool

	seekMu    sync.Mutex
	seekReq   bool
	seekPos   int64
	seekRel   int64
	seekFlags astiav.SeekFlags

	continueMu   sync.Mutex
	continueCond *sync.Cond

	url string

	eg   *errgroup.Group
	stop context.CancelFunc

	// audio drift correction state
	audioDiffCum      float64
	audioDiffAvgCoef  float64
	audioDiffAvgCount int
	audioDiffThresh   float64

	// scheduler state
	frameTimer       float64
	maxFrameDuration float64

	statsMu sync.Mutex
	stats   Stats

	// raw counters the metrics ticker samples once a second
	framesDecoded int64
	framesDropped int64
	bytesVideo    int64
	metricsStop   chan struct{}
	metricsDone   chan struct{}

	closeOnce sync.Once
}

// Stats is a point-in-time snapshot of per-source playback metrics.
type Stats struct {
	FramesDecoded int64
	FramesDropped int64
	BitrateKbps   float64
	Health        int
}

// New creates a Player in its initial (unopened) state.
func New(opts Options) *Player {
	p := &Player{opts: opts}
	p.extClock = clock.New(nil)
	p.continueCond = sync.NewCond(&p.continueMu)
	return p
}

// Open opens url, probes its streams, selects audio/video, and (unless
// opts.RunSync) spawns the demux thread, which Close joins through an
// errgroup. One decoder goroutine per selected stream is started with
// Decoder.Start; Close stops those through the abort flag and the queue
// aborts, not through a context.
func (p *Player) Open(url string) error {
	p.url = url

	// Realtime sources (live RTSP et al.) are exactly the ones ffmpeg
	// marks with discontinuous timestamps, so the scheduler should not
	// trust a pts gap between consecutive frames as long as a 3600s film
	// would; non-realtime (file) sources get the generous ceiling.
	if p.opts.Realtime {
		p.maxFrameDuration = 10.0
	} else {
		p.maxFrameDuration = 3600.0
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return newError(KindFatalSetup, errors.New("AllocFormatContext failed"))
	}
	p.fc = fc

	// interruptRet is the *int go-astiav wires into the libav
	// AVIOInterruptCB; writing 1 to it makes any blocking libav call
	// (OpenInput, FindStreamInfo, ReadFrame, SeekFrame) bail out.
	interruptRet := fc.SetInterruptCallback()
	go func() {
		for !p.abortRequest.Load() {
			time.Sleep(50 * time.Millisecond)
		}
		*interruptRet = 1
	}()

	fmtOpts := astiav.NewDictionary()
	defer fmtOpts.Free()
	ffutil.ApplyFormatOptions(p.opts.FormatOptions, fmtOpts)
	if p.opts.GenPTS {
		_ = fmtOpts.Set("fflags", "+genpts", 0)
	}

	if err := fc.OpenInput(url, nil, fmtOpts); err != nil {
		fc.Free()
		return newError(KindFatalSetup, fmt.Errorf("OpenInput: %w", err))
	}

	if p.opts.FindStreamInfo {
		if err := fc.FindStreamInfo(nil); err != nil {
			fc.CloseInput()
			fc.Free()
			return newError(KindFatalSetup, fmt.Errorf("FindStreamInfo: %w", err))
		}
	}

	if err := p.selectStreams(); err != nil {
		fc.CloseInput()
		fc.Free()
		return err
	}

	if p.audioStreamIdx < 0 && p.videoStreamIdx < 0 {
		fc.CloseInput()
		fc.Free()
		return newError(KindFatalSetup, errors.New("no playable stream"))
	}

	if err := p.openDecodersAndPipelines(); err != nil {
		fc.CloseInput()
		fc.Free()
		return err
	}

	if p.audioPQ != nil {
		p.audioPQ.Start()
	}
	if p.videoPQ != nil {
		p.videoPQ.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, _ := errgroup.WithContext(ctx)
	p.eg = eg
	p.stop = cancel

	if p.audioDec != nil {
		p.audioDec.Start(func(*decode.Decoder) { p.audioPipe.Run() })
	}
	if p.videoDec != nil {
		p.videoDec.Start(func(*decode.Decoder) { p.videoPipe.Run() })
	}

	p.metricsStop = make(chan struct{})
	p.metricsDone = make(chan struct{})
	go p.runMetrics()

	if p.opts.RunSync {
		return nil
	}

	eg.Go(func() error {
		p.readLoop()
		return nil
	})

	return nil
}

// RunSync drives the read loop on the caller's own goroutine; use with
// Options.RunSync=true when the host wants synchronous control instead
// of a spawned thread.
func (p *Player) RunSync() {
	p.readLoop()
}

func (p *Player) selectStreams() error {
	p.audioStreamIdx = -1
	p.videoStreamIdx = -1

	for i, s := range p.fc.Streams() {
		switch s.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if p.videoStreamIdx < 0 {
				p.videoStreamIdx = i
				p.videoStream = s
			}
		case astiav.MediaTypeAudio:
			if !p.opts.AudioDisable && p.audioStreamIdx < 0 {
				p.audioStreamIdx = i
				p.audioStream = s
			}
		}
	}
	return nil
}

func (p *Player) openDecodersAndPipelines() error {
	if p.videoStreamIdx >= 0 {
		if err := p.openVideoStream(); err != nil {
			return newError(KindFatalSetup, fmt.Errorf("open video stream: %w", err))
		}
	}
	if p.audioStreamIdx >= 0 {
		if err := p.openAudioStream(); err != nil {
			return newError(KindFatalSetup, fmt.Errorf("open audio stream: %w", err))
		}
	}
	return nil
}

// openVideoStream creates the video packet/frame queues and clock on first
// use (CycleChannel reuses them) and builds the decoder and pipeline around
// p.videoStream/p.videoStreamIdx.
func (p *Player) openVideoStream() error {
	if p.videoPQ == nil {
		p.videoPQ = queue.NewPacketQueue()
		p.videoFQ = queue.NewFrameQueue(p.videoPQ, queue.MaxVideoFrames, true)
		p.videoClock = clock.New(p.videoPQ.SerialRef())
	}

	ctx, err := p.openCodecContext(p.videoStream)
	if err != nil {
		return err
	}
	p.videoDec = decode.New(ctx, astiav.MediaTypeVideo, p.videoPQ, p.signalContinueRead, p.opts.ReorderPTS)

	if p.opts.VideoMetaCB != nil {
		p.opts.VideoMetaCB(present.VideoMeta{
			Width:             ctx.Width(),
			Height:            ctx.Height(),
			SampleAspectRatio: ctx.SampleAspectRatio(),
		})
	}

	p.videoPipe = pipeline.NewVideo(p.videoDec, p.videoStream, p.videoFQ, p.videoPQ, pipeline.VideoOptions{
		Autorotate:   p.opts.Autorotate,
		UserFilters:  p.opts.VideoFilters,
		SupportedFmt: []astiav.PixelFormat{astiav.PixelFormatYuv420P},
	}, p)
	p.queueAttachmentsReq.Store(true)
	return nil
}

// openAudioStream is openVideoStream's audio counterpart.
func (p *Player) openAudioStream() error {
	if p.audioPQ == nil {
		p.audioPQ = queue.NewPacketQueue()
		p.audioFQ = queue.NewFrameQueue(p.audioPQ, queue.MaxAudioFrames, false)
		p.audioClock = clock.New(p.audioPQ.SerialRef())
	}

	ctx, err := p.openCodecContext(p.audioStream)
	if err != nil {
		return err
	}
	p.audioDec = decode.New(ctx, astiav.MediaTypeAudio, p.audioPQ, p.signalContinueRead, p.opts.ReorderPTS)

	forceFmt := false
	var targetLayout astiav.ChannelLayout
	targetRate := ctx.SampleRate()
	if p.opts.AudioMetaCB != nil {
		params := p.opts.AudioMetaCB(present.AudioMeta{
			ChannelLayout: ctx.ChannelLayout(),
			SampleRate:    ctx.SampleRate(),
		})
		forceFmt = true
		targetLayout = params.ChannelLayout
		targetRate = params.SampleRate
	}

	p.audioPipe = pipeline.NewAudio(p.audioDec, p.audioStream, p.audioFQ, pipeline.AudioOptions{
		UserFilters:       p.opts.AudioFilters,
		ForceOutputFormat: forceFmt,
		TargetLayout:      targetLayout,
		TargetSampleRate:  targetRate,
	})

	p.audioDiffAvgCoef = math.Exp(math.Log(0.01) / audioDiffAvgNB)
	p.audioDiffThresh = 0
	return nil
}

func (p *Player) openCodecContext(stream *astiav.Stream) (*astiav.CodecContext, error) {
	par := stream.CodecParameters()
	dec := astiav.FindDecoder(par.CodecID())
	if dec == nil {
		return nil, fmt.Errorf("FindDecoder: unsupported codec %v", par.CodecID())
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return nil, errors.New("AllocCodecContext failed")
	}
	if err := par.ToCodecContext(ctx); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("ToCodecContext: %w", err)
	}
	ctx.SetPktTimebase(stream.TimeBase())

	codecOpts := astiav.NewDictionary()
	defer codecOpts.Free()
	ffutil.ApplyCodecOptions(p.opts.CodecOptions, codecOpts)

	if err := ctx.Open(dec, codecOpts); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("Open: %w", err)
	}
	return ctx, nil
}

// signalContinueRead wakes the demux thread's timed wait: decoders call
// this whenever they are about to block on an empty packet queue.
func (p *Player) signalContinueRead() {
	p.continueMu.Lock()
	p.continueCond.Broadcast()
	p.continueMu.Unlock()
}

// Close aborts every thread, joins them, and frees queues/clocks/codec
// state. Safe to call more than once.
func (p *Player) Close() {
	p.closeOnce.Do(func() {
		if p.metricsStop != nil {
			close(p.metricsStop)
			<-p.metricsDone
		}
		p.abortRequest.Store(true)
		if p.videoPQ != nil {
			p.videoPQ.Abort()
			p.videoFQ.Signal()
		}
		if p.audioPQ != nil {
			p.audioPQ.Abort()
			p.audioFQ.Signal()
		}
		p.signalContinueRead()
		if p.videoPipe != nil {
			p.videoPipe.Stop()
		}
		if p.audioPipe != nil {
			p.audioPipe.Stop()
		}
		if p.stop != nil {
			p.stop()
		}
		if p.eg != nil {
			_ = p.eg.Wait()
		}
		if p.videoDec != nil {
			<-p.videoPipe.Done()
			p.videoDec.Destroy()
		}
		if p.audioDec != nil {
			<-p.audioPipe.Done()
			p.audioDec.Destroy()
		}
		if p.videoFQ != nil {
			p.videoFQ.Destroy()
		}
		if p.audioFQ != nil {
			p.audioFQ.Destroy()
		}
		if p.fc != nil {
			p.fc.CloseInput()
			p.fc.Free()
			p.fc = nil
		}
	})
}

// Destroy releases anything Close didn't (the Player struct itself has
// no further native resources once Close has run); kept as a distinct
// call so the library's create/open/close/destroy lifecycle stays
// explicit end to end.
func (p *Player) Destroy() {
	p.Close()
}

// MasterIsVideo implements pipeline.VideoMasterReader.
func (p *Player) MasterIsVideo() bool {
	return p.masterSyncType() == SyncVideo
}

// MasterValue implements pipeline.VideoMasterReader.
func (p *Player) MasterValue() float64 {
	return p.masterClock().Get()
}

func (p *Player) masterSyncType() SyncType {
	t := p.opts.AVSyncType
	if t == SyncVideo && p.videoStreamIdx < 0 {
		return SyncAudio
	}
	if t == SyncAudio && p.audioStreamIdx < 0 {
		return SyncExternal
	}
	return t
}

func (p *Player) masterClock() *clock.Clock {
	switch p.masterSyncType() {
	case SyncVideo:
		return p.videoClock
	case SyncAudio:
		return p.audioClock
	default:
		return p.extClock
	}
}

// logf prefixes log lines with the opened URL, in a "[name] message"
// convention.
func (p *Player) logf(format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{p.url}, args...)...)
}

// nowSeconds is wall-clock time in fractional seconds, the same unit
// internal/clock.Clock uses internally.
func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
