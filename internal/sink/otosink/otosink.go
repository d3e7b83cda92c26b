// Package otosink adapts the player's present.AudioSink interface onto
// github.com/hajimehoshi/oto/v2, using the same context-then-pipe shape
// common to oto-backed audio playback.
package otosink

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/hajimehoshi/oto/v2"

	"github.com/e1z0/avplayer/internal/present"
)

// sharedContext is the process-wide Oto v2 context. Oto only allows one
// context per process and mixes every player opened against it, so
// every Sink in the process shares this one.
var (
	sharedMu     sync.Mutex
	sharedCtx    *oto.Context
	sharedRate   int
	sharedCh     int
	sharedFormat oto.Format = oto.FormatSignedInt16LE
)

// initShared lazily creates the shared context on first use, keeping it
// alive for the rest of the process the way InitGlobalAudio did.
func initShared(sampleRate, channels int) (*oto.Context, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedCtx != nil {
		if sharedRate != sampleRate || sharedCh != channels {
			log.Printf("otosink: keeping existing context %d Hz/%d ch (requested %d/%d)",
				sharedRate, sharedCh, sampleRate, channels)
		}
		return sharedCtx, nil
	}

	ctx, ready, err := oto.NewContext(sampleRate, channels, sharedFormat)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ready
		log.Printf("otosink: context ready (%d Hz/%d ch)", sampleRate, channels)
	}()

	sharedCtx = ctx
	sharedRate = sampleRate
	sharedCh = channels
	return ctx, nil
}

// Sink is a present.AudioSink backed by one oto.Player fed through an
// io.Pipe, opened fresh for each source that wants audio output.
type Sink struct {
	player oto.Player
	pw     *io.PipeWriter
}

// New returns an unopened Sink; call Open (directly, or let the player
// package call it via DriveAudioSink) before writing.
func New() *Sink {
	return &Sink{}
}

// Open implements present.AudioSink: it ensures the shared context
// covers params and starts a dedicated player/pipe pair for this
// stream.
func (s *Sink) Open(params present.AudioParams) error {
	channels := params.ChannelLayout.Channels()
	if channels <= 0 {
		channels = 2
	}
	sampleRate := params.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}

	ctx, err := initShared(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("otosink: NewContext: %w", err)
	}

	pr, pw := io.Pipe()
	p := ctx.NewPlayer(pr)
	if p == nil {
		_ = pw.Close()
		return fmt.Errorf("otosink: NewPlayer failed")
	}
	p.Play()

	s.player = p
	s.pw = pw
	return nil
}

// Write feeds pcm into the player's pipe. Oto mixes internally, so a
// slow consumer only back-pressures this stream, not the shared device.
func (s *Sink) Write(pcm []byte) (int, error) {
	if s.pw == nil {
		return 0, fmt.Errorf("otosink: not open")
	}
	return s.pw.Write(pcm)
}

// Close tears down this stream's player and pipe; the shared context
// outlives it for any other open Sink.
func (s *Sink) Close() error {
	var firstErr error
	if s.pw != nil {
		if err := s.pw.Close(); err != nil {
			firstErr = err
		}
		s.pw = nil
	}
	if s.player != nil {
		if err := s.player.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.player = nil
	}
	return firstErr
}
