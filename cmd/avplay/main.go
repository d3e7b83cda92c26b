// Command avplay is a headless driver for the avplayer engine: it opens
// one or more sources from a playlist (or a single -url), decodes them,
// and plays audio through the local device via otosink. There is no
// windowing system wired in here, so video frames are paced by PumpVideo
// and discarded rather than rendered.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	astiav "github.com/asticode/go-astiav"
	"golang.org/x/sync/errgroup"

	"github.com/e1z0/avplayer/internal/config"
	"github.com/e1z0/avplayer/internal/player"
	"github.com/e1z0/avplayer/internal/present"
	"github.com/e1z0/avplayer/internal/sink/otosink"
)

var app = "avplay"

func main() {
	url := flag.String("url", "", "single source URL to play (overrides -config)")
	configPath := flag.String("config", "", "playlist YAML file (see internal/config)")
	loop := flag.Bool("loop", false, "loop each source at EOF")
	seekByBytes := flag.Bool("seekbytes", false, "seek by byte offset instead of timestamp")
	mute := flag.Bool("mute", false, "disable audio for all sources")
	volume := flag.Int("volume", player.AudioVolumeMax, "initial audio volume, 0..100")
	debugFF := flag.Bool("debugstreams", false, "enable go-astiav/libav debug logging")
	logToStdout := flag.Bool("verbose", false, "also tee logs to stdout (always written to ~/.config/avplay/debug.log)")
	flag.Parse()

	logFile, err := config.SetupLogging(app, *logToStdout)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logFile.Close()

	log.Printf("starting %s", app)

	if *debugFF {
		astiav.SetLogLevel(astiav.LogLevelDebug)
		astiav.SetLogCallback(func(c astiav.Classer, l astiav.LogLevel, fmt, msg string) {
			var cs string
			if c != nil {
				if cl := c.Class(); cl != nil {
					cs = " - class: " + cl.String()
				}
			}
			log.Printf("ffmpeg log: %s%s - level: %d", strings.TrimSpace(msg), cs, l)
		})
	}

	sources, err := resolveSources(*url, *configPath, *loop)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if len(sources) == 0 {
		log.Fatalf("no sources to play: pass -url or -config")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		close(stop)
	}()

	var eg errgroup.Group
	for _, src := range sources {
		src := src
		eg.Go(func() error {
			return playSource(src, *seekByBytes, *volume, *mute, stop)
		})
	}
	if err := eg.Wait(); err != nil {
		log.Printf("playback ended with error: %v", err)
	}
}

func resolveSources(url, configPath string, loop bool) ([]config.SourceConfig, error) {
	if url != "" {
		return []config.SourceConfig{{Name: url, URL: url, Loop: loop}}, nil
	}
	if configPath == "" {
		return nil, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	var out []config.SourceConfig
	for _, s := range cfg.Sources {
		if s.Disabled {
			log.Printf("source %q: disabled, skipping", safeSourceName(s))
			continue
		}
		if cfg.Loop {
			s.Loop = true
		}
		out = append(out, s)
	}
	return out, nil
}

func safeSourceName(s config.SourceConfig) string {
	if s.Name != "" {
		return s.Name
	}
	return s.URL
}

func playSource(src config.SourceConfig, seekByBytes bool, volume int, mute bool, stop <-chan struct{}) error {
	name := safeSourceName(src)

	opts := player.DefaultOptions()
	opts.SeekByBytes = src.SeekByBytes || seekByBytes
	opts.GenPTS = src.GenPTS
	opts.Loop = src.Loop
	opts.Autorotate = src.Autorotate
	opts.Realtime = src.Realtime
	opts.AudioDisable = src.Mute || mute
	opts.AudioVolume = volume
	opts.VideoFilters = src.VideoFilters
	opts.AudioFilters = src.AudioFilters
	opts.FormatOptions = src.FormatOptions
	opts.CodecOptions = src.CodecOptions
	if src.Volume != nil {
		opts.AudioVolume = *src.Volume
	}
	opts.VideoMetaCB = func(m present.VideoMeta) {
		log.Printf("[%s] video: %dx%d sar=%d/%d", name, m.Width, m.Height, m.SampleAspectRatio.Num(), m.SampleAspectRatio.Den())
	}
	opts.AudioMetaCB = func(m present.AudioMeta) present.AudioParams {
		log.Printf("[%s] audio: %d ch @ %d Hz", name, m.ChannelLayout.Channels(), m.SampleRate)
		return present.AudioParams{ChannelLayout: m.ChannelLayout, SampleRate: m.SampleRate}
	}
	opts.OnErrorCB = func(_ any, err error) {
		log.Printf("[%s] playback error: %v", name, err)
	}

	p := player.New(opts)
	if err := p.Open(src.URL); err != nil {
		return err
	}
	defer p.Close()

	var wg sync.WaitGroup
	if !opts.AudioDisable {
		if _, _, ok := p.AudioParams(); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.DriveAudioSink(otosink.New()); err != nil {
					log.Printf("[%s] audio sink: %v", name, err)
				}
			}()
		}
	}

	videoStop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.PumpVideo(videoStop)
	}()

	<-stop
	close(videoStop)
	p.Close()
	wg.Wait()
	return nil
}
