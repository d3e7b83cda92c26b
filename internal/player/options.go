package player

import (
	"github.com/e1z0/avplayer/internal/present"
)

// SyncType selects which clock is master.
type SyncType int

const (
	SyncAudio SyncType = iota
	SyncVideo
	SyncExternal
)

// Options configure a Player's decode, sync and filter behavior.
type Options struct {
	AudioDisable bool
	SeekByBytes  bool

	// StartTime/Duration bound the play range, in microseconds. Zero
	// StartTime means "from the container's start"; zero Duration means
	// "to EOF".
	StartTime int64
	Duration  int64

	GenPTS         bool
	Loop           bool
	FindStreamInfo bool

	Autorotate bool
	ReorderPTS bool

	AudioVolume int // 0..AudioVolumeMax

	Opaque    any
	OnErrorCB present.ErrorFunc

	VideoMetaCB present.VideoMetaFunc
	AudioMetaCB present.AudioMetaFunc

	// RunSync, if true, drives the read loop on the caller's own
	// goroutine (via RunSync) instead of spawning one from Open.
	RunSync bool

	AVSyncType SyncType

	// Realtime marks the source as a live input (RTP/RTSP/UDP/SDP);
	// external-clock speed adaptation only engages for these.
	Realtime bool

	// VideoFilters/AudioFilters are appended to the autogenerated filter
	// chain.
	VideoFilters string
	AudioFilters string

	// FormatOptions is forwarded to the container's OpenInput call (via
	// ffutil's -fKEY=value grammar).
	FormatOptions string
	// CodecOptions is forwarded to the decoder Open call for both
	// streams (via ffutil's -cKEY=value grammar).
	CodecOptions string
}

// AudioVolumeMax is the ceiling for Options.AudioVolume.
const AudioVolumeMax = 100

// DefaultOptions returns sensible defaults: av-sync to audio, stream-info
// probing on, reorder_pts on, full volume.
func DefaultOptions() Options {
	return Options{
		FindStreamInfo: true,
		ReorderPTS:     true,
		AudioVolume:    AudioVolumeMax,
		AVSyncType:     SyncAudio,
	}
}
