// Package config persists the set of sources avplay knows how to open,
// using an atomic-write-then-rename YAML convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v2"
)

// PlaylistConfig is the top-level document: a list of sources plus a
// few playback-wide toggles.
type PlaylistConfig struct {
	Sources       []SourceConfig `yaml:"sources"`
	Loop          bool           `yaml:"loop,omitempty"`
	DefaultVolume int            `yaml:"default_volume,omitempty"`
	AutorotateAll bool           `yaml:"autorotate_all,omitempty"`
}

// SourceConfig describes one openable URL and its per-source playback
// knobs, generalized from a single-protocol "RTSP camera" shape to any
// avplay source.
type SourceConfig struct {
	ID       string `yaml:"id,omitempty"`
	Name     string `yaml:"name"`
	Disabled bool   `yaml:"disabled,omitempty"`
	URL      string `yaml:"url"`

	SeekByBytes bool `yaml:"seek_by_bytes,omitempty"`
	GenPTS      bool `yaml:"gen_pts,omitempty"`
	Loop        bool `yaml:"loop,omitempty"`
	Autorotate  bool `yaml:"autorotate,omitempty"`
	Mute        bool `yaml:"mute,omitempty"`
	Realtime    bool `yaml:"realtime,omitempty"`

	Volume *int `yaml:"volume,omitempty"`

	VideoFilters  string `yaml:"video_filters,omitempty"`
	AudioFilters  string `yaml:"audio_filters,omitempty"`
	FormatOptions string `yaml:"format_options,omitempty"` // "-fKEY=value ..."
	CodecOptions  string `yaml:"codec_options,omitempty"`  // "-cKEY=value ..."
}

var mu sync.Mutex

// Load reads and parses a playlist file.
func Load(path string) (PlaylistConfig, error) {
	var cfg PlaylistConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path via a temp file plus rename, so a crash
// mid-write never corrupts the previous good copy.
func Save(path string, cfg PlaylistConfig) error {
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(&cfg); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// DefaultPath resolves to a ~/.config/<appname>/playlist.yml layout.
func DefaultPath(appName string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "playlist.yml"), nil
}
