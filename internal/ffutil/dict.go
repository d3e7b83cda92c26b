// Package ffutil holds small helpers shared between the player and
// pipeline packages: dictionary formatting/parsing and the autorotate
// display-matrix math a rotated video stream needs.
package ffutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/asticode/go-astiav"
)

// DictPairs returns "key=value" pairs for every entry in d, sorted for
// stable logging.
func DictPairs(d *astiav.Dictionary) []string {
	if d == nil {
		return nil
	}
	var pairs []string
	var prev *astiav.DictionaryEntry
	flags := astiav.NewDictionaryFlags(astiav.DictionaryFlagIgnoreSuffix)
	for {
		e := d.Get("", prev, flags)
		if e == nil {
			break
		}
		pairs = append(pairs, fmt.Sprintf("%s=%s", e.Key(), e.Value()))
		prev = e
	}
	sort.Strings(pairs)
	return pairs
}

// JoinDict renders DictPairs on one line, for a single log call per
// opened stream.
func JoinDict(d *astiav.Dictionary) string {
	return strings.Join(DictPairs(d), " ")
}

// ParseOptionString splits an option string of the form
// "-fKEY=value -cKEY=value ..." into format-dictionary options (fopts)
// and codec-dictionary options (copts), the token grammar used to let a
// caller pass through arbitrary ffmpeg knobs.
func ParseOptionString(s string) (fopts, copts map[string]string) {
	fopts = make(map[string]string)
	copts = make(map[string]string)

	for _, tok := range strings.Fields(s) {
		if len(tok) < 3 || tok[0] != '-' {
			continue
		}
		prefix := tok[1]
		rest := tok[2:]
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 || eq == len(rest)-1 {
			continue
		}
		key := rest[:eq]
		val := rest[eq+1:]
		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') ||
				(val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}
		switch prefix {
		case 'f':
			fopts[key] = val
		case 'c':
			copts[key] = val
		}
	}
	return
}

// ApplyFormatOptions writes the "-fKEY=value" half of an option string
// into a format/demuxer dictionary.
func ApplyFormatOptions(s string, rd *astiav.Dictionary) {
	if s == "" || rd == nil {
		return
	}
	fopts, _ := ParseOptionString(s)
	for k, v := range fopts {
		_ = rd.Set(k, v, 0)
	}
}

// ApplyCodecOptions writes the "-cKEY=value" half of an option string
// into a decoder/encoder dictionary.
func ApplyCodecOptions(s string, opts *astiav.Dictionary) {
	if s == "" || opts == nil {
		return
	}
	_, copts := ParseOptionString(s)
	for k, v := range copts {
		_ = opts.Set(k, v, 0)
	}
}
