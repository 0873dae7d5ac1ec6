// Package audio materializes time windows of a local file or a remote URL
// as mp3 segments that identification providers can read.
//
// Local files are cut with ffmpeg. Remote sources are fetched with yt-dlp,
// one section per window, so the smallest window is also the cheapest
// download.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trackid/internal/chunk"
	"trackid/internal/identify"
	"trackid/internal/logger"
	"trackid/pkg/utils"
)

// Options shared by local and remote sources
type Options struct {
	WorkDir string // where segments are written
	Keep    bool   // leave segments on disk after the run
	Stem    string // segment file name prefix, see SegmentStem
	Logger  *logger.Logger
}

// SegmentStem names the segments of one run: "<base>_<seconds>s".
func SegmentStem(source string, center time.Duration) string {
	return fmt.Sprintf("%s_%ds", utils.BaseName(source), int(center/time.Second))
}

func (o Options) segmentPath(w chunk.Window) string {
	stem := o.Stem
	if stem == "" {
		stem = "segment"
	}
	return filepath.Join(o.WorkDir, fmt.Sprintf("%s_chunk%02d.mp3", stem, w.Index))
}

func (o Options) logger() *logger.Logger {
	if o.Logger == nil {
		return logger.Discard()
	}
	return o.Logger
}

// newSegment wraps path so that releasing it deletes the file, unless
// files are kept.
func (o Options) newSegment(path string, w chunk.Window) *identify.Segment {
	if o.Keep {
		return identify.NewSegment(path, w, nil)
	}
	return identify.NewSegment(path, w, func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

// checkOutput verifies that a tool actually produced audio.
func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no output file: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(path)
		return fmt.Errorf("output file %s is empty", filepath.Base(path))
	}
	return nil
}
