package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.senan.xyz/taglib"

	"trackid/internal/chunk"
	"trackid/internal/identify"
)

// LocalSource cuts windows out of a file on disk with ffmpeg.
type LocalSource struct {
	Path   string
	FFmpeg string // executable, "ffmpeg" when empty
	opts   Options
}

// NewLocalSource checks that path exists and returns a source for it.
func NewLocalSource(path, ffmpeg string, opts Options) (*LocalSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &LocalSource{Path: path, FFmpeg: ffmpeg, opts: opts}, nil
}

// Length reads the duration of the file from its audio properties.
func (s *LocalSource) Length() (time.Duration, error) {
	props, err := taglib.ReadProperties(s.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to read audio properties of %s: %w", s.Path, err)
	}
	if props.Length <= 0 {
		return 0, fmt.Errorf("unknown length for %s", s.Path)
	}
	return props.Length, nil
}

// Whole returns the entire file as a caller-owned segment.
func (s *LocalSource) Whole() *identify.Segment {
	w := chunk.Window{}
	if length, err := s.Length(); err == nil {
		w.End = length
	}
	return identify.NewSegment(s.Path, w, nil)
}

// Materialize extracts w into the work dir.
func (s *LocalSource) Materialize(ctx context.Context, w chunk.Window) (*identify.Segment, error) {
	out := s.opts.segmentPath(w)
	s.opts.logger().Debug("Extracting %s from %s", w, s.Path)

	if err := Extract(ctx, s.FFmpeg, s.Path, out, w.Start, w.Duration()); err != nil {
		return nil, err
	}
	return s.opts.newSegment(out, w), nil
}

// Extract writes dur of input starting at start to output as 128k mp3.
func Extract(ctx context.Context, ffmpeg, input, output string, start, dur time.Duration) error {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-ss", seconds(start),
		"-i", input,
		"-t", seconds(dur),
		"-acodec", "libmp3lame",
		"-ab", "128k",
		"-y",
		"-loglevel", "error",
		output,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// a partial file has no segment to release it
		os.Remove(output)
		if ctx.Err() != nil {
			return fmt.Errorf("extraction cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w\nDetails: %s", err, strings.TrimSpace(stderr.String()))
	}
	return checkOutput(output)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
