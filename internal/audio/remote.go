package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"trackid/internal/chunk"
	"trackid/internal/identify"
	"trackid/pkg/utils"
)

// RemoteSource downloads each window of a URL with yt-dlp.
type RemoteSource struct {
	URL   string
	Ytdlp string // executable, resolved from PATH when empty
	opts  Options
}

// NewRemoteSource returns a source for url.
func NewRemoteSource(url, ytdlpPath string, opts Options) *RemoteSource {
	return &RemoteSource{URL: url, Ytdlp: ytdlpPath, opts: opts}
}

// Materialize downloads only the section covered by w.
func (s *RemoteSource) Materialize(ctx context.Context, w chunk.Window) (*identify.Segment, error) {
	target := s.opts.segmentPath(w)
	s.opts.logger().Debug("Downloading %s from %s", w, s.URL)

	path, err := DownloadSection(ctx, s.Ytdlp, s.URL, target, w.Start, w.End)
	if err != nil {
		return nil, err
	}
	return s.opts.newSegment(path, w), nil
}

// DownloadSection downloads [start, end) of url as mp3 to output and returns
// the path yt-dlp actually wrote. A zero end runs to the end of the track;
// zero for both downloads the whole track.
func DownloadSection(ctx context.Context, ytdlpPath, url, output string, start, end time.Duration) (string, error) {
	dir := filepath.Dir(output)
	stem := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))

	cmd := ytdlp.New().
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality("128K").
		NoPlaylist().
		NoProgress().
		ForceOverwrites().
		Output(filepath.Join(dir, stem+".%(ext)s"))

	if section := sectionSpec(start, end); section != "" {
		cmd = cmd.DownloadSections(section)
	}
	if ytdlpPath != "" {
		cmd = cmd.SetExecutable(ytdlpPath)
	}

	if _, err := cmd.Run(ctx, url); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("download cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}

	path, err := utils.FindAudioFile(dir, stem)
	if err != nil {
		return "", fmt.Errorf("yt-dlp produced no audio: %w", err)
	}
	return path, nil
}

// sectionSpec renders a --download-sections value, "" for the whole track.
func sectionSpec(start, end time.Duration) string {
	if start <= 0 && end <= 0 {
		return ""
	}
	to := "inf"
	if end > 0 {
		to = utils.FormatTimestampPadded(end)
	}
	return fmt.Sprintf("*%s-%s", utils.FormatTimestampPadded(start), to)
}

// EnsureYtdlp makes sure a yt-dlp binary is available, downloading one
// into the user cache when nothing is found on PATH.
func EnsureYtdlp(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if err := utils.CheckDependencies("yt-dlp"); err == nil {
		return "", nil
	}

	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("yt-dlp not found and could not be installed: %w", err)
	}
	return resolved.Executable, nil
}
