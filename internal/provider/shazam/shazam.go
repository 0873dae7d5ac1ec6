package shazam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"trackid/internal/identify"
)

// DefaultExecutable is the songrec binary, which computes the Shazam
// signature of a file and submits it.
const DefaultExecutable = "songrec"

// Client identifies segments through Shazam. It implements identify.Provider.
type Client struct {
	executable string
	timeout    time.Duration
}

// New creates a new Shazam client. An empty executable means songrec from PATH.
func New(executable string, timeout time.Duration) *Client {
	if executable == "" {
		executable = DefaultExecutable
	}
	return &Client{executable: executable, timeout: timeout}
}

func (c *Client) Name() string { return "shazam" }

// Available reports whether the songrec binary can be found.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.executable)
	return err == nil
}

// Identify submits the segment and returns the recognized track, or nil
// when Shazam does not know it.
func (c *Client) Identify(ctx context.Context, seg *identify.Segment) (*identify.Track, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.executable, "audio-file-to-recognized-song", seg.Path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("shazam request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("songrec failed: %w\nDetails: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseResponse(stdout.Bytes())
}

func parseResponse(data []byte) (*identify.Track, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode shazam response: %w", err)
	}

	if resp.Track == nil {
		return nil, nil
	}

	t := resp.Track
	track := &identify.Track{
		Title:   orUnknown(t.Title),
		Artist:  orUnknown(t.Subtitle),
		Service: "shazam",
		URL:     t.URL,
	}
	// The first section lists album, label and release date; album comes first.
	if len(t.Sections) > 0 && len(t.Sections[0].Metadata) > 0 {
		track.Album = t.Sections[0].Metadata[0].Text
	}
	return track, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// Shazam discovery response types

type response struct {
	Matches []match `json:"matches"`
	Track   *track  `json:"track,omitempty"`
}

type match struct {
	ID     string  `json:"id"`
	Offset float64 `json:"offset"`
}

type track struct {
	Key      string    `json:"key"`
	Title    string    `json:"title"`
	Subtitle string    `json:"subtitle"`
	URL      string    `json:"url"`
	Sections []section `json:"sections"`
}

type section struct {
	Type     string         `json:"type"`
	Metadata []sectionField `json:"metadata"`
}

type sectionField struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}
