package audio

import (
	"fmt"

	"go.senan.xyz/taglib"

	"trackid/internal/identify"
)

// WriteTrackTags tags a kept segment with the track it was matched to.
func WriteTrackTags(path string, track *identify.Track) error {
	if track == nil {
		return nil
	}

	tags := make(map[string][]string)
	if track.Title != "" {
		tags[taglib.Title] = []string{track.Title}
	}
	if track.Artist != "" {
		tags[taglib.Artist] = []string{track.Artist}
	}
	if track.Album != "" {
		tags[taglib.Album] = []string{track.Album}
	}
	if track.Service != "" {
		tags[taglib.Comment] = []string{"identified by " + track.Service}
	}
	if track.URL != "" {
		tags["URL"] = []string{track.URL}
	}

	if err := taglib.WriteTags(path, tags, 0); err != nil {
		return fmt.Errorf("failed to write tags to %s: %w", path, err)
	}
	return nil
}
