package utils

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Supported audio file extensions, in the order yt-dlp is likely to leave them
var audioExtensions = []string{".mp3", ".m4a", ".opus", ".webm", ".ogg", ".flac", ".wav", ".aac"}

var (
	unsafeNameChars = regexp.MustCompile(`[^\w\-]`)
	domainLike      = regexp.MustCompile(`^[\w\-]+\.(com|org|net|io|co|me)`)
)

// CheckDependencies verifies that the given external commands are installed
func CheckDependencies(commands ...string) error {
	for _, name := range commands {
		if name == "" {
			continue
		}
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("required command '%s' not found in PATH", name)
		}
	}
	return nil
}

// CreateTempDir creates a temporary folder for audio segments
func CreateTempDir() (string, error) {
	dir, err := os.MkdirTemp("", "trackid-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	return dir, nil
}

// Cleanup removes the temporary folder.
// Safety check: only deletes directories in /tmp
func Cleanup(dir string) error {
	if dir == "" {
		return nil
	}

	if !strings.HasPrefix(filepath.Clean(dir), filepath.Clean(os.TempDir())) {
		return fmt.Errorf("refusing to delete directory outside temp folder: %s", dir)
	}

	return os.RemoveAll(dir)
}

// FindAudioFile returns the first non-empty audio file in dir whose name starts
// with stem. yt-dlp picks the final extension itself, so callers only know the stem.
func FindAudioFile(dir, stem string) (string, error) {
	for _, ext := range audioExtensions {
		path := filepath.Join(dir, stem+ext)
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return path, nil
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, stem+"*"))
	if err != nil {
		return "", fmt.Errorf("error searching %s: %w", dir, err)
	}
	for _, path := range matches {
		if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Size() > 0 {
			return path, nil
		}
	}

	return "", fmt.Errorf("no audio file named %s* in %s", stem, dir)
}

// ParseTimestamp parses "90", "1:30" or "1:23:45" into a duration.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid time format: empty")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time format: %s", s)
	}

	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || p != strings.TrimSpace(p) {
			return 0, fmt.Errorf("invalid time format: %s", s)
		}
		total = total*60 + n
	}

	return time.Duration(total) * time.Second, nil
}

// FormatTimestamp renders d as M:SS, or H:MM:SS once it reaches an hour.
func FormatTimestamp(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatTimestampPadded renders d as HH:MM:SS, the form yt-dlp expects in
// --download-sections.
func FormatTimestampPadded(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// BaseName derives a filesystem-safe base name from a URL or path.
// https://soundcloud.com/artist/mix becomes "artist_mix", a YouTube watch
// URL its video id, and a local file its name without extension.
func BaseName(source string) string {
	if !IsURL(source) {
		name := filepath.Base(source)
		name = strings.TrimSuffix(name, filepath.Ext(name))
		return safeBase(name, source)
	}

	var path string
	if u, err := url.Parse(source); err == nil {
		if v := u.Query().Get("v"); v != "" {
			return safeBase(v, source)
		}
		path = u.Path
	}
	if path == "" {
		path = source
	}

	var parts []string
	for _, p := range strings.Split(strings.TrimRight(path, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	var base string
	switch {
	case len(parts) >= 2:
		base = parts[len(parts)-2] + "_" + parts[len(parts)-1]
	case len(parts) == 1:
		base = strings.TrimSuffix(parts[0], filepath.Ext(parts[0]))
	default:
		base = source
	}
	return safeBase(base, source)
}

func safeBase(base, source string) string {
	if base == "" || base == "." || base == "/" {
		base = source
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")
	if len(base) > 100 {
		base = base[:100]
	}
	return base
}

// IsURL reports whether source looks like a remote URL rather than a local path.
func IsURL(source string) bool {
	source = strings.TrimSpace(source)
	for _, scheme := range []string{"http://", "https://", "ftp://"} {
		if strings.HasPrefix(source, scheme) {
			return true
		}
	}
	return domainLike.MatchString(source)
}
