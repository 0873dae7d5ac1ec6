package app

import (
	"context"
	"errors"

	"trackid/internal/identify"
)

// Error kinds reported to users and API clients
const (
	KindNoProviders       = "no_providers"
	KindTimestampRequired = "timestamp_required"
	KindDownload          = "download"
	KindCancelled         = "cancelled"
	KindNoMatch           = "no_match"
	KindInternal          = "error"
)

// Classify maps a run error to its kind.
func Classify(err error) string {
	var dlErr *identify.DownloadError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, identify.ErrNoProviders):
		return KindNoProviders
	case errors.Is(err, ErrTimestampRequired):
		return KindTimestampRequired
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &dlErr):
		return KindDownload
	default:
		return KindInternal
	}
}

// Hint suggests what the user can do about a failed or empty run.
func Hint(kind string, result *identify.Result) string {
	switch kind {
	case KindNoProviders:
		return "Set TRACKID_ACRCLOUD_ACCESS_KEY and TRACKID_ACRCLOUD_ACCESS_SECRET, or install songrec for Shazam"
	case KindTimestampRequired:
		return "Use --time to specify a timestamp, e.g. --time 1:23:45"
	case KindDownload:
		return "Check the URL or file path and that the timestamp is within the track"
	case KindNoMatch:
		if result.AllProvidersFailed() {
			return "Every provider failed; check your network connection and credentials"
		}
		return "Try more chunks with --chunks 3"
	}
	return ""
}
