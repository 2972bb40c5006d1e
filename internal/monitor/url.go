package monitor

import (
	"regexp"
	"strings"
)

// videoIDPatterns cover the known URL shapes that embed an 11-character
// YouTube video identifier.
var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
}

// VideoID extracts the video identifier from a YouTube URL.
func VideoID(rawURL string) (string, bool) {
	for _, pattern := range videoIDPatterns {
		if m := pattern.FindStringSubmatch(rawURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// CanonicalURL collapses parameter-variant views of the same video to one
// stable identity key. A URL with an extractable video id becomes the bare
// watch URL for that id, discarding time-codes and other query parameters.
// Everything else passes through verbatim, so non-video URLs deduplicate by
// exact string match only. The function is idempotent.
func CanonicalURL(rawURL string) string {
	if id, ok := VideoID(rawURL); ok {
		return "https://www.youtube.com/watch?v=" + id
	}
	return rawURL
}

// IsYouTube reports whether the URL belongs to a YouTube host.
func IsYouTube(rawURL string) bool {
	return strings.Contains(rawURL, "youtube.com") || strings.Contains(rawURL, "youtu.be")
}

// IsGoogle reports whether the URL belongs to a Google host.
func IsGoogle(rawURL string) bool {
	return strings.Contains(rawURL, "google.com")
}

// IsGoogleSearch reports whether a Google URL represents a search query.
func IsGoogleSearch(rawURL string) bool {
	return strings.Contains(rawURL, "/search")
}
