package monitor

import "strings"

// defaultHomepageSkipURLs are platform landing pages that carry no signal
// worth analyzing or persisting.
var defaultHomepageSkipURLs = []string{
	"https://www.youtube.com/",
	"https://youtube.com/",
	"https://www.google.com/",
	"https://google.com/",
	"https://www.facebook.com/",
	"https://facebook.com/",
	"https://www.instagram.com/",
	"https://instagram.com/",
	"https://www.twitter.com/",
	"https://twitter.com/",
	"https://chatgpt.com/",
}

// HomepageSkipList holds exact-match landing URLs, compared with trailing
// slashes stripped on both sides.
type HomepageSkipList struct {
	exact map[string]struct{}
}

// NewHomepageSkipList builds a skip list from the provided URLs, falling back
// to the reference defaults when the slice is empty.
func NewHomepageSkipList(urls []string) *HomepageSkipList {
	if len(urls) == 0 {
		urls = defaultHomepageSkipURLs
	}
	list := &HomepageSkipList{exact: make(map[string]struct{}, len(urls))}
	for _, raw := range urls {
		value := strings.TrimRight(strings.TrimSpace(raw), "/")
		if value == "" {
			continue
		}
		list.exact[value] = struct{}{}
	}
	return list
}

// IsHomepage reports whether the URL exactly matches a skip-listed landing
// page, ignoring a trailing slash.
func (l *HomepageSkipList) IsHomepage(rawURL string) bool {
	if l == nil {
		return false
	}
	_, ok := l.exact[strings.TrimRight(rawURL, "/")]
	return ok
}
