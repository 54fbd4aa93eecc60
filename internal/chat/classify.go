package chat

import "strings"

// Classification selects how broadcasts are rendered for a session.
type Classification int

const (
	Terminal Classification = iota
	Browser
)

func (c Classification) String() string {
	switch c {
	case Browser:
		return "browser"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classifier decides a connection's Classification from its User-Agent.
type Classifier func(userAgent string) Classification

var browserTokens = []string{"mozilla", "chrome", "safari", "firefox", "edge", "webkit", "opera"}

// ClassifyUserAgent reports Browser when ua contains any well-known browser
// token (case-insensitive) and Terminal otherwise.
func ClassifyUserAgent(ua string) Classification {
	ua = strings.ToLower(ua)
	for _, tok := range browserTokens {
		if strings.Contains(ua, tok) {
			return Browser
		}
	}
	return Terminal
}
