package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"autologin/internal/portal"
)

// Extractor finds a stream URL in an authenticated dashboard body.
type Extractor interface {
	Name() string
	Extract(body string) (string, bool)
}

// DefaultExtractors returns the extractors in priority order.
func DefaultExtractors() []Extractor {
	return []Extractor{CDNExtractor{}, SelectButtonExtractor{}}
}

// ── CDN markers ──────────────────────────────────────────────────────

var (
	cdnHost     = regexp.MustCompile(`https://stream\d+\.nac-cdn\.org`)
	encoderPath = regexp.MustCompile(`/poster/[0-9A-Fa-f-]+/[0-9A-Fa-f-]+/high/index\.m3u8`)
)

// CDNExtractor scans the raw body for a CDN host and an encoder path
// and joins them.  It does not depend on the page structure.
type CDNExtractor struct{}

func (CDNExtractor) Name() string { return "cdn" }

func (CDNExtractor) Extract(body string) (string, bool) {
	host := cdnHost.FindString(body)
	if host == "" {
		return "", false
	}
	path := encoderPath.FindString(body)
	if path == "" {
		return "", false
	}
	return host + path, true
}

// ── Select button ────────────────────────────────────────────────────

const (
	eventPrefix    = "/events/"
	eventSeparator = "/view/"

	// StreamTemplate is filled with the two event ids of the select link.
	StreamTemplate = "https://stream1.nac-cdn.org/poster/%s/%s/high/index.m3u8"
)

// SelectButtonExtractor reads the first a.selectbutton link, which has
// the form /events/{A}/view/{B}, and builds the stream URL from the
// two ids.
type SelectButtonExtractor struct{}

func (SelectButtonExtractor) Name() string { return "selectbutton" }

func (SelectButtonExtractor) Extract(body string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	btn := portal.FindFirst(doc, func(n *html.Node) bool {
		return n.Data == "a" && portal.HasClass(n, "selectbutton")
	})
	if btn == nil {
		return "", false
	}
	href, _ := portal.Attr(btn, "href")
	a, b, ok := eventIDs(href)
	if !ok {
		return "", false
	}
	return fmt.Sprintf(StreamTemplate, a, b), true
}

func eventIDs(href string) (string, string, bool) {
	rest, ok := strings.CutPrefix(href, eventPrefix)
	if !ok {
		return "", "", false
	}
	parts := strings.Split(rest, eventSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
