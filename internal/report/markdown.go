package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	linkPattern    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	slugPattern    = regexp.MustCompile(`[^a-z0-9]+`)
)

// Heading is one markdown heading.
type Heading struct {
	Level int
	Text  string
	ID    string
}

// ExtractHeadings returns headings up to maxLevel from markdown content.
func ExtractHeadings(markdown string, maxLevel int) []Heading {
	var headings []Heading
	for _, match := range headingPattern.FindAllStringSubmatch(markdown, -1) {
		level := len(match[1])
		if level > maxLevel {
			continue
		}
		text := strings.TrimSpace(match[2])
		headings = append(headings, Heading{
			Level: level,
			Text:  text,
			ID:    strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(text), "-"), "-"),
		})
	}
	return headings
}

// Link is one markdown link.
type Link struct {
	Text string
	URL  string
}

// ExtractLinks returns all [text](url) links from markdown content.
func ExtractLinks(markdown string) []Link {
	var links []Link
	for _, match := range linkPattern.FindAllStringSubmatch(markdown, -1) {
		links = append(links, Link{Text: match[1], URL: match[2]})
	}
	return links
}

// TruncateID shortens an interaction ID for display.
func TruncateID(id string, maxLength int) string {
	if len(id) <= maxLength {
		return id
	}
	return id[:maxLength] + "..."
}

// FormatDuration renders a duration as a short human-readable string.
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 60:
		return fmt.Sprintf("%.1fs", secs)
	case secs < 3600:
		return fmt.Sprintf("%.1fm", secs/60)
	default:
		return fmt.Sprintf("%.1fh", secs/3600)
	}
}
