// Package markup detects generated HTML documents inside streamed model
// output. Both the server (for persistence) and the client reducer (for
// display) share these heuristics so they agree on what counts as a document.
package markup

import (
	"strings"
)

const fenceTag = "```html"

var rootMarkers = []string{"<!DOCTYPE html>", "<!doctype html>", "<html"}

// DocumentStart returns the byte offset at which an in-progress generated
// document begins inside text, and whether one was detected. A document
// begins at a raw root marker, or at the body of a fenced html code block
// whose content itself starts with a root marker.
func DocumentStart(text string) (int, bool) {
	if off, ok := rawMarkerIndex(text); ok {
		// A marker inside a fence is handled by the fence branch so the fence
		// prefix is not rendered as part of the document.
		if fenceIdx := strings.Index(text, fenceTag); fenceIdx == -1 || fenceIdx > off {
			return off, true
		}
	}

	fenceIdx := strings.Index(text, fenceTag)
	if fenceIdx == -1 {
		return 0, false
	}
	body := text[fenceIdx+len(fenceTag):]
	body = strings.TrimLeft(body, "\r\n")
	if _, ok := rawMarkerIndex(body); ok && startsWithMarker(body) {
		return len(text) - len(body), true
	}
	return 0, false
}

func rawMarkerIndex(text string) (int, bool) {
	best := -1
	for _, m := range rootMarkers {
		if i := strings.Index(text, m); i != -1 && (best == -1 || i < best) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func startsWithMarker(text string) bool {
	for _, m := range rootMarkers {
		if strings.HasPrefix(text, m) {
			return true
		}
	}
	return false
}

// Extract splits text around a completed generated document. It returns any
// leading prose, the document body, and any trailing prose. When no document
// is present, found is false and the inputs are returned untouched.
func Extract(text string) (before, doc, after string, found bool) {
	start, ok := DocumentStart(text)
	if !ok {
		return text, "", "", false
	}

	before = text[:start]
	rest := text[start:]

	// Closing boundary: the html end tag, or the closing fence when the
	// document was fenced.
	end := len(rest)
	if i := strings.Index(rest, "</html>"); i != -1 {
		end = i + len("</html>")
	}
	doc = rest[:end]
	after = rest[end:]

	// Strip a trailing code fence left over from a fenced document.
	after = strings.TrimPrefix(strings.TrimLeft(after, "\r\n"), "```")
	before = StripTrailingFence(before)

	return strings.TrimSpace(before), doc, strings.TrimSpace(after), true
}

// StripTrailingFence removes a dangling opening fence tag from the end of
// prose that precedes a fenced document body.
func StripTrailingFence(text string) string {
	return strings.TrimSuffix(strings.TrimRight(text, "\r\n"), fenceTag)
}

// Complete reports whether the document body appears fully streamed.
func Complete(doc string) bool {
	return strings.Contains(doc, "</html>")
}
