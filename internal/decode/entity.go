// Package decode turns raw UPnP NOTIFY bodies into the normalized events the
// rest of this module understands. UPnP nests one escaped XML document
// inside another (the LastChange idiom), sometimes more than once, so
// decoding is a layered pipeline rather than a single parse.
package decode

import (
	"html"
	"strings"
)

// UnescapeIterative repeatedly HTML-entity-unescapes s until a fixed point
// is reached or the iteration cap is hit. UPnP devices are known to nest
// escaping (e.g. "&amp;amp;lt;"), so a single html.UnescapeString pass is
// not always enough.
func UnescapeIterative(s string) string {
	const maxPasses = 8
	for i := 0; i < maxPasses; i++ {
		next := html.UnescapeString(s)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

// ParseUPnPBool centralizes UPnP's inconsistent boolean encoding: devices
// use both "1"/"0" and "true"/"false", sometimes in the same firmware
// family. Anything else defaults to false.
func ParseUPnPBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true":
		return true
	default:
		return false
	}
}

// StripNamespacePrefixes rewrites "ns:Local" element/attribute names in raw
// XML text to their local name "Local". Sonos firmware is inconsistent
// about which namespace prefix (if any) it applies to elements across
// versions, and Go's encoding/xml struct tags match on local name only when
// no prefix is present in the source, so normalizing up front keeps the
// decoders simple.
func StripNamespacePrefixes(xmlText string) string {
	var b strings.Builder
	b.Grow(len(xmlText))

	inTag := false
	inQuote := byte(0)
	nameStart := -1

	for i := 0; i < len(xmlText); i++ {
		c := xmlText[i]

		if inQuote != 0 {
			b.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
			continue
		}

		switch {
		case c == '<':
			inTag = true
			nameStart = -1
			b.WriteByte(c)
		case c == '>':
			inTag = false
			b.WriteByte(c)
		case c == '"' || c == '\'':
			inQuote = c
			b.WriteByte(c)
		case inTag && nameStart == -1 && isNameStartByte(c):
			nameStart = b.Len()
			b.WriteByte(c)
		case inTag && c == ':' && nameStart != -1:
			// drop everything buffered for this name and restart it
			buffered := b.String()[:nameStart]
			b.Reset()
			b.WriteString(buffered)
			nameStart = b.Len()
		case inTag && (c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '/' || c == '='):
			nameStart = -1
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isNameStartByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}
