package decode

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/strefethen/sonosstream/internal/model"
)

// ParseDIDLItem extracts title, artist, and album from a DIDL-Lite
// document. None of the three fields are required; ok is false only when
// the document contains no item/container at all (an empty current track,
// signalling the track should be cleared).
func ParseDIDLItem(didlXML string) (model.TrackInfo, bool) {
	didlXML = strings.TrimSpace(didlXML)
	if didlXML == "" || didlXML == "NOT_IMPLEMENTED" {
		return model.TrackInfo{}, false
	}

	decoder := xml.NewDecoder(bytes.NewReader([]byte(didlXML)))
	var current string
	var inItem bool
	var track model.TrackInfo
	var found bool

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		switch elem := token.(type) {
		case xml.StartElement:
			local := elem.Name.Local
			if local == "item" || local == "container" {
				inItem = true
				found = true
				continue
			}
			if inItem {
				current = local
			}
		case xml.EndElement:
			if !inItem {
				continue
			}
			current = ""
			if elem.Name.Local == "item" || elem.Name.Local == "container" {
				inItem = false
			}
		case xml.CharData:
			if !inItem {
				continue
			}
			value := strings.TrimSpace(string(elem))
			if value == "" {
				continue
			}
			switch current {
			case "title":
				if track.Title == "" {
					track.Title = value
					found = true
				}
			case "creator", "artist":
				if track.Artist == "" {
					track.Artist = value
					found = true
				}
			case "album":
				if track.Album == "" {
					track.Album = value
					found = true
				}
			}
		}
	}

	return track, found
}
