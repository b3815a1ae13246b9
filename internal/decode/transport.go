package decode

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/strefethen/sonosstream/internal/model"
)

type transportPropertySet struct {
	XMLName    xml.Name            `xml:"propertyset"`
	Properties []transportProperty `xml:"property"`
}

type transportProperty struct {
	LastChange string `xml:"LastChange"`
}

type transportLastChangeEvent struct {
	XMLName    xml.Name             `xml:"Event"`
	InstanceID transportInstanceBody `xml:"InstanceID"`
}

type transportInstanceBody struct {
	TransportState       attrValue `xml:"TransportState"`
	TransportStatus      attrValue `xml:"TransportStatus"`
	CurrentTrackURI      attrValue `xml:"CurrentTrackURI"`
	CurrentTrackMetaData attrValue `xml:"CurrentTrackMetaData"`
	CurrentTrackDuration attrValue `xml:"CurrentTrackDuration"`
	RelativeTimePosition attrValue `xml:"RelativeTimePosition"`
}

type attrValue struct {
	Val string `xml:"val,attr"`
}

// TransportResult is the decoded, optional-field result of one AVTransport
// NOTIFY body.
type TransportResult struct {
	TransportState  *model.PlaybackState
	TransportStatus *model.TransportStatus
	Track           *model.TrackInfo
	TrackCleared    bool
	PositionMs      *int64
}

// DecodeTransport parses an AVTransport NOTIFY body.
func DecodeTransport(body []byte) (TransportResult, error) {
	var result TransportResult

	var ps transportPropertySet
	if err := xml.Unmarshal(body, &ps); err != nil {
		return result, err
	}

	for _, prop := range ps.Properties {
		if prop.LastChange == "" {
			continue
		}
		// The outer parse already removed one level of escaping. Unescaping
		// further once the Event document is plain XML would also unescape
		// the DIDL-Lite document nested in CurrentTrackMetaData's val
		// attribute and break the parse, so only a LastChange that is still
		// escaped goes through UnescapeIterative.
		unescaped := prop.LastChange
		if !strings.HasPrefix(strings.TrimSpace(unescaped), "<") {
			unescaped = UnescapeIterative(unescaped)
		}
		unescaped = StripNamespacePrefixes(unescaped)
		applyTransportLastChange(unescaped, &result)
	}

	return result, nil
}

func applyTransportLastChange(xmlContent string, result *TransportResult) {
	var evt transportLastChangeEvent
	if err := xml.Unmarshal([]byte(xmlContent), &evt); err != nil {
		return
	}

	inst := evt.InstanceID

	if inst.TransportState.Val != "" {
		st := model.ParsePlaybackState(inst.TransportState.Val)
		result.TransportState = &st
	}
	if inst.TransportStatus.Val != "" {
		status := model.ParseTransportStatus(inst.TransportStatus.Val)
		result.TransportStatus = &status
	}
	if inst.RelativeTimePosition.Val != "" {
		if ms, ok := ParseDuration(inst.RelativeTimePosition.Val); ok {
			msInt := ms * 1000
			result.PositionMs = &msInt
		}
	}

	if inst.CurrentTrackMetaData.Val != "" {
		didl := UnescapeIterative(inst.CurrentTrackMetaData.Val)
		track, ok := ParseDIDLItem(didl)
		if ok {
			if inst.CurrentTrackURI.Val != "" {
				track.URI = inst.CurrentTrackURI.Val
			}
			if inst.CurrentTrackDuration.Val != "" {
				if secs, ok := ParseDuration(inst.CurrentTrackDuration.Val); ok {
					msInt := secs * 1000
					track.DurationMs = &msInt
				}
			}
			result.Track = &track
		} else {
			result.TrackCleared = true
		}
	}
}

// ParseDuration parses a duration string in one of three UPnP formats: "S"
// (plain seconds), "M:SS", or "H:MM:SS". Anything else returns ok=false.
func ParseDuration(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "NOT_IMPLEMENTED" {
		return 0, false
	}

	parts := strings.Split(raw, ":")
	var h, m, s int64
	var err error

	switch len(parts) {
	case 1:
		s, err = parseIntPart(parts[0])
	case 2:
		m, err = parseIntPart(parts[0])
		if err == nil {
			s, err = parseIntPart(parts[1])
		}
	case 3:
		h, err = parseIntPart(parts[0])
		if err == nil {
			m, err = parseIntPart(parts[1])
		}
		if err == nil {
			s, err = parseIntPart(parts[2])
		}
	default:
		return 0, false
	}

	if err != nil {
		return 0, false
	}
	return h*3600 + m*60 + s, true
}

func parseIntPart(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// ApplyTransportResult turns a decoded result into StateChange events for
// the given speaker.
func ApplyTransportResult(speaker model.SpeakerId, r TransportResult) []model.StateChange {
	var changes []model.StateChange

	if r.TransportState != nil {
		changes = append(changes, model.PlaybackStateChanged{SpeakerID: speaker, State: *r.TransportState})
	}
	if r.TransportState != nil || r.TransportStatus != nil {
		state := model.PlaybackStopped
		if r.TransportState != nil {
			state = *r.TransportState
		}
		status := model.TransportOk
		if r.TransportStatus != nil {
			status = *r.TransportStatus
		}
		changes = append(changes, model.TransportInfoChanged{
			SpeakerID:       speaker,
			TransportState:  state,
			TransportStatus: status,
		})
	}
	if r.PositionMs != nil {
		changes = append(changes, model.PositionChanged{SpeakerID: speaker, PositionMs: *r.PositionMs})
	}
	if r.Track != nil {
		changes = append(changes, model.TrackChanged{SpeakerID: speaker, Track: *r.Track})
	} else if r.TrackCleared {
		changes = append(changes, model.TrackChanged{SpeakerID: speaker, Cleared: true})
	}

	return changes
}
