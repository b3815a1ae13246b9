package decode

import (
	"encoding/xml"
	"strconv"

	"github.com/strefethen/sonosstream/internal/model"
)

type renderingPropertySet struct {
	XMLName    xml.Name           `xml:"propertyset"`
	Properties []renderingProperty `xml:"property"`
}

type renderingProperty struct {
	LastChange string `xml:"LastChange"`
	Volume     string `xml:"Volume"`
	Mute       string `xml:"Mute"`
}

type renderingLastChangeEvent struct {
	XMLName    xml.Name              `xml:"Event"`
	InstanceID renderingInstanceBody `xml:"InstanceID"`
}

type renderingInstanceBody struct {
	Volume []channelValue `xml:"Volume"`
	Mute   []channelValue `xml:"Mute"`
}

type channelValue struct {
	Channel string `xml:"channel,attr"`
	Val     string `xml:"val,attr"`
}

// RenderingControlResult is the decoded, optional-field result of one
// RenderingControl NOTIFY body.
type RenderingControlResult struct {
	Volume *int
	Muted  *bool
}

// DecodeRenderingControl parses a RenderingControl NOTIFY body. Volume and
// Mute are each populated from the Master channel (or the unqualified
// channel, for devices that omit it); a Volume outside 0..100 is dropped,
// never clamped.
func DecodeRenderingControl(body []byte) (RenderingControlResult, error) {
	var result RenderingControlResult

	var ps renderingPropertySet
	if err := xml.Unmarshal(body, &ps); err != nil {
		return result, err
	}

	for _, prop := range ps.Properties {
		if prop.LastChange != "" {
			unescaped := UnescapeIterative(prop.LastChange)
			unescaped = StripNamespacePrefixes(unescaped)
			applyRenderingLastChange(unescaped, &result)
			continue
		}
		if prop.Volume != "" {
			if v, ok := parseVolume(prop.Volume); ok {
				result.Volume = &v
			}
		}
		if prop.Mute != "" {
			m := ParseUPnPBool(prop.Mute)
			result.Muted = &m
		}
	}

	return result, nil
}

func applyRenderingLastChange(xmlContent string, result *RenderingControlResult) {
	var evt renderingLastChangeEvent
	if err := xml.Unmarshal([]byte(xmlContent), &evt); err != nil {
		return
	}

	if cv, ok := masterChannel(evt.InstanceID.Volume); ok {
		if v, ok := parseVolume(cv.Val); ok {
			result.Volume = &v
		}
	}
	if cv, ok := masterChannel(evt.InstanceID.Mute); ok {
		m := ParseUPnPBool(cv.Val)
		result.Muted = &m
	}
}

// masterChannel picks the Master channel entry when multiple channels are
// present, or the sole entry when the device omits the channel attribute.
func masterChannel(values []channelValue) (channelValue, bool) {
	for _, cv := range values {
		if cv.Channel == "Master" {
			return cv, true
		}
	}
	for _, cv := range values {
		if cv.Channel == "" {
			return cv, true
		}
	}
	return channelValue{}, false
}

func parseVolume(raw string) (int, bool) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	if v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

// ApplyRenderingControlResult turns a decoded result into StateChange events
// for the given speaker.
func ApplyRenderingControlResult(speaker model.SpeakerId, r RenderingControlResult) []model.StateChange {
	var changes []model.StateChange
	if r.Volume != nil {
		changes = append(changes, model.VolumeChanged{SpeakerID: speaker, Volume: *r.Volume})
	}
	if r.Muted != nil {
		changes = append(changes, model.MuteChanged{SpeakerID: speaker, Muted: *r.Muted})
	}
	return changes
}
