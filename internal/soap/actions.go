package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
)

// GetZoneGroupState fetches the full topology snapshot from controlURL via
// the ZoneGroupTopology service's GetZoneGroupState action, returning the
// raw, still-escaped ZoneGroupState XML fragment exactly as the decoder
// package expects it.
func GetZoneGroupState(ctx context.Context, c *Client, controlURL, zoneGroupTopologyURN string) (string, error) {
	payload, err := c.ExecuteAction(ctx, controlURL, zoneGroupTopologyURN, "GetZoneGroupState", nil)
	if err != nil {
		return "", err
	}

	state, ok := extractZoneGroupState(payload)
	if !ok {
		return "", fmt.Errorf("soap: GetZoneGroupState response missing ZoneGroupState element")
	}
	return state, nil
}

func extractZoneGroupState(payload []byte) (string, bool) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return "", false
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "ZoneGroupState" {
			continue
		}
		var raw string
		if err := decoder.DecodeElement(&raw, &se); err != nil {
			return "", false
		}
		return raw, true
	}
}
