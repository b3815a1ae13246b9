package decode

import (
	"fmt"

	"github.com/strefethen/sonosstream/internal/model"
)

// DecodeNotify routes a raw NOTIFY body through the decoder for serviceType
// and returns the StateChanges it produces for speakerID. ZoneGroupTopology
// bodies are decoded to a Topology snapshot instead; callers feed that
// snapshot through the topology differ (internal/topology) rather than
// getting StateChanges directly from here.
func DecodeNotify(serviceType model.ServiceType, speakerID model.SpeakerId, body []byte) ([]model.StateChange, error) {
	switch serviceType {
	case model.ServiceRenderingControl:
		result, err := DecodeRenderingControl(body)
		if err != nil {
			return nil, fmt.Errorf("decode rendering control: %w", err)
		}
		return ApplyRenderingControlResult(speakerID, result), nil
	case model.ServiceAVTransport:
		result, err := DecodeTransport(body)
		if err != nil {
			return nil, fmt.Errorf("decode transport: %w", err)
		}
		return ApplyTransportResult(speakerID, result), nil
	case model.ServiceZoneGroupTopology:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown service type %q", serviceType)
	}
}
