package model

import "time"

// ServiceType is the closed set of UPnP services this module subscribes to.
type ServiceType string

const (
	ServiceAVTransport       ServiceType = "AVTransport"
	ServiceRenderingControl  ServiceType = "RenderingControl"
	ServiceZoneGroupTopology ServiceType = "ZoneGroupTopology"
)

// IsNetworkWide reports whether this service has one shared subscription
// across the whole fleet rather than one per speaker.
func (s ServiceType) IsNetworkWide() bool {
	return s == ServiceZoneGroupTopology
}

// EventPath is the per-service UPnP event subscription path.
func (s ServiceType) EventPath() string {
	switch s {
	case ServiceAVTransport:
		return "/MediaRenderer/AVTransport/Event"
	case ServiceRenderingControl:
		return "/MediaRenderer/RenderingControl/Event"
	case ServiceZoneGroupTopology:
		return "/ZoneGroupTopology/Event"
	default:
		return ""
	}
}

// ControlPath is the per-service SOAP control path.
func (s ServiceType) ControlPath() string {
	switch s {
	case ServiceAVTransport:
		return "/MediaRenderer/AVTransport/Control"
	case ServiceRenderingControl:
		return "/MediaRenderer/RenderingControl/Control"
	case ServiceZoneGroupTopology:
		return "/ZoneGroupTopology/Control"
	default:
		return ""
	}
}

// URN is the per-service UPnP service type identifier.
func (s ServiceType) URN() string {
	switch s {
	case ServiceAVTransport:
		return "urn:schemas-upnp-org:service:AVTransport:1"
	case ServiceRenderingControl:
		return "urn:schemas-upnp-org:service:RenderingControl:1"
	case ServiceZoneGroupTopology:
		return "urn:schemas-upnp-org:service:ZoneGroupTopology:1"
	default:
		return ""
	}
}

// AllServices lists every service this module knows how to subscribe to.
func AllServices() []ServiceType {
	return []ServiceType{ServiceAVTransport, ServiceRenderingControl, ServiceZoneGroupTopology}
}

// SubscriptionStatus is the subscription manager's per-record lifecycle state.
type SubscriptionStatus string

const (
	SubStatusSubscribing SubscriptionStatus = "Subscribing"
	SubStatusActive      SubscriptionStatus = "Active"
	SubStatusRenewing    SubscriptionStatus = "Renewing"
	SubStatusRetrying    SubscriptionStatus = "Retrying"
	SubStatusDead        SubscriptionStatus = "Dead"
)

// Subscription is the manager's record of one live (or dying) UPnP
// subscription. SpeakerID is nil for network-wide services.
type Subscription struct {
	ID           SubscriptionId
	SpeakerID    *SpeakerId
	Service      ServiceType
	CallbackPath string
	SID          string // device-chosen subscription id
	LastRenewal  time.Time
	TimeoutSec   int
	Status       SubscriptionStatus
	Attempts     int
	SEQ          int
}

// RawEvent is the internal queue element the callback server produces and
// the event processor consumes.
type RawEvent struct {
	SubscriptionID SubscriptionId
	BodyXML        []byte
	ReceivedAt     time.Time
}
