// Package model defines the domain types shared by every other package in
// this module: speaker and group identities, the fleet topology, per-speaker
// playback state, and the normalized StateChange events the rest of the
// system produces and consumes.
package model

import "strings"

// SpeakerId is the opaque identity of a speaker, derived from its UPnP UDN.
// Construction strips a leading "uuid:" so that "uuid:RINCON_X" and
// "RINCON_X" compare equal.
type SpeakerId string

// NewSpeakerId normalizes a raw UDN into a SpeakerId.
func NewSpeakerId(udn string) SpeakerId {
	return SpeakerId(strings.TrimPrefix(udn, "uuid:"))
}

func (id SpeakerId) String() string {
	return string(id)
}

// GroupId is the opaque identity of a zone group. A group's identity
// follows its coordinator's SpeakerId.
type GroupId string

// NewGroupId derives a GroupId from a coordinator's raw identity string.
func NewGroupId(coordinatorUDN string) GroupId {
	return GroupId(strings.TrimPrefix(coordinatorUDN, "uuid:"))
}

func (id GroupId) String() string {
	return string(id)
}

// SubscriptionId is a freshly minted, process-local identifier for one
// subscription record, independent of the device-chosen SID.
type SubscriptionId string
