package model

// Speaker is the immutable identity record created by discovery.
type Speaker struct {
	ID           SpeakerId
	UDN          string
	FriendlyName string
	RoomName     string
	IP           string
	Port         int
	ModelName    string
	SatelliteIDs []SpeakerId

	// IsCoordinatorCapable and SupportsAirPlay are derived from a
	// model-number capability table; neither affects discovery or
	// subscription correctness by itself. IsCoordinatorCapable informs
	// anchor choice for network-wide subscriptions; SupportsAirPlay is
	// not read by the subscription manager.
	IsCoordinatorCapable bool
	SupportsAirPlay      bool
}

// Satellite is a subordinate player bound to another speaker (e.g. a
// surround channel); it has no independent subscriptions.
type Satellite struct {
	ID       SpeakerId
	ParentID SpeakerId
}

// ZoneGroupMember is one regular member of a ZoneGroup.
type ZoneGroupMember struct {
	ID           SpeakerId
	Zone         string
	SatelliteIDs []SpeakerId
	IsSubwoofer  bool
	ChannelMap   string
}

// ZoneName returns the member's room/zone name as reported by the device.
func (m ZoneGroupMember) ZoneName() string {
	return m.Zone
}

// ZoneGroup is a coordinated set of speakers. The coordinator is always
// present in Members.
type ZoneGroup struct {
	ID            GroupId
	CoordinatorID SpeakerId
	Members       []ZoneGroupMember
}

// MemberIDs returns the SpeakerIds of every regular member (not satellites).
func (g ZoneGroup) MemberIDs() []SpeakerId {
	ids := make([]SpeakerId, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// HasMember reports whether id is a regular member of this group.
func (g ZoneGroup) HasMember(id SpeakerId) bool {
	for _, m := range g.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// VanishedDevice records a previously known device no longer present.
type VanishedDevice struct {
	ID     SpeakerId
	Reason string
}

// Topology is a full fleet snapshot: the set of known zone groups plus any
// devices that have vanished since the prior snapshot.
type Topology struct {
	Groups   []ZoneGroup
	Vanished []VanishedDevice
}

// GroupByID returns the group with the given id, if present.
func (t Topology) GroupByID(id GroupId) (ZoneGroup, bool) {
	for _, g := range t.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return ZoneGroup{}, false
}
