// Package statecache is the authoritative in-process fleet model: a
// concurrent map from SpeakerId to SpeakerState, a concurrent map from
// GroupId to ZoneGroup, and the derived speaker->group index. It is mutated
// by the event processor and read by external consumers.
package statecache

import (
	"sync"

	"github.com/strefethen/sonosstream/internal/model"
)

// Cache is safe for concurrent use. Reads take a snapshot under a read
// lock; writes to one speaker's entry hold that entry's own lock so that
// updates to different speakers never contend with each other.
type Cache struct {
	mu       sync.RWMutex
	speakers map[model.SpeakerId]*entry
	groups   map[model.GroupId]model.ZoneGroup
}

type entry struct {
	mu    sync.Mutex
	state model.SpeakerState
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		speakers: make(map[model.SpeakerId]*entry),
		groups:   make(map[model.GroupId]model.ZoneGroup),
	}
}

// AddSpeaker registers a newly discovered speaker with default state. A
// speaker already present is left untouched.
func (c *Cache) AddSpeaker(s model.Speaker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.speakers[s.ID]; ok {
		return
	}
	c.speakers[s.ID] = &entry{state: model.SpeakerState{
		Speaker:       s,
		PlaybackState: model.PlaybackStopped,
	}}
}

func (c *Cache) lookup(id model.SpeakerId) (*entry, bool) {
	c.mu.RLock()
	e, ok := c.speakers[id]
	c.mu.RUnlock()
	return e, ok
}

// GetSpeaker returns a snapshot of the speaker's state, or false if unknown.
func (c *Cache) GetSpeaker(id model.SpeakerId) (model.SpeakerState, bool) {
	e, ok := c.lookup(id)
	if !ok {
		return model.SpeakerState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), true
}

// GetAllSpeakers returns a snapshot of every known speaker.
func (c *Cache) GetAllSpeakers() []model.SpeakerState {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.speakers))
	for _, e := range c.speakers {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]model.SpeakerState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state.Clone())
		e.mu.Unlock()
	}
	return out
}

// GetByRoom returns every speaker whose RoomName exactly matches name.
func (c *Cache) GetByRoom(name string) []model.SpeakerState {
	var out []model.SpeakerState
	for _, s := range c.GetAllSpeakers() {
		if s.Speaker.RoomName == name {
			out = append(out, s)
		}
	}
	return out
}

// GetByName returns every speaker whose FriendlyName exactly matches name.
func (c *Cache) GetByName(name string) []model.SpeakerState {
	var out []model.SpeakerState
	for _, s := range c.GetAllSpeakers() {
		if s.Speaker.FriendlyName == name {
			out = append(out, s)
		}
	}
	return out
}

// GetGroup returns a snapshot of the group, or false if unknown.
func (c *Cache) GetGroup(id model.GroupId) (model.ZoneGroup, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[id]
	return g, ok
}

// GetAllGroups returns a snapshot of every known group.
func (c *Cache) GetAllGroups() []model.ZoneGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.ZoneGroup, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}
	return out
}

// GetSpeakersInGroup returns a snapshot of every speaker currently assigned
// to the given group.
func (c *Cache) GetSpeakersInGroup(id model.GroupId) []model.SpeakerState {
	var out []model.SpeakerState
	for _, s := range c.GetAllSpeakers() {
		if s.GroupID != nil && *s.GroupID == id {
			out = append(out, s)
		}
	}
	return out
}

// Apply mutates the cache according to one decoded StateChange. Changes
// referring to an unknown speaker are no-ops, per the invariant that the
// cache never fabricates state for a speaker it has not seen.
func (c *Cache) Apply(change model.StateChange) {
	switch ch := change.(type) {
	case model.VolumeChanged:
		c.updateSpeaker(ch.SpeakerID, func(s *model.SpeakerState) { s.Volume = ch.Volume })
	case model.MuteChanged:
		c.updateSpeaker(ch.SpeakerID, func(s *model.SpeakerState) { s.Muted = ch.Muted })
	case model.PlaybackStateChanged:
		c.updateSpeaker(ch.SpeakerID, func(s *model.SpeakerState) { s.PlaybackState = ch.State })
	case model.PositionChanged:
		c.updateSpeaker(ch.SpeakerID, func(s *model.SpeakerState) { s.PositionMs = ch.PositionMs })
	case model.TrackChanged:
		c.updateSpeaker(ch.SpeakerID, func(s *model.SpeakerState) {
			if ch.Cleared {
				s.Track = model.TrackInfo{}
				return
			}
			s.Track = ch.Track
			if ch.Track.DurationMs != nil {
				s.DurationMs = *ch.Track.DurationMs
			}
		})
	case model.TransportInfoChanged:
		c.updateSpeaker(ch.SpeakerID, func(s *model.SpeakerState) {
			s.PlaybackState = ch.TransportState
		})
	case model.GroupFormed:
		c.applyGroup(model.ZoneGroup{
			ID:            ch.GroupID,
			CoordinatorID: ch.CoordinatorID,
			Members:       memberList(ch.InitialMembers),
		})
	case model.GroupDissolved:
		c.removeGroup(ch.GroupID, ch.FormerMembers)
	case model.CoordinatorChanged:
		c.updateGroupCoordinator(ch.GroupID, ch.New)
	case model.SpeakerJoinedGroup:
		c.setSpeakerGroup(ch.SpeakerID, &ch.GroupID, ch.CoordinatorID)
	case model.SpeakerLeftGroup:
		c.clearSpeakerGroupIfStill(ch.SpeakerID, ch.FormerGroupID)
	case model.GroupTopologyChanged:
		c.replaceGroups(ch.Groups)
	case model.SubscriptionError:
		// no cache state to update; surfaced only through lifecycle hooks.
	}
}

func (c *Cache) updateSpeaker(id model.SpeakerId, mutate func(*model.SpeakerState)) {
	e, ok := c.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	mutate(&e.state)
	e.mu.Unlock()
}

func (c *Cache) applyGroup(g model.ZoneGroup) {
	c.mu.Lock()
	c.groups[g.ID] = g
	c.mu.Unlock()

	for _, m := range g.Members {
		c.setSpeakerGroup(m.ID, &g.ID, g.CoordinatorID)
	}
}

func (c *Cache) removeGroup(id model.GroupId, members []model.SpeakerId) {
	c.mu.Lock()
	delete(c.groups, id)
	c.mu.Unlock()

	for _, sid := range members {
		c.setSpeakerGroup(sid, nil, "")
	}
}

func (c *Cache) updateGroupCoordinator(id model.GroupId, coordinator model.SpeakerId) {
	c.mu.Lock()
	g, ok := c.groups[id]
	if ok {
		g.CoordinatorID = coordinator
		c.groups[id] = g
	}
	c.mu.Unlock()

	if ok {
		for _, m := range g.Members {
			c.setSpeakerGroup(m.ID, &id, coordinator)
		}
	}
}

func (c *Cache) replaceGroups(groups []model.ZoneGroup) {
	c.mu.Lock()
	next := make(map[model.GroupId]model.ZoneGroup, len(groups))
	for _, g := range groups {
		next[g.ID] = g
	}
	c.groups = next
	c.mu.Unlock()
}

// setSpeakerGroup updates a speaker's GroupID and IsCoordinator fields
// together, maintaining the invariant IsCoordinator == (GroupID set &&
// coordinator(group) == speaker).
func (c *Cache) setSpeakerGroup(id model.SpeakerId, groupID *model.GroupId, coordinator model.SpeakerId) {
	c.updateSpeaker(id, func(s *model.SpeakerState) {
		s.GroupID = groupID
		s.IsCoordinator = groupID != nil && coordinator == id
	})
}

// clearSpeakerGroupIfStill clears a speaker's group assignment only if it
// is still assigned to formerGroupID. A StateChange batch can contain a
// GroupFormed for the speaker's new group before the SpeakerLeftGroup for
// its old one; applying SpeakerLeftGroup unconditionally would wipe out
// the new assignment the earlier change in the same batch just made.
func (c *Cache) clearSpeakerGroupIfStill(id model.SpeakerId, formerGroupID model.GroupId) {
	c.updateSpeaker(id, func(s *model.SpeakerState) {
		if s.GroupID == nil || *s.GroupID != formerGroupID {
			return
		}
		s.GroupID = nil
		s.IsCoordinator = false
	})
}

func memberList(ids []model.SpeakerId) []model.ZoneGroupMember {
	out := make([]model.ZoneGroupMember, len(ids))
	for i, id := range ids {
		out[i] = model.ZoneGroupMember{ID: id}
	}
	return out
}
