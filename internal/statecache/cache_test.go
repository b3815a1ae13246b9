package statecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonosstream/internal/model"
)

func speaker(id string) model.Speaker {
	return model.Speaker{ID: model.SpeakerId(id), FriendlyName: "Living Room " + id, RoomName: "Living Room"}
}

func TestCache_GetSpeaker_UnknownReturnsFalse(t *testing.T) {
	c := New()
	_, ok := c.GetSpeaker(model.SpeakerId("missing"))
	assert.False(t, ok)
}

func TestCache_AddSpeaker_DoesNotOverwriteExisting(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))
	c.Apply(model.VolumeChanged{SpeakerID: "A", Volume: 42})

	c.AddSpeaker(speaker("A"))

	s, ok := c.GetSpeaker("A")
	require.True(t, ok)
	assert.Equal(t, 42, s.Volume)
}

func TestCache_Apply_VolumeAndMute(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))

	c.Apply(model.VolumeChanged{SpeakerID: "A", Volume: 30})
	c.Apply(model.MuteChanged{SpeakerID: "A", Muted: true})

	s, ok := c.GetSpeaker("A")
	require.True(t, ok)
	assert.Equal(t, 30, s.Volume)
	assert.True(t, s.Muted)
}

func TestCache_Apply_UnknownSpeakerIsNoop(t *testing.T) {
	c := New()
	c.Apply(model.VolumeChanged{SpeakerID: "ghost", Volume: 5})
	_, ok := c.GetSpeaker("ghost")
	assert.False(t, ok)
}

func TestCache_Apply_TrackChangedClears(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))
	c.Apply(model.TrackChanged{SpeakerID: "A", Track: model.TrackInfo{Title: "Song"}})

	s, _ := c.GetSpeaker("A")
	assert.Equal(t, "Song", s.Track.Title)

	c.Apply(model.TrackChanged{SpeakerID: "A", Cleared: true})
	s, _ = c.GetSpeaker("A")
	assert.Equal(t, "", s.Track.Title)
}

func TestCache_GroupFormed_SetsCoordinatorInvariant(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))
	c.AddSpeaker(speaker("B"))

	c.Apply(model.GroupFormed{
		GroupID:        "G1",
		CoordinatorID:  "A",
		InitialMembers: []model.SpeakerId{"A", "B"},
	})

	a, _ := c.GetSpeaker("A")
	b, _ := c.GetSpeaker("B")
	require.NotNil(t, a.GroupID)
	assert.Equal(t, model.GroupId("G1"), *a.GroupID)
	assert.True(t, a.IsCoordinator)
	assert.False(t, b.IsCoordinator)

	group, ok := c.GetGroup("G1")
	require.True(t, ok)
	assert.Equal(t, model.SpeakerId("A"), group.CoordinatorID)

	members := c.GetSpeakersInGroup("G1")
	assert.Len(t, members, 2)
}

func TestCache_CoordinatorChanged_UpdatesBothSpeakers(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))
	c.AddSpeaker(speaker("B"))
	c.Apply(model.GroupFormed{GroupID: "G1", CoordinatorID: "A", InitialMembers: []model.SpeakerId{"A", "B"}})

	c.Apply(model.CoordinatorChanged{GroupID: "G1", Old: "A", New: "B"})

	a, _ := c.GetSpeaker("A")
	b, _ := c.GetSpeaker("B")
	assert.False(t, a.IsCoordinator)
	assert.True(t, b.IsCoordinator)
}

func TestCache_SpeakerLeftGroup_ClearsGroupID(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))
	c.Apply(model.GroupFormed{GroupID: "G1", CoordinatorID: "A", InitialMembers: []model.SpeakerId{"A"}})

	c.Apply(model.SpeakerLeftGroup{SpeakerID: "A", FormerGroupID: "G1"})

	a, _ := c.GetSpeaker("A")
	assert.Nil(t, a.GroupID)
	assert.False(t, a.IsCoordinator)
}

func TestCache_SpeakerLeftGroup_DoesNotClearANewerGroupFromTheSameBatch(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("B"))
	c.Apply(model.GroupFormed{GroupID: "G1", CoordinatorID: "B", InitialMembers: []model.SpeakerId{"B"}})

	// A single StateChange batch can report B joining G2 before reporting
	// it left G1, since the differ emits GroupFormed ahead of shared-group
	// SpeakerLeftGroup events for the same snapshot.
	c.Apply(model.GroupFormed{GroupID: "G2", CoordinatorID: "B", InitialMembers: []model.SpeakerId{"B"}})
	c.Apply(model.SpeakerLeftGroup{SpeakerID: "B", FormerGroupID: "G1"})

	b, _ := c.GetSpeaker("B")
	require.NotNil(t, b.GroupID)
	assert.Equal(t, model.GroupId("G2"), *b.GroupID)
	assert.True(t, b.IsCoordinator)
}

func TestCache_GroupDissolved_RemovesGroupAndClearsMembers(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))
	c.Apply(model.GroupFormed{GroupID: "G1", CoordinatorID: "A", InitialMembers: []model.SpeakerId{"A"}})

	c.Apply(model.GroupDissolved{GroupID: "G1", FormerCoordinator: "A", FormerMembers: []model.SpeakerId{"A"}})

	_, ok := c.GetGroup("G1")
	assert.False(t, ok)
	a, _ := c.GetSpeaker("A")
	assert.Nil(t, a.GroupID)
}

func TestCache_GetByRoom_And_GetByName(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))

	byRoom := c.GetByRoom("Living Room")
	require.Len(t, byRoom, 1)
	assert.Equal(t, model.SpeakerId("A"), byRoom[0].Speaker.ID)

	byName := c.GetByName("Living Room A")
	require.Len(t, byName, 1)
	assert.Equal(t, model.SpeakerId("A"), byName[0].Speaker.ID)
}

func TestCache_GetSpeaker_ReturnsIndependentSnapshot(t *testing.T) {
	c := New()
	c.AddSpeaker(speaker("A"))

	snap, _ := c.GetSpeaker("A")
	snap.Volume = 99

	fresh, _ := c.GetSpeaker("A")
	assert.NotEqual(t, 99, fresh.Volume)
}
