// Package topology holds the previous fleet snapshot and turns each new
// snapshot into a deterministic sequence of normalized StateChange events.
package topology

import (
	"sort"
	"sync"

	"github.com/strefethen/sonosstream/internal/model"
)

// Differ holds the last known topology and diffs new snapshots against it.
// It is safe for concurrent use; in this module it is only ever driven from
// the single event-processor goroutine, but callers (e.g. tests) may also
// drive it directly.
type Differ struct {
	mu   sync.Mutex
	prev model.Topology
	has  bool
}

// New returns a Differ with no prior snapshot.
func New() *Differ {
	return &Differ{}
}

// Apply diffs next against the last snapshot applied (or against an empty
// topology, on the first call) and returns the StateChange sequence in the
// deterministic order required: GroupFormed, GroupDissolved, then per
// shared-group CoordinatorChanged/SpeakerJoinedGroup/SpeakerLeftGroup
// (ordered by group id then speaker id), and finally one
// GroupTopologyChanged summary.
func (d *Differ) Apply(next model.Topology) []model.StateChange {
	d.mu.Lock()
	prev := d.prev
	d.prev = next
	d.has = true
	d.mu.Unlock()

	return Diff(prev, next)
}

// Diff is the pure differencing function Apply wraps; exposed directly for
// testing idempotence and specific snapshot transitions without needing a
// Differ instance.
func Diff(prev, next model.Topology) []model.StateChange {
	prevByID := indexGroups(prev)
	nextByID := indexGroups(next)

	var changes []model.StateChange

	var formedIDs []model.GroupId
	for id := range nextByID {
		if _, ok := prevByID[id]; !ok {
			formedIDs = append(formedIDs, id)
		}
	}
	sort.Slice(formedIDs, func(i, j int) bool { return formedIDs[i] < formedIDs[j] })
	for _, id := range formedIDs {
		g := nextByID[id]
		changes = append(changes, model.GroupFormed{
			GroupID:        g.ID,
			CoordinatorID:  g.CoordinatorID,
			InitialMembers: sortedMemberIDs(g),
		})
	}

	var dissolvedIDs []model.GroupId
	for id := range prevByID {
		if _, ok := nextByID[id]; !ok {
			dissolvedIDs = append(dissolvedIDs, id)
		}
	}
	sort.Slice(dissolvedIDs, func(i, j int) bool { return dissolvedIDs[i] < dissolvedIDs[j] })
	for _, id := range dissolvedIDs {
		g := prevByID[id]
		changes = append(changes, model.GroupDissolved{
			GroupID:           g.ID,
			FormerCoordinator: g.CoordinatorID,
			FormerMembers:     sortedMemberIDs(g),
		})
	}

	var sharedIDs []model.GroupId
	for id := range nextByID {
		if _, ok := prevByID[id]; ok {
			sharedIDs = append(sharedIDs, id)
		}
	}
	sort.Slice(sharedIDs, func(i, j int) bool { return sharedIDs[i] < sharedIDs[j] })

	var joined []model.SpeakerJoinedGroup
	var left []model.SpeakerLeftGroup
	var coordChanges []model.CoordinatorChanged

	for _, id := range sharedIDs {
		oldGroup := prevByID[id]
		newGroup := nextByID[id]

		if oldGroup.CoordinatorID != newGroup.CoordinatorID {
			cc := model.CoordinatorChanged{GroupID: id, Old: oldGroup.CoordinatorID, New: newGroup.CoordinatorID}
			changes = append(changes, cc)
			coordChanges = append(coordChanges, cc)
		}

		oldMembers := memberSet(oldGroup)
		newMembers := memberSet(newGroup)

		var joinedIDs, leftIDs []model.SpeakerId
		for sid := range newMembers {
			if _, ok := oldMembers[sid]; !ok {
				joinedIDs = append(joinedIDs, sid)
			}
		}
		for sid := range oldMembers {
			if _, ok := newMembers[sid]; !ok {
				leftIDs = append(leftIDs, sid)
			}
		}
		sort.Slice(joinedIDs, func(i, j int) bool { return joinedIDs[i] < joinedIDs[j] })
		sort.Slice(leftIDs, func(i, j int) bool { return leftIDs[i] < leftIDs[j] })

		for _, sid := range joinedIDs {
			sj := model.SpeakerJoinedGroup{SpeakerID: sid, GroupID: id, CoordinatorID: newGroup.CoordinatorID}
			changes = append(changes, sj)
			joined = append(joined, sj)
		}
		for _, sid := range leftIDs {
			sl := model.SpeakerLeftGroup{SpeakerID: sid, FormerGroupID: id}
			changes = append(changes, sl)
			left = append(left, sl)
		}
	}

	changes = append(changes, model.GroupTopologyChanged{
		Groups:             append([]model.ZoneGroup(nil), next.Groups...),
		SpeakersJoined:     joined,
		SpeakersLeft:       left,
		CoordinatorChanges: coordChanges,
	})

	return changes
}

func indexGroups(t model.Topology) map[model.GroupId]model.ZoneGroup {
	out := make(map[model.GroupId]model.ZoneGroup, len(t.Groups))
	for _, g := range t.Groups {
		out[g.ID] = g
	}
	return out
}

func memberSet(g model.ZoneGroup) map[model.SpeakerId]struct{} {
	out := make(map[model.SpeakerId]struct{}, len(g.Members))
	for _, m := range g.Members {
		out[m.ID] = struct{}{}
	}
	return out
}

func sortedMemberIDs(g model.ZoneGroup) []model.SpeakerId {
	ids := g.MemberIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
