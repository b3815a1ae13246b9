package decode

import (
	"encoding/xml"
	"strings"

	"github.com/strefethen/sonosstream/internal/model"
)

type topologyPropertySet struct {
	XMLName    xml.Name          `xml:"propertyset"`
	Properties []topologyProperty `xml:"property"`
}

type topologyProperty struct {
	ZoneGroupState string `xml:"ZoneGroupState"`
}

type zoneGroupStateXML struct {
	XMLName  xml.Name      `xml:"ZoneGroupState"`
	Groups   zoneGroupsXML `xml:"ZoneGroups"`
	Vanished vanishedXML   `xml:"VanishedDevices"`
}

type zoneGroupsXML struct {
	Groups []zoneGroupXML `xml:"ZoneGroup"`
}

type zoneGroupXML struct {
	Coordinator string             `xml:"Coordinator,attr"`
	ID          string             `xml:"ID,attr"`
	Members     []zoneGroupMemberXML `xml:"ZoneGroupMember"`
}

type zoneGroupMemberXML struct {
	UUID            string         `xml:"UUID,attr"`
	ZoneName        string         `xml:"ZoneName,attr"`
	HTSatChanMapSet string         `xml:"HTSatChanMapSet,attr"`
	Satellites      []satelliteXML `xml:"Satellite"`
	SatellitesAttr  string         `xml:"Satellites,attr"`
}

type satelliteXML struct {
	UUID string `xml:"UUID,attr"`
}

type vanishedXML struct {
	Devices []vanishedDeviceXML `xml:"VanishedDevice"`
}

type vanishedDeviceXML struct {
	UUID   string `xml:"UUID,attr"`
	Reason string `xml:"Reason,attr"`
}

// DecodeZoneGroupTopology parses a ZoneGroupTopology NOTIFY body into a full
// Topology snapshot. Satellites are merged from both representations a
// device may use: nested <Satellite> elements and a comma-separated
// Satellites="uuid1,uuid2" attribute.
func DecodeZoneGroupTopology(body []byte) (model.Topology, bool) {
	var ps topologyPropertySet
	if err := xml.Unmarshal(body, &ps); err != nil {
		return model.Topology{}, false
	}

	for _, prop := range ps.Properties {
		if prop.ZoneGroupState == "" {
			continue
		}
		unescaped := UnescapeIterative(prop.ZoneGroupState)
		unescaped = StripNamespacePrefixes(unescaped)

		var raw zoneGroupStateXML
		if err := xml.Unmarshal([]byte(unescaped), &raw); err != nil {
			continue
		}
		return buildTopology(raw), true
	}

	return model.Topology{}, false
}

func buildTopology(raw zoneGroupStateXML) model.Topology {
	topo := model.Topology{}

	for _, g := range raw.Groups.Groups {
		group := model.ZoneGroup{
			ID:            model.NewGroupId(g.ID),
			CoordinatorID: model.NewSpeakerId(g.Coordinator),
		}
		for _, m := range g.Members {
			member := model.ZoneGroupMember{
				ID:         model.NewSpeakerId(m.UUID),
				Zone:       m.ZoneName,
				ChannelMap: m.HTSatChanMapSet,
			}
			seen := make(map[model.SpeakerId]struct{})
			for _, sat := range m.Satellites {
				id := model.NewSpeakerId(sat.UUID)
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				member.SatelliteIDs = append(member.SatelliteIDs, id)
			}
			for _, raw := range strings.Split(m.SatellitesAttr, ",") {
				raw = strings.TrimSpace(raw)
				if raw == "" {
					continue
				}
				id := model.NewSpeakerId(raw)
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				member.SatelliteIDs = append(member.SatelliteIDs, id)
			}
			group.Members = append(group.Members, member)
		}
		topo.Groups = append(topo.Groups, group)
	}

	for _, v := range raw.Vanished.Devices {
		topo.Vanished = append(topo.Vanished, model.VanishedDevice{
			ID:     model.NewSpeakerId(v.UUID),
			Reason: v.Reason,
		})
	}

	return topo
}
