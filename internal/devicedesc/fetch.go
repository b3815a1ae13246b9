// Package devicedesc fetches and parses a player's UPnP device-description
// document, turning an SSDP location URL into a model.Speaker.
package devicedesc

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/strefethen/sonosstream/internal/model"
)

// DefaultControlPort is the well-known control port used when the location
// URL omits one.
const DefaultControlPort = 1400

const targetManufacturerToken = "Sonos"

// ErrNotTargetVendor is returned when the fetched device description does
// not identify itself as belonging to the target device family.
var ErrNotTargetVendor = errors.New("devicedesc: not one of ours")

var httpClient = &http.Client{Timeout: 5 * time.Second}

type deviceDocument struct {
	XMLName xml.Name   `xml:"root"`
	Device  deviceNode `xml:"device"`
}

type deviceNode struct {
	UDN             string `xml:"UDN"`
	FriendlyName    string `xml:"friendlyName"`
	RoomName        string `xml:"roomName"`
	ModelName       string `xml:"modelName"`
	ModelNumber     string `xml:"modelNumber"`
	Manufacturer    string `xml:"manufacturer"`
	DeviceType      string `xml:"deviceType"`
	SoftwareVersion string `xml:"softwareVersion"`
}

// Fetch GETs locationURL and parses the device description into a Speaker.
// It returns ErrNotTargetVendor when the manufacturer/device-type strings
// don't match the target family; that error is not fatal to a caller
// iterating over several discovered locations.
func Fetch(ctx context.Context, locationURL string) (model.Speaker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locationURL, nil)
	if err != nil {
		return model.Speaker{}, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return model.Speaker{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return model.Speaker{}, fmt.Errorf("devicedesc: unexpected status %d fetching %s", resp.StatusCode, locationURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Speaker{}, err
	}

	return Parse(body, locationURL)
}

// Parse builds a Speaker from a raw device-description document and the
// location URL it was fetched from (used to recover the IP and port).
func Parse(body []byte, locationURL string) (model.Speaker, error) {
	var doc deviceDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return model.Speaker{}, fmt.Errorf("devicedesc: parse failed: %w", err)
	}

	if !isTargetVendor(doc.Device) {
		return model.Speaker{}, ErrNotTargetVendor
	}

	ip, port := hostAndPort(locationURL)

	udn := strings.TrimPrefix(strings.TrimSpace(doc.Device.UDN), "uuid:")
	room := doc.Device.RoomName
	if room == "" {
		room = roomFromFriendlyName(doc.Device.FriendlyName)
	}

	return model.Speaker{
		ID:                   model.NewSpeakerId(udn),
		UDN:                  udn,
		FriendlyName:         doc.Device.FriendlyName,
		RoomName:             room,
		IP:                   ip,
		Port:                 port,
		ModelName:            doc.Device.ModelName,
		IsCoordinatorCapable: isCoordinatorCapableModel(doc.Device.ModelNumber),
		SupportsAirPlay:      supportsAirPlayModel(doc.Device.ModelNumber),
	}, nil
}

func isTargetVendor(d deviceNode) bool {
	if strings.Contains(d.Manufacturer, targetManufacturerToken) {
		return true
	}
	if strings.Contains(d.DeviceType, "ZonePlayer") {
		return true
	}
	return false
}

func hostAndPort(locationURL string) (string, int) {
	u, err := url.Parse(locationURL)
	if err != nil {
		return "", DefaultControlPort
	}
	host := u.Hostname()
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return host, n
		}
	}
	return host, DefaultControlPort
}

func roomFromFriendlyName(friendlyName string) string {
	if friendlyName == "" {
		return ""
	}
	parts := strings.SplitN(friendlyName, "-", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0])
	}
	return strings.TrimSpace(friendlyName)
}

// nonCoordinatorModels lists the subwoofer model numbers that cannot act as
// a group coordinator; every other model number is treated as
// coordinator-capable.
var nonCoordinatorModels = map[string]struct{}{
	"S15": {}, // SUB
	"S33": {}, // SUB Mini
}

func isCoordinatorCapableModel(modelNumber string) bool {
	if modelNumber == "" {
		return true
	}
	_, excluded := nonCoordinatorModels[modelNumber]
	return !excluded
}

var airPlayModels = map[string]struct{}{
	"S18": {}, "S14": {}, "S38": {}, "S21": {}, "S27": {}, "S17": {},
	"S23": {}, "S36": {}, "S37": {}, "S6": {}, "S31": {}, "S24": {}, "S3": {},
}

func supportsAirPlayModel(modelNumber string) bool {
	_, ok := airPlayModels[modelNumber]
	return ok
}
