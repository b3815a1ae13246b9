// Package ssdp performs SSDP M-SEARCH discovery of Sonos players on the
// local network and filters replies to plausible candidates before the
// caller spends an HTTP round trip fetching each device description.
package ssdp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"
)

const (
	multicastAddr = "239.255.255.250:1900"

	// vendorToken appears in the SERVER header of every real Sonos
	// player and in the USN of most firmware versions; it is a cheap
	// filter to apply before the caller does a real HTTP fetch.
	vendorToken = "Sonos"

	// canonicalDescriptionPath is the device-description path Sonos
	// players serve from, used as a last-resort filter when SERVER and
	// USN are both missing or uninformative.
	canonicalDescriptionPath = "/xml/device_description.xml"
)

// Response is one deduplicated SSDP reply.
type Response struct {
	Location string
	URN      string
	USN      string
	Server   string
	Headers  map[string]string
	FromIP   string
}

// Discover sends one M-SEARCH datagram with the given search target and
// collects replies until timeout elapses with no further traffic. Replies
// that do not look like the target device family are dropped before being
// returned, per the discovery filter.
func Discover(ctx context.Context, searchTarget string, timeout time.Duration) ([]Response, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, err
	}

	if err := sendSearch(conn, addr, searchTarget); err != nil {
		return nil, err
	}

	responses := make(map[string]Response)
	buf := make([]byte, 4096)

	for {
		deadline := time.Now().Add(timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return mapToSlice(responses), err
		}

		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return mapToSlice(responses), err
		}

		resp := parseResponse(string(buf[:n]))
		if resp.Location == "" {
			continue
		}
		if !looksLikeTarget(resp) {
			continue
		}
		resp.FromIP = raddr.String()

		if _, exists := responses[resp.Location]; !exists {
			responses[resp.Location] = resp
		}
	}

	return mapToSlice(responses), nil
}

func sendSearch(conn net.PacketConn, addr *net.UDPAddr, searchTarget string) error {
	msg := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + multicastAddr,
		`MAN: "ssdp:discover"`,
		"MX: 2",
		"ST: " + searchTarget,
		"", "",
	}, "\r\n")

	_, err := conn.WriteTo([]byte(msg), addr)
	return err
}

// looksLikeTarget implements the discovery filter: retained if the ST/URN
// carries the device marker, the SERVER header carries the vendor token,
// the USN carries a recognizable vendor prefix, or LOCATION matches the
// canonical description path.
func looksLikeTarget(r Response) bool {
	if strings.Contains(r.URN, "ZonePlayer") {
		return true
	}
	if strings.Contains(r.Server, vendorToken) {
		return true
	}
	if strings.Contains(strings.ToLower(r.USN), "rincon") {
		return true
	}
	if strings.Contains(r.Location, canonicalDescriptionPath) {
		return true
	}
	return false
}

func parseResponse(raw string) Response {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	headers := make(map[string]string)

	scanner.Scan() // status line, discarded

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		headers[key] = strings.TrimSpace(parts[1])
	}

	return Response{
		Location: headers["LOCATION"],
		URN:      headers["ST"],
		USN:      headers["USN"],
		Server:   headers["SERVER"],
		Headers:  headers,
	}
}

func mapToSlice(m map[string]Response) []Response {
	out := make([]Response, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}
