// Package soap sends UPnP SOAP actions and the GENA eventing verbs
// (SUBSCRIBE, UNSUBSCRIBE, and renewal) to Sonos players.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client is a pooled HTTP client for SOAP actions and eventing verbs
// against a single fleet of players.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ExecuteAction POSTs a SOAP action to controlURL and returns the
// <ActionResponse> child element's raw XML. A SOAP <Fault> is surfaced as
// a *BadResponseError carrying the nested <errorCode>.
func (c *Client) ExecuteAction(ctx context.Context, controlURL, serviceURN, action string, args map[string]string) ([]byte, error) {
	body := buildEnvelope(serviceURN, action, args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, serviceURN, action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyError(action, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		if code, ok := parseSoapFaultCode(payload); ok {
			return nil, &BadResponseError{Action: action, Code: code}
		}
		return nil, fmt.Errorf("soap action %s failed: http %d", action, resp.StatusCode)
	}

	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		start := decoder.InputOffset()
		tok, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("soap action %s: response has no %sResponse element", action, action)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == action+"Response" {
			if err := decoder.Skip(); err != nil {
				return nil, fmt.Errorf("soap action %s: malformed response: %w", action, err)
			}
			return payload[start:decoder.InputOffset()], nil
		}
	}
}

func classifyError(action string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &SonosTimeoutError{Action: action}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &SonosTimeoutError{Action: action}
	}
	return &SonosUnreachableError{Action: action, Err: err}
}

func buildEnvelope(serviceURN, action string, args map[string]string) []byte {
	var buf strings.Builder
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString("<s:Body>")
	buf.WriteString("<u:")
	buf.WriteString(action)
	buf.WriteString(` xmlns:u="`)
	buf.WriteString(serviceURN)
	buf.WriteString(`">`)

	for key, value := range args {
		buf.WriteString("<")
		buf.WriteString(key)
		buf.WriteString(">")
		buf.WriteString(escapeXML(value))
		buf.WriteString("</")
		buf.WriteString(key)
		buf.WriteString(">")
	}

	buf.WriteString("</u:")
	buf.WriteString(action)
	buf.WriteString(">")
	buf.WriteString("</s:Body>")
	buf.WriteString("</s:Envelope>")
	return []byte(buf.String())
}

func escapeXML(input string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(input)); err != nil {
		return input
	}
	return b.String()
}

// parseSoapFaultCode extracts the integer <errorCode> nested in a SOAP
// <Fault> body, if present.
func parseSoapFaultCode(payload []byte) (int, bool) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return 0, false
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "errorCode" {
			continue
		}
		var raw string
		if err := decoder.DecodeElement(&raw, &se); err != nil {
			return 0, false
		}
		code, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0, false
		}
		return code, true
	}
}
