package soap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// SubscribeResult holds the device's response to a SUBSCRIBE request.
type SubscribeResult struct {
	SID        string
	TimeoutSec int
}

// ErrNoSID is returned when a device accepts a SUBSCRIBE but omits the SID
// header, which should never happen on a well-behaved player.
var ErrNoSID = errors.New("soap: subscribe response missing SID header")

// Subscribe opens a new GENA subscription. eventSubURL is the player's
// event subscription URL (scheme+host+eventPath); callbackURL is this
// module's own NOTIFY endpoint. timeoutSec is the requested subscription
// duration; devices may grant a different one, reflected in the result.
func (c *Client) Subscribe(ctx context.Context, eventSubURL, callbackURL string, timeoutSec int) (SubscribeResult, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return SubscribeResult{}, err
	}
	req.Header.Set("CALLBACK", "<"+callbackURL+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSec))

	return c.doEventingRequest(ctx, req, "SUBSCRIBE")
}

// Renew re-subscribes an existing subscription by its device-chosen SID.
// No CALLBACK or NT header is sent, per the GENA renewal contract.
func (c *Client) Renew(ctx context.Context, eventSubURL, sid string, timeoutSec int) (SubscribeResult, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return SubscribeResult{}, err
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSec))

	return c.doEventingRequest(ctx, req, "RENEW")
}

// Unsubscribe closes an existing subscription. Best-effort: callers
// shutting down the fleet should not let a failure here block completion.
func (c *Client) Unsubscribe(ctx context.Context, eventSubURL, sid string) error {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("SID", sid)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyError("UNSUBSCRIBE", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("soap: unsubscribe rejected: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) doEventingRequest(ctx context.Context, req *http.Request, action string) (SubscribeResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SubscribeResult{}, classifyError(action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return SubscribeResult{}, fmt.Errorf("soap: %s rejected: http %d", action, resp.StatusCode)
	}

	sid := resp.Header.Get("SID")
	if sid == "" {
		return SubscribeResult{}, ErrNoSID
	}

	timeout := parseTimeoutHeader(resp.Header.Get("TIMEOUT"))

	return SubscribeResult{SID: sid, TimeoutSec: timeout}, nil
}

// parseTimeoutHeader parses a "Second-1800" style TIMEOUT header, falling
// back to 0 (caller decides the default) on anything unparsable.
func parseTimeoutHeader(raw string) int {
	const prefix = "Second-"
	if !strings.HasPrefix(raw, prefix) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(raw, prefix))
	if err != nil {
		return 0
	}
	return n
}
