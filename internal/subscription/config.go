package subscription

import "github.com/strefethen/sonosstream/internal/model"

// Config tunes the manager's service scope, timeouts, and retry behavior.
type Config struct {
	// Services is the set of UPnP services to subscribe to. Defaults to
	// model.AllServices() if left nil.
	Services []model.ServiceType

	// SubscriptionTimeoutSec is the TIMEOUT value requested on SUBSCRIBE
	// and renewal.
	SubscriptionTimeoutSec int

	// RenewalBufferSec is how long before expiry Refresh renews a
	// subscription.
	RenewalBufferSec int

	// BackoffBaseSec and BackoffCapSec bound the exponential retry delay:
	// base * 2^attempts, capped at BackoffCapSec.
	BackoffBaseSec int
	BackoffCapSec  int

	// MaxAttempts is the number of consecutive failed attempts after
	// which a subscription is declared Dead. 0 behaves like 1: the first
	// failure is final.
	MaxAttempts int
}

// WithDefaults fills in zero fields with the module's defaults, except
// MaxAttempts, which is defaulted only when negative since 0 is a valid
// setting.
func (c Config) WithDefaults() Config {
	if c.Services == nil {
		c.Services = model.AllServices()
	}
	if c.SubscriptionTimeoutSec == 0 {
		c.SubscriptionTimeoutSec = 1800
	}
	if c.RenewalBufferSec == 0 {
		c.RenewalBufferSec = 120
	}
	if c.BackoffBaseSec == 0 {
		c.BackoffBaseSec = 30
	}
	if c.BackoffCapSec == 0 {
		c.BackoffCapSec = 600
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 5
	}
	return c
}
