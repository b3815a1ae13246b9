// Package stream wires discovery, subscription management, decoding, and
// the state cache into a single public handle: ActiveStream. A Builder assembles
// the configuration; Start validates it and returns an ActiveStream.
package stream

import (
	"fmt"

	"github.com/strefethen/sonosstream/internal/eventproc"
	"github.com/strefethen/sonosstream/internal/model"
	"github.com/strefethen/sonosstream/internal/statecache"
)

const (
	defaultCallbackPortLo      = 8080
	defaultCallbackPortHi      = 8090
	defaultBufferSize          = 256
	defaultSubscriptionTimeout = 1800
	defaultBackoffBase         = 30
	defaultMaxAttempts         = 5

	minSubscriptionTimeoutSec = 60
	maxSubscriptionTimeoutSec = 86400
	maxBufferSize             = 100000
	minCallbackPort           = 1024
	maxRetryAttempts          = 10
)

// LifecycleHandlers are optional hooks into the stream's life span.
// OnError fires for handler panics and decode failures in the event
// processor, and for every SubscriptionError, whether it comes from
// AddSpeaker, RemoveSpeaker or the renewal timer.
type LifecycleHandlers struct {
	OnConnected    func(model.Speaker)
	OnDisconnected func(model.SpeakerId)
	OnError        func(error)
	OnStarted      func()
	OnStopped      func()
}

// Config is the fully resolved set of options a Builder accumulates.
type Config struct {
	Cache     *statecache.Cache
	Services  []model.ServiceType
	Handlers  []eventproc.Handler
	Lifecycle LifecycleHandlers

	SubscriptionTimeoutSec int
	BackoffBaseSec         int
	MaxAttempts            int

	CallbackPortLo int
	CallbackPortHi int

	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.Services == nil {
		c.Services = model.AllServices()
	}
	if c.SubscriptionTimeoutSec == 0 {
		c.SubscriptionTimeoutSec = defaultSubscriptionTimeout
	}
	if c.BackoffBaseSec == 0 {
		c.BackoffBaseSec = defaultBackoffBase
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.CallbackPortLo == 0 && c.CallbackPortHi == 0 {
		c.CallbackPortLo = defaultCallbackPortLo
		c.CallbackPortHi = defaultCallbackPortHi
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

func (c Config) validate() error {
	if c.CallbackPortLo < minCallbackPort {
		return fmt.Errorf("stream: callback port range must start at %d or above, got %d", minCallbackPort, c.CallbackPortLo)
	}
	if c.CallbackPortLo >= c.CallbackPortHi {
		return fmt.Errorf("stream: callback port range is inverted or empty: lo=%d hi=%d", c.CallbackPortLo, c.CallbackPortHi)
	}
	if c.BufferSize <= 0 || c.BufferSize > maxBufferSize {
		return fmt.Errorf("stream: buffer size must be in (0,%d], got %d", maxBufferSize, c.BufferSize)
	}
	if c.SubscriptionTimeoutSec < minSubscriptionTimeoutSec || c.SubscriptionTimeoutSec > maxSubscriptionTimeoutSec {
		return fmt.Errorf("stream: subscription timeout must be in [%d,%d] seconds, got %d", minSubscriptionTimeoutSec, maxSubscriptionTimeoutSec, c.SubscriptionTimeoutSec)
	}
	if c.BackoffBaseSec <= 0 {
		return fmt.Errorf("stream: backoff base must be positive, got %d", c.BackoffBaseSec)
	}
	if c.MaxAttempts < 0 || c.MaxAttempts > maxRetryAttempts {
		return fmt.Errorf("stream: max retry attempts must be in [0,%d], got %d", maxRetryAttempts, c.MaxAttempts)
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("stream: at least one service must be enabled")
	}
	return nil
}

// Builder accumulates Stream configuration via chained With* calls.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder seeded with no overrides; Start applies
// defaults to anything left unset. MaxAttempts starts at -1 rather than
// the Go zero value so that an explicit WithMaxAttempts(0) is
// distinguishable from never having called it.
func NewBuilder() *Builder {
	return &Builder{cfg: Config{MaxAttempts: -1}}
}

// WithStateCache injects a pre-existing cache shared with the caller
// instead of letting Start construct a fresh one.
func (b *Builder) WithStateCache(cache *statecache.Cache) *Builder {
	b.cfg.Cache = cache
	return b
}

// WithServices restricts which services are subscribed to. Passing none
// leaves the default (all known services) in effect.
func (b *Builder) WithServices(services ...model.ServiceType) *Builder {
	b.cfg.Services = services
	return b
}

// WithEventHandler appends a user handler, called in registration order
// alongside any handlers added by prior calls.
func (b *Builder) WithEventHandler(fn eventproc.Handler) *Builder {
	b.cfg.Handlers = append(b.cfg.Handlers, fn)
	return b
}

// WithLifecycleHandlers sets the connected/disconnected/error/started/
// stopped hooks, replacing any previously set.
func (b *Builder) WithLifecycleHandlers(h LifecycleHandlers) *Builder {
	b.cfg.Lifecycle = h
	return b
}

// WithTimeouts overrides the subscription TIMEOUT value and the retry
// backoff base, both in seconds.
func (b *Builder) WithTimeouts(subscriptionTimeoutSec, backoffBaseSec int) *Builder {
	b.cfg.SubscriptionTimeoutSec = subscriptionTimeoutSec
	b.cfg.BackoffBaseSec = backoffBaseSec
	return b
}

// WithMaxAttempts overrides how many SUBSCRIBE/RENEW attempts a
// subscription gets before it is declared dead. 0 is valid and means a
// single attempt with no retry.
func (b *Builder) WithMaxAttempts(n int) *Builder {
	b.cfg.MaxAttempts = n
	return b
}

// WithCallbackPorts overrides the port range the callback server scans.
func (b *Builder) WithCallbackPorts(lo, hi int) *Builder {
	b.cfg.CallbackPortLo = lo
	b.cfg.CallbackPortHi = hi
	return b
}

// WithBufferSize sets the raw-event channel capacity. The channel is
// bounded; once full, the callback server drops the oldest queued NOTIFY
// to make room for the new one (and counts the drop) rather than blocking
// its HTTP goroutine.
func (b *Builder) WithBufferSize(n int) *Builder {
	b.cfg.BufferSize = n
	return b
}
