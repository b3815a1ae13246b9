package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/sonosstream/internal/callback"
	"github.com/strefethen/sonosstream/internal/eventproc"
	"github.com/strefethen/sonosstream/internal/model"
	"github.com/strefethen/sonosstream/internal/soap"
	"github.com/strefethen/sonosstream/internal/statecache"
	"github.com/strefethen/sonosstream/internal/subscription"
	"github.com/strefethen/sonosstream/internal/topology"
)

// soapTimeout bounds every outbound SOAP/eventing call the stream makes.
const soapTimeout = 5 * time.Second

// renewalInterval is how often the background timer checks for
// subscriptions due for renewal or retry.
const renewalInterval = 30 * time.Second

// Stats is a snapshot of the running stream's fleet size and health.
type Stats struct {
	Speakers      int
	Groups        int
	NetworkAnchor model.SpeakerId
	HasAnchor     bool
}

// ActiveStream is the handle returned by Start. Its exported methods are
// safe for concurrent use by the caller; they serialize on the
// subscription manager's internal lock.
type ActiveStream struct {
	cache     *statecache.Cache
	cbServer  *callback.Server
	manager   *subscription.Manager
	processor *eventproc.Processor
	cron      *cron.Cron
	lifecycle LifecycleHandlers

	mu       sync.Mutex
	handlers []eventproc.Handler
}

// Start validates the accumulated configuration, constructs the callback
// server, subscription manager, state cache, and event processor, and
// returns a running ActiveStream.
func (b *Builder) Start(ctx context.Context) (*ActiveStream, error) {
	cfg := b.cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cache := cfg.Cache
	if cache == nil {
		cache = statecache.New()
	}

	events := make(chan model.RawEvent, cfg.BufferSize)

	cbServer := callback.New(events)
	if err := cbServer.Start(cfg.CallbackPortLo, cfg.CallbackPortHi); err != nil {
		return nil, fmt.Errorf("stream: starting callback server: %w", err)
	}

	advertiseHost, err := discoverLocalIP()
	if err != nil {
		cbServer.Shutdown(ctx)
		return nil, fmt.Errorf("stream: discovering local address: %w", err)
	}

	soapClient := soap.NewClient(soapTimeout)

	subCfg := subscription.Config{
		Services:               cfg.Services,
		SubscriptionTimeoutSec: cfg.SubscriptionTimeoutSec,
		BackoffBaseSec:         cfg.BackoffBaseSec,
		MaxAttempts:            cfg.MaxAttempts,
	}
	manager := subscription.NewManager(subCfg, soapClient, cbServer, advertiseHost)

	s := &ActiveStream{
		cache:     cache,
		cbServer:  cbServer,
		manager:   manager,
		lifecycle: cfg.Lifecycle,
		handlers:  cfg.Handlers,
	}

	onError := func(err error) {
		if s.lifecycle.OnError != nil {
			s.lifecycle.OnError(err)
		}
	}

	processor := eventproc.New(events, manager, cache, topology.New(), cfg.Handlers, onError)
	s.processor = processor
	go processor.Run()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every 30s", func() {
		s.refresh(ctx)
	}); err != nil {
		s.Shutdown(ctx)
		return nil, fmt.Errorf("stream: scheduling renewal timer: %w", err)
	}
	s.cron.Start()

	if s.lifecycle.OnStarted != nil {
		s.lifecycle.OnStarted()
	}

	return s, nil
}

func (s *ActiveStream) refresh(ctx context.Context) {
	changes := s.manager.Refresh(ctx)
	s.dispatch(changes)
}

func (s *ActiveStream) dispatch(changes []model.StateChange) {
	for _, change := range changes {
		s.cache.Apply(change)
		s.mu.Lock()
		handlers := s.handlers
		s.mu.Unlock()
		for _, h := range handlers {
			h(change)
		}
		if subErr, ok := change.(model.SubscriptionError); ok && s.lifecycle.OnError != nil {
			s.lifecycle.OnError(fmt.Errorf("stream: subscription error for %s: %s", subErr.Service, subErr.Message))
		}
	}
}

// AddSpeaker registers speaker with the state cache and opens its
// subscriptions. isSatellite marks a speaker that should never receive
// subscriptions of its own (it is driven by its group's coordinator).
func (s *ActiveStream) AddSpeaker(ctx context.Context, speaker model.Speaker, isSatellite bool) {
	s.cache.AddSpeaker(speaker)
	changes := s.manager.AddSpeaker(ctx, speaker, isSatellite)
	s.dispatch(changes)
	if !isSatellite && s.lifecycle.OnConnected != nil {
		s.lifecycle.OnConnected(speaker)
	}
}

// RemoveSpeaker closes speaker's subscriptions and, if it was anchoring
// any network-wide subscription, re-anchors or drops it.
func (s *ActiveStream) RemoveSpeaker(ctx context.Context, id model.SpeakerId) {
	changes := s.manager.RemoveSpeaker(ctx, id)
	s.dispatch(changes)
	if s.lifecycle.OnDisconnected != nil {
		s.lifecycle.OnDisconnected(id)
	}
}

// Stats reports the current fleet size known to the cache and the
// network-wide subscription anchor, if any.
func (s *ActiveStream) Stats() Stats {
	anchor, hasAnchor := s.manager.NetworkWideAnchor()
	return Stats{
		Speakers:      len(s.cache.GetAllSpeakers()),
		Groups:        len(s.cache.GetAllGroups()),
		NetworkAnchor: anchor,
		HasAnchor:     hasAnchor,
	}
}

// Cache exposes the underlying state cache for read access.
func (s *ActiveStream) Cache() *statecache.Cache {
	return s.cache
}

// Shutdown stops the renewal timer and event processor, sends best-effort
// UNSUBSCRIBE for every live subscription, and closes the callback
// server. It waits for a renewal run already in progress to finish. It is
// safe to call more than once. Nothing happens when an ActiveStream is
// dropped without calling Shutdown: the callback server, event processor
// and renewal timer keep running and the subscriptions stay open.
func (s *ActiveStream) Shutdown(ctx context.Context) {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.processor != nil {
		s.processor.Stop()
	}
	if s.manager != nil {
		s.manager.Shutdown(ctx)
	}
	if s.cbServer != nil {
		s.cbServer.Shutdown(ctx)
	}
	if s.lifecycle.OnStopped != nil {
		s.lifecycle.OnStopped()
	}
}

// discoverLocalIP finds the local address a Sonos speaker on the LAN can
// route a NOTIFY back to, by opening a UDP "connection" to a well-known
// address and reading back the interface it would use. No packet is sent.
func discoverLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
