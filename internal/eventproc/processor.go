// Package eventproc runs the single goroutine that turns raw NOTIFY
// bodies into normalized StateChange events, applies them to the state
// cache, and fans them out to registered handlers in order.
package eventproc

import (
	"fmt"
	"time"

	"github.com/strefethen/sonosstream/internal/decode"
	"github.com/strefethen/sonosstream/internal/model"
	"github.com/strefethen/sonosstream/internal/topology"
)

// pollInterval bounds how long the processor can be blocked on the event
// channel before it re-checks the shutdown flag.
const pollInterval = 20 * time.Millisecond

// Resolver maps a subscription id back to the service (and, for
// per-speaker subscriptions, speaker) it belongs to.
type Resolver interface {
	Lookup(id model.SubscriptionId) (svc model.ServiceType, speakerID *model.SpeakerId, ok bool)
}

// Cache is the subset of statecache.Cache the processor mutates.
type Cache interface {
	Apply(change model.StateChange)
}

// Handler is a user callback invoked once per StateChange, in
// registration order. Handlers are expected to do O(1) work; a handler
// that panics is caught and surfaced via OnError without killing the loop.
type Handler func(model.StateChange)

// Processor drains a RawEvent channel on its own goroutine.
type Processor struct {
	events   <-chan model.RawEvent
	resolver Resolver
	cache    Cache
	differ   *topology.Differ
	handlers []Handler

	onError func(error)

	stop chan struct{}
	done chan struct{}
}

// New returns a Processor that is not yet running; call Run to start it.
func New(events <-chan model.RawEvent, resolver Resolver, cache Cache, differ *topology.Differ, handlers []Handler, onError func(error)) *Processor {
	if onError == nil {
		onError = func(error) {}
	}
	return &Processor{
		events:   events,
		resolver: resolver,
		cache:    cache,
		differ:   differ,
		handlers: handlers,
		onError:  onError,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, draining events until Stop is called. Call it from its own
// goroutine.
func (p *Processor) Run() {
	defer close(p.done)

	for {
		select {
		case ev, ok := <-p.events:
			if !ok {
				return
			}
			p.handleRawEvent(ev)
		case <-time.After(pollInterval):
			select {
			case <-p.stop:
				return
			default:
			}
		}
	}
}

// Stop signals the loop to exit and blocks until it has. A second call
// returns as soon as the loop has exited.
func (p *Processor) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}

func (p *Processor) handleRawEvent(ev model.RawEvent) {
	svc, speakerID, ok := p.resolver.Lookup(ev.SubscriptionID)
	if !ok {
		// stray NOTIFY for a subscription we no longer track; drop it.
		return
	}

	changes, err := p.decode(svc, speakerID, ev.BodyXML)
	if err != nil {
		p.safeOnError(fmt.Errorf("eventproc: decode failed for %s: %w", svc, err))
		return
	}

	for _, change := range changes {
		p.cache.Apply(change)
		p.dispatch(change)
	}
}

func (p *Processor) decode(svc model.ServiceType, speakerID *model.SpeakerId, body []byte) ([]model.StateChange, error) {
	if svc == model.ServiceZoneGroupTopology {
		topo, ok := decode.DecodeZoneGroupTopology(body)
		if !ok {
			return nil, nil
		}
		return p.differ.Apply(topo), nil
	}

	if speakerID == nil {
		return nil, fmt.Errorf("per-speaker service %s missing speaker id", svc)
	}
	return decode.DecodeNotify(svc, *speakerID, body)
}

func (p *Processor) dispatch(change model.StateChange) {
	for _, h := range p.handlers {
		p.invokeSafely(h, change)
	}
}

func (p *Processor) invokeSafely(h Handler, change model.StateChange) {
	defer func() {
		if r := recover(); r != nil {
			p.safeOnError(fmt.Errorf("eventproc: handler panicked: %v", r))
		}
	}()
	h(change)
}

func (p *Processor) safeOnError(err error) {
	defer func() {
		recover() // a panicking error callback must not take down the loop either
	}()
	p.onError(err)
}
