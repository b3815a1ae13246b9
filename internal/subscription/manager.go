// Package subscription owns the set of live UPnP GENA subscriptions: one
// per (speaker, per-speaker service) plus one shared subscription per
// network-wide service, anchored against a single chosen speaker.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/sonosstream/internal/callback"
	"github.com/strefethen/sonosstream/internal/model"
	"github.com/strefethen/sonosstream/internal/soap"
)

type subState struct {
	sub         model.Subscription
	speakerIP   string
	speakerPort int
	nextAttempt time.Time
}

func (s *subState) eventSubURL() string {
	return fmt.Sprintf("http://%s:%d%s", s.speakerIP, s.speakerPort, s.sub.Service.EventPath())
}

func (s *subState) remaining(now time.Time) time.Duration {
	if s.sub.LastRenewal.IsZero() {
		return 0
	}
	expiry := s.sub.LastRenewal.Add(time.Duration(s.sub.TimeoutSec) * time.Second)
	return expiry.Sub(now)
}

// Manager drives SUBSCRIBE/renewal/UNSUBSCRIBE for every known speaker and
// isolates per-speaker failures from each other.
type Manager struct {
	mu sync.Mutex

	cfg           Config
	soapClient    *soap.Client
	cbServer      *callback.Server
	advertiseHost string

	perSpeaker  map[model.SpeakerId]map[model.ServiceType]*subState
	networkWide map[model.ServiceType]*subState

	anchor    model.SpeakerId
	hasAnchor bool

	speakers     map[model.SpeakerId]model.Speaker
	speakerOrder []model.SpeakerId

	now func() time.Time
}

// NewManager returns a Manager. advertiseHost is the local address
// advertised in SUBSCRIBE's CALLBACK header; it must be reachable from the
// speakers being subscribed to.
func NewManager(cfg Config, soapClient *soap.Client, cbServer *callback.Server, advertiseHost string) *Manager {
	return &Manager{
		cfg:           cfg.WithDefaults(),
		soapClient:    soapClient,
		cbServer:      cbServer,
		advertiseHost: advertiseHost,
		perSpeaker:    make(map[model.SpeakerId]map[model.ServiceType]*subState),
		networkWide:   make(map[model.ServiceType]*subState),
		speakers:      make(map[model.SpeakerId]model.Speaker),
		now:           time.Now,
	}
}

func (m *Manager) perSpeakerServices() []model.ServiceType {
	var out []model.ServiceType
	for _, svc := range m.cfg.Services {
		if !svc.IsNetworkWide() {
			out = append(out, svc)
		}
	}
	return out
}

func (m *Manager) networkWideServices() []model.ServiceType {
	var out []model.ServiceType
	for _, svc := range m.cfg.Services {
		if svc.IsNetworkWide() {
			out = append(out, svc)
		}
	}
	return out
}

// AddSpeaker opens all enabled per-speaker subscriptions for speaker. If no
// network-wide anchor exists yet and network-wide services are configured,
// it may also anchor those against speaker (or promote it later). Satellite
// speakers never receive subscriptions and never produce an error.
func (m *Manager) AddSpeaker(ctx context.Context, speaker model.Speaker, isSatellite bool) []model.StateChange {
	m.mu.Lock()
	m.speakers[speaker.ID] = speaker
	m.speakerOrder = append(m.speakerOrder, speaker.ID)
	m.mu.Unlock()

	if isSatellite {
		return nil
	}

	var changes []model.StateChange

	for _, svc := range m.perSpeakerServices() {
		if ch := m.openSubscription(ctx, speaker.ID, speaker.IP, speaker.Port, svc); ch != nil {
			changes = append(changes, ch)
		}
	}

	changes = append(changes, m.maybeAssignAnchor(ctx)...)

	return changes
}

// RemoveSpeaker unsubscribes everything tied to id. If id was the
// network-wide anchor, it re-anchors against another known speaker or
// drops the network-wide subscriptions if none remain.
func (m *Manager) RemoveSpeaker(ctx context.Context, id model.SpeakerId) []model.StateChange {
	m.mu.Lock()
	subs := m.perSpeaker[id]
	delete(m.perSpeaker, id)
	delete(m.speakers, id)
	for i, sid := range m.speakerOrder {
		if sid == id {
			m.speakerOrder = append(m.speakerOrder[:i], m.speakerOrder[i+1:]...)
			break
		}
	}
	wasAnchor := m.hasAnchor && m.anchor == id
	m.mu.Unlock()

	for _, st := range subs {
		m.closeSubscription(ctx, st)
	}

	var changes []model.StateChange
	if wasAnchor {
		m.mu.Lock()
		m.hasAnchor = false
		networkSubs := m.networkWide
		m.networkWide = make(map[model.ServiceType]*subState)
		m.mu.Unlock()

		for _, st := range networkSubs {
			m.closeSubscription(ctx, st)
		}
		changes = append(changes, m.maybeAssignAnchor(ctx)...)
	}
	return changes
}

// Refresh renews every subscription whose remaining lifetime has fallen
// below the configured renewal buffer, and retries any subscription
// currently in backoff whose retry deadline has passed.
func (m *Manager) Refresh(ctx context.Context) []model.StateChange {
	now := m.now()

	m.mu.Lock()
	var toRenew, toRetry []*subState
	for _, byService := range m.perSpeaker {
		for _, st := range byService {
			m.collectDue(st, now, &toRenew, &toRetry)
		}
	}
	for _, st := range m.networkWide {
		m.collectDue(st, now, &toRenew, &toRetry)
	}
	m.mu.Unlock()

	var changes []model.StateChange
	for _, st := range toRenew {
		if ch := m.renew(ctx, st); ch != nil {
			changes = append(changes, *ch)
		}
	}
	for _, st := range toRetry {
		if ch := m.retryOpen(ctx, st); ch != nil {
			changes = append(changes, *ch)
		}
	}
	return changes
}

func (m *Manager) collectDue(st *subState, now time.Time, toRenew, toRetry *[]*subState) {
	switch st.sub.Status {
	case model.SubStatusActive:
		if st.remaining(now) < time.Duration(m.cfg.RenewalBufferSec)*time.Second {
			*toRenew = append(*toRenew, st)
		}
	case model.SubStatusRetrying:
		if !now.Before(st.nextAttempt) {
			*toRetry = append(*toRetry, st)
		}
	}
}

// Shutdown sends UNSUBSCRIBE for every active subscription, best-effort,
// and clears the registry.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	var all []*subState
	for _, byService := range m.perSpeaker {
		for _, st := range byService {
			all = append(all, st)
		}
	}
	for _, st := range m.networkWide {
		all = append(all, st)
	}
	m.perSpeaker = make(map[model.SpeakerId]map[model.ServiceType]*subState)
	m.networkWide = make(map[model.ServiceType]*subState)
	m.hasAnchor = false
	m.mu.Unlock()

	for _, st := range all {
		m.closeSubscription(ctx, st)
	}
}

func newSubscriptionID() model.SubscriptionId {
	return model.SubscriptionId(uuid.NewString())
}

// SubscriptionStatus reports the current status of a per-speaker
// subscription, for diagnostics and tests.
func (m *Manager) SubscriptionStatus(speakerID model.SpeakerId, svc model.ServiceType) (model.SubscriptionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byService, ok := m.perSpeaker[speakerID]
	if !ok {
		return "", false
	}
	st, ok := byService[svc]
	if !ok {
		return "", false
	}
	return st.sub.Status, true
}

// NetworkWideAnchor returns the speaker currently anchoring network-wide
// subscriptions, if any.
func (m *Manager) NetworkWideAnchor() (model.SpeakerId, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anchor, m.hasAnchor
}

// Lookup resolves a subscription id (as carried by a RawEvent) back to its
// service and, for per-speaker subscriptions, its owning speaker. The
// event processor uses this to route a NOTIFY body to the right decoder.
func (m *Manager) Lookup(id model.SubscriptionId) (svc model.ServiceType, speakerID *model.SpeakerId, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, byService := range m.perSpeaker {
		for _, st := range byService {
			if st.sub.ID == id {
				return st.sub.Service, st.sub.SpeakerID, true
			}
		}
	}
	for _, st := range m.networkWide {
		if st.sub.ID == id {
			return st.sub.Service, nil, true
		}
	}
	return "", nil, false
}
