package subscription

import (
	"context"
	"time"

	"github.com/strefethen/sonosstream/internal/model"
)

// backoffDelay computes the exponential retry delay for the given attempt
// count, capped at cfg.BackoffCapSec.
func backoffDelay(cfg Config, attempts int) time.Duration {
	seconds := cfg.BackoffBaseSec
	for i := 0; i < attempts && seconds < cfg.BackoffCapSec; i++ {
		seconds *= 2
	}
	if seconds > cfg.BackoffCapSec {
		seconds = cfg.BackoffCapSec
	}
	return time.Duration(seconds) * time.Second
}

// maybeAssignAnchor (re)selects the speaker that network-wide
// subscriptions are opened against. It prefers the first known speaker
// whose IsCoordinatorCapable is true, falling back to any known speaker if
// none are marked capable; a coordinator-capable speaker added later
// promotes over a fallback anchor.
func (m *Manager) maybeAssignAnchor(ctx context.Context) []model.StateChange {
	services := m.networkWideServices()
	if len(services) == 0 {
		return nil
	}

	m.mu.Lock()
	if m.hasAnchor {
		current := m.speakers[m.anchor]
		if current.IsCoordinatorCapable {
			m.mu.Unlock()
			return nil
		}
		candidate, ok := m.firstCoordinatorCapable()
		if !ok || candidate == m.anchor {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		return m.reanchor(ctx, candidate, services)
	}

	candidate, ok := m.firstCoordinatorCapable()
	if !ok {
		if len(m.speakerOrder) == 0 {
			m.mu.Unlock()
			return nil
		}
		candidate = m.speakerOrder[0]
	}
	m.mu.Unlock()

	return m.setAnchor(ctx, candidate, services)
}

// firstCoordinatorCapable must be called with m.mu held.
func (m *Manager) firstCoordinatorCapable() (model.SpeakerId, bool) {
	for _, id := range m.speakerOrder {
		if sp, ok := m.speakers[id]; ok && sp.IsCoordinatorCapable {
			return id, true
		}
	}
	return "", false
}

func (m *Manager) setAnchor(ctx context.Context, id model.SpeakerId, services []model.ServiceType) []model.StateChange {
	m.mu.Lock()
	speaker := m.speakers[id]
	m.anchor = id
	m.hasAnchor = true
	m.mu.Unlock()

	var changes []model.StateChange
	for _, svc := range services {
		st := &subState{
			sub: model.Subscription{
				ID:      newSubscriptionID(),
				Service: svc,
				Status:  model.SubStatusSubscribing,
			},
			speakerIP:   speaker.IP,
			speakerPort: speaker.Port,
		}
		m.mu.Lock()
		m.networkWide[svc] = st
		m.mu.Unlock()

		if ch := m.attemptOpen(ctx, st); ch != nil {
			changes = append(changes, ch)
		}
	}
	return changes
}

func (m *Manager) reanchor(ctx context.Context, newAnchor model.SpeakerId, services []model.ServiceType) []model.StateChange {
	m.mu.Lock()
	old := m.networkWide
	m.networkWide = make(map[model.ServiceType]*subState)
	m.mu.Unlock()

	for _, st := range old {
		m.closeSubscription(ctx, st)
	}

	return m.setAnchor(ctx, newAnchor, services)
}
