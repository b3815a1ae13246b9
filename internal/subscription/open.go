package subscription

import (
	"context"

	"github.com/strefethen/sonosstream/internal/model"
)

// openSubscription opens a fresh subscription for one (speaker, service)
// pair. On failure it records a Retrying/Dead subscription state per the
// failure classification and returns a SubscriptionError once the retry
// budget (or a fatal classification) ends the attempt.
func (m *Manager) openSubscription(ctx context.Context, speakerID model.SpeakerId, ip string, port int, svc model.ServiceType) model.StateChange {
	st := &subState{
		sub: model.Subscription{
			ID:        newSubscriptionID(),
			SpeakerID: speakerIDPtr(speakerID),
			Service:   svc,
			Status:    model.SubStatusSubscribing,
		},
		speakerIP:   ip,
		speakerPort: port,
	}

	m.mu.Lock()
	byService, ok := m.perSpeaker[speakerID]
	if !ok {
		byService = make(map[model.ServiceType]*subState)
		m.perSpeaker[speakerID] = byService
	}
	byService[svc] = st
	m.mu.Unlock()

	return m.attemptOpen(ctx, st)
}

func (m *Manager) attemptOpen(ctx context.Context, st *subState) model.StateChange {
	st.sub.CallbackPath = "/callback/" + string(st.sub.ID)
	callbackURL := m.cbServer.BaseURL(m.advertiseHost) + st.sub.CallbackPath

	result, err := m.soapClient.Subscribe(ctx, st.eventSubURL(), callbackURL, m.cfg.SubscriptionTimeoutSec)
	if err != nil {
		return m.handleOpenFailure(st, err)
	}

	m.cbServer.Register(st.sub.ID, st.sub.CallbackPath)

	m.mu.Lock()
	st.sub.SID = result.SID
	st.sub.TimeoutSec = result.TimeoutSec
	st.sub.LastRenewal = m.now()
	st.sub.Status = model.SubStatusActive
	st.sub.Attempts = 0
	m.mu.Unlock()

	return nil
}

func (m *Manager) handleOpenFailure(st *subState, err error) model.StateChange {
	class := classify(err, st.sub.Attempts)

	switch class {
	case classTransientNetwork, classBadResponseFirst:
		return m.scheduleRetry(st, err)
	default:
		m.markDead(st)
		return model.SubscriptionError{
			SpeakerID: st.sub.SpeakerID,
			Service:   st.sub.Service,
			Message:   err.Error(),
		}
	}
}

func (m *Manager) scheduleRetry(st *subState, err error) model.StateChange {
	m.mu.Lock()
	st.sub.Attempts++
	attempts := st.sub.Attempts
	if attempts >= m.cfg.MaxAttempts {
		st.sub.Status = model.SubStatusDead
		m.mu.Unlock()
		m.forgetSubscription(st)
		return model.SubscriptionError{
			SpeakerID: st.sub.SpeakerID,
			Service:   st.sub.Service,
			Message:   err.Error(),
		}
	}
	st.sub.Status = model.SubStatusRetrying
	st.nextAttempt = m.now().Add(backoffDelay(m.cfg, attempts))
	m.mu.Unlock()
	return nil
}

func (m *Manager) markDead(st *subState) {
	m.mu.Lock()
	st.sub.Status = model.SubStatusDead
	m.mu.Unlock()
	m.forgetSubscription(st)
}

// forgetSubscription removes a subscription's bookkeeping entry entirely;
// used once a subscription is declared dead (already surfaced via
// SubscriptionError).
func (m *Manager) forgetSubscription(st *subState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.sub.SpeakerID != nil {
		if byService, ok := m.perSpeaker[*st.sub.SpeakerID]; ok {
			if byService[st.sub.Service] == st {
				delete(byService, st.sub.Service)
			}
		}
	} else if m.networkWide[st.sub.Service] == st {
		delete(m.networkWide, st.sub.Service)
	}
}

// retryOpen re-attempts SUBSCRIBE for a subscription currently in backoff.
func (m *Manager) retryOpen(ctx context.Context, st *subState) *model.StateChange {
	ch := m.attemptOpen(ctx, st)
	if ch == nil {
		return nil
	}
	return &ch
}

func (m *Manager) renew(ctx context.Context, st *subState) *model.StateChange {
	result, err := m.soapClient.Renew(ctx, st.eventSubURL(), st.sub.SID, m.cfg.SubscriptionTimeoutSec)
	if err != nil {
		ch := m.handleOpenFailure(st, err)
		if ch == nil {
			return nil
		}
		return &ch
	}

	m.mu.Lock()
	st.sub.TimeoutSec = result.TimeoutSec
	st.sub.LastRenewal = m.now()
	st.sub.Status = model.SubStatusActive
	m.mu.Unlock()
	return nil
}

func (m *Manager) closeSubscription(ctx context.Context, st *subState) {
	m.cbServer.Unregister(st.sub.ID)
	if st.sub.SID != "" {
		// best-effort: transport failures during shutdown/removal are
		// never surfaced, matching the UNSUBSCRIBE contract.
		_ = m.soapClient.Unsubscribe(ctx, st.eventSubURL(), st.sub.SID)
	}
}

func speakerIDPtr(id model.SpeakerId) *model.SpeakerId {
	return &id
}
