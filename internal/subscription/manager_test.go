package subscription

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonosstream/internal/callback"
	"github.com/strefethen/sonosstream/internal/model"
	"github.com/strefethen/sonosstream/internal/soap"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("SID", "uuid:device-sid-1")
		w.Header().Set("TIMEOUT", "Second-1800")
	}))

	events := make(chan model.RawEvent, 8)
	cb := callback.New(events)
	require.NoError(t, cb.Start(21000, 21050))
	t.Cleanup(func() { cb.Shutdown(context.Background()) })

	client := soap.NewClient(2 * time.Second)
	mgr := NewManager(cfg, client, cb, "127.0.0.1")
	return mgr, srv
}

func speakerAt(id string, srv *httptest.Server, capable bool) model.Speaker {
	return model.Speaker{
		ID:                   model.SpeakerId(id),
		IP:                   srv.Listener.Addr().(*net.TCPAddr).IP.String(),
		Port:                 srv.Listener.Addr().(*net.TCPAddr).Port,
		IsCoordinatorCapable: capable,
	}
}

func TestAddSpeaker_OpensPerSpeakerSubscriptions(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceAVTransport, model.ServiceRenderingControl}}
	mgr, srv := newTestManager(t, cfg)
	defer srv.Close()

	changes := mgr.AddSpeaker(context.Background(), speakerAt("A", srv, true), false)
	assert.Empty(t, changes)

	status, ok := mgr.SubscriptionStatus("A", model.ServiceAVTransport)
	require.True(t, ok)
	assert.Equal(t, model.SubStatusActive, status)

	status, ok = mgr.SubscriptionStatus("A", model.ServiceRenderingControl)
	require.True(t, ok)
	assert.Equal(t, model.SubStatusActive, status)
}

func TestAddSpeaker_SatelliteYieldsNoSubscriptionsNoError(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceAVTransport}}
	mgr, srv := newTestManager(t, cfg)
	defer srv.Close()

	changes := mgr.AddSpeaker(context.Background(), speakerAt("SAT", srv, false), true)
	assert.Empty(t, changes)

	_, ok := mgr.SubscriptionStatus("SAT", model.ServiceAVTransport)
	assert.False(t, ok)
}

func TestAddSpeaker_AnchorsNetworkWideOnFirstCoordinatorCapableSpeaker(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceZoneGroupTopology}}
	mgr, srv := newTestManager(t, cfg)
	defer srv.Close()

	mgr.AddSpeaker(context.Background(), speakerAt("NOTCAPABLE", srv, false), false)
	anchor, ok := mgr.NetworkWideAnchor()
	require.True(t, ok)
	assert.Equal(t, model.SpeakerId("NOTCAPABLE"), anchor)

	mgr.AddSpeaker(context.Background(), speakerAt("CAPABLE", srv, true), false)
	anchor, ok = mgr.NetworkWideAnchor()
	require.True(t, ok)
	assert.Equal(t, model.SpeakerId("CAPABLE"), anchor)
}

func TestRemoveSpeaker_ReanchorsNetworkWideOnRemovalOfAnchor(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceZoneGroupTopology}}
	mgr, srv := newTestManager(t, cfg)
	defer srv.Close()

	mgr.AddSpeaker(context.Background(), speakerAt("A", srv, true), false)
	mgr.AddSpeaker(context.Background(), speakerAt("B", srv, true), false)

	anchor, _ := mgr.NetworkWideAnchor()
	assert.Equal(t, model.SpeakerId("A"), anchor)

	mgr.RemoveSpeaker(context.Background(), "A")

	anchor, ok := mgr.NetworkWideAnchor()
	require.True(t, ok)
	assert.Equal(t, model.SpeakerId("B"), anchor)
}

func TestRemoveSpeaker_DropsNetworkWideWhenNoSpeakersRemain(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceZoneGroupTopology}}
	mgr, srv := newTestManager(t, cfg)
	defer srv.Close()

	mgr.AddSpeaker(context.Background(), speakerAt("A", srv, true), false)
	mgr.RemoveSpeaker(context.Background(), "A")

	_, ok := mgr.NetworkWideAnchor()
	assert.False(t, ok)
}

func TestOpenSubscription_UnreachableSpeakerSchedulesRetry(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceAVTransport}, BackoffBaseSec: 1, MaxAttempts: 5}
	mgr, srv := newTestManager(t, cfg)
	srv.Close() // make the speaker unreachable before any request lands

	speaker := model.Speaker{ID: "A", IP: "127.0.0.1", Port: 1, IsCoordinatorCapable: true}
	changes := mgr.AddSpeaker(context.Background(), speaker, false)
	assert.Empty(t, changes, "transient failures must not surface a SubscriptionError")

	status, ok := mgr.SubscriptionStatus("A", model.ServiceAVTransport)
	require.True(t, ok)
	assert.Equal(t, model.SubStatusRetrying, status)
}

func TestOpenSubscription_MaxAttemptsExceededSurfacesErrorAndGoesDead(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceAVTransport}, BackoffBaseSec: 1, MaxAttempts: 1}
	mgr, srv := newTestManager(t, cfg)
	srv.Close()

	speaker := model.Speaker{ID: "A", IP: "127.0.0.1", Port: 1, IsCoordinatorCapable: true}
	changes := mgr.AddSpeaker(context.Background(), speaker, false)

	require.Len(t, changes, 1)
	subErr, ok := changes[0].(model.SubscriptionError)
	require.True(t, ok)
	assert.Equal(t, model.ServiceAVTransport, subErr.Service)

	_, ok = mgr.SubscriptionStatus("A", model.ServiceAVTransport)
	assert.False(t, ok, "a dead subscription is forgotten, not kept around")
}

func TestOpenSubscription_PreconditionFailedIsTransientOnceThenFatal(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceAVTransport}, BackoffBaseSec: 1, MaxAttempts: 5}

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer rejecting.Close()

	events := make(chan model.RawEvent, 8)
	cb := callback.New(events)
	require.NoError(t, cb.Start(21100, 21150))
	t.Cleanup(func() { cb.Shutdown(context.Background()) })
	client := soap.NewClient(2 * time.Second)
	mgr := NewManager(cfg, client, cb, "127.0.0.1")

	speaker := speakerAt("A", rejecting, true)
	changes := mgr.AddSpeaker(context.Background(), speaker, false)
	assert.Empty(t, changes, "a first-attempt 412 must retry, not surface a SubscriptionError")

	status, ok := mgr.SubscriptionStatus("A", model.ServiceAVTransport)
	require.True(t, ok)
	assert.Equal(t, model.SubStatusRetrying, status)

	st, ok := mgr.perSpeaker["A"][model.ServiceAVTransport]
	require.True(t, ok)
	st.nextAttempt = time.Time{}
	changes = mgr.Refresh(context.Background())

	require.Len(t, changes, 1)
	subErr, ok := changes[0].(model.SubscriptionError)
	require.True(t, ok, "a repeated 412 must be fatal, not retried indefinitely")
	assert.Equal(t, model.ServiceAVTransport, subErr.Service)
}

func TestShutdown_ClearsAllSubscriptions(t *testing.T) {
	cfg := Config{Services: []model.ServiceType{model.ServiceAVTransport, model.ServiceZoneGroupTopology}}
	mgr, srv := newTestManager(t, cfg)
	defer srv.Close()

	mgr.AddSpeaker(context.Background(), speakerAt("A", srv, true), false)
	mgr.Shutdown(context.Background())

	_, ok := mgr.SubscriptionStatus("A", model.ServiceAVTransport)
	assert.False(t, ok)
	_, ok = mgr.NetworkWideAnchor()
	assert.False(t, ok)
}
