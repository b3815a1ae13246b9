package wsbroadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonosstream/internal/model"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server, func()) {
	t.Helper()
	h := New()
	stop := make(chan struct{})
	go h.Run(stop)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	return h, srv, func() {
		close(stop)
		srv.Close()
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

func TestHub_BroadcastsToAllConnectedClients(t *testing.T) {
	hub, srv, cleanup := newTestHub(t)
	defer cleanup()

	conn1 := dial(t, srv)
	defer conn1.Close()
	conn2 := dial(t, srv)
	defer conn2.Close()

	// give the hub goroutine a moment to process both registrations
	time.Sleep(50 * time.Millisecond)

	hub.Publish(model.VolumeChanged{SpeakerID: "A", Volume: 42})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal(message, &env))
		assert.Equal(t, "VolumeChanged", env.Type)

		var vc model.VolumeChanged
		require.NoError(t, json.Unmarshal(env.Data, &vc))
		assert.Equal(t, model.SpeakerId("A"), vc.SpeakerID)
		assert.Equal(t, 42, vc.Volume)
	}
}

func TestHub_DisconnectedClientIsRemoved(t *testing.T) {
	hub, srv, cleanup := newTestHub(t)
	defer cleanup()

	conn := dial(t, srv)
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	hub.Publish(model.VolumeChanged{SpeakerID: "A", Volume: 1})
	hub.Publish(model.VolumeChanged{SpeakerID: "A", Volume: 2})

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestTypeName_CoversEveryStateChangeVariant(t *testing.T) {
	cases := []model.StateChange{
		model.VolumeChanged{},
		model.MuteChanged{},
		model.PlaybackStateChanged{},
		model.PositionChanged{},
		model.TrackChanged{},
		model.TransportInfoChanged{},
		model.GroupFormed{},
		model.GroupDissolved{},
		model.CoordinatorChanged{},
		model.SpeakerJoinedGroup{},
		model.SpeakerLeftGroup{},
		model.GroupTopologyChanged{},
		model.SubscriptionError{},
	}
	for _, c := range cases {
		assert.NotEqual(t, "Unknown", typeName(c))
	}
}
