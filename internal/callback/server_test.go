package callback

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonosstream/internal/model"
)

func TestServer_StartBindsFirstFreePort(t *testing.T) {
	events := make(chan model.RawEvent, 4)
	s := New(events)

	require.NoError(t, s.Start(19000, 19050))
	defer s.Shutdown(context.Background())

	assert.Contains(t, s.BaseURL("127.0.0.1"), "127.0.0.1:")
}

func TestServer_RegisteredNotifyIsForwarded(t *testing.T) {
	events := make(chan model.RawEvent, 4)
	s := New(events)
	require.NoError(t, s.Start(19100, 19150))
	defer s.Shutdown(context.Background())

	subID := model.SubscriptionId("sub-1")
	s.Register(subID, "/callback/sub-1")

	req, err := http.NewRequest("NOTIFY", s.BaseURL("127.0.0.1")+"/callback/sub-1", bytes.NewBufferString("<propertyset/>"))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-events:
		assert.Equal(t, subID, ev.SubscriptionID)
		assert.Equal(t, "<propertyset/>", string(ev.BodyXML))
	case <-time.After(time.Second):
		t.Fatal("expected event to be forwarded")
	}
}

func TestServer_UnknownPathIsPreconditionFailed(t *testing.T) {
	events := make(chan model.RawEvent, 4)
	s := New(events)
	require.NoError(t, s.Start(19200, 19250))
	defer s.Shutdown(context.Background())

	req, err := http.NewRequest("NOTIFY", s.BaseURL("127.0.0.1")+"/callback/unknown", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestServer_NonNotifyMethodRejected(t *testing.T) {
	events := make(chan model.RawEvent, 4)
	s := New(events)
	require.NoError(t, s.Start(19300, 19350))
	defer s.Shutdown(context.Background())

	resp, err := http.Get(s.BaseURL("127.0.0.1") + "/callback/sub-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_UnregisterMakesPathStray(t *testing.T) {
	events := make(chan model.RawEvent, 4)
	s := New(events)
	require.NoError(t, s.Start(19400, 19450))
	defer s.Shutdown(context.Background())

	subID := model.SubscriptionId("sub-2")
	s.Register(subID, "/callback/sub-2")
	s.Unregister(subID)

	req, _ := http.NewRequest("NOTIFY", s.BaseURL("127.0.0.1")+"/callback/sub-2", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestServer_OverflowDropsOldestAndIncrementsMetric(t *testing.T) {
	events := make(chan model.RawEvent, 1)
	s := New(events)
	require.NoError(t, s.Start(19300, 19350))
	defer s.Shutdown(context.Background())

	subID := model.SubscriptionId("sub-1")
	s.Register(subID, "/callback/sub-1")

	send := func(body string) {
		req, err := http.NewRequest("NOTIFY", s.BaseURL("127.0.0.1")+"/callback/sub-1", bytes.NewBufferString(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	send("<first/>")
	send("<second/>") // buffer of 1 is already full; this must evict "<first/>"

	select {
	case ev := <-events:
		assert.Equal(t, "<second/>", string(ev.BodyXML), "the newest event must survive, the oldest must be evicted")
	case <-time.After(time.Second):
		t.Fatal("expected the surviving event to be forwarded")
	}

	assert.Equal(t, uint64(1), s.DroppedEvents())
}

func TestServer_ExhaustedPortRangeReturnsError(t *testing.T) {
	events := make(chan model.RawEvent, 1)
	s := New(events)

	// occupy the single port in range, then try to start another server
	// on the exact same single-port range.
	blocker := New(make(chan model.RawEvent, 1))
	require.NoError(t, blocker.Start(19500, 19500))
	defer blocker.Shutdown(context.Background())

	err := s.Start(19500, 19500)
	assert.Error(t, err)
}
