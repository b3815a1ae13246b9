package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonosstream/internal/api"
	"github.com/strefethen/sonosstream/internal/config"
	"github.com/strefethen/sonosstream/internal/model"
	"github.com/strefethen/sonosstream/internal/statecache"
	"github.com/strefethen/sonosstream/internal/wsbroadcast"
)

func TestNewHandler_HealthzNeedsNoAuth(t *testing.T) {
	cache := statecache.New()
	hub := wsbroadcast.New()
	router := NewHandler(config.Config{ManagementAuthSecret: "secret"}, cache, hub)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewHandler_FleetRequiresAuthWhenSecretConfigured(t *testing.T) {
	cache := statecache.New()
	hub := wsbroadcast.New()
	router := NewHandler(config.Config{ManagementAuthSecret: "secret"}, cache, hub)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/fleet", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewHandler_FleetListsSpeakerSnapshot(t *testing.T) {
	cache := statecache.New()
	cache.AddSpeaker(model.Speaker{ID: "RINCON_1", RoomName: "Kitchen"})

	hub := wsbroadcast.New()
	router := NewHandler(config.Config{}, cache, hub)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/fleet", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body api.StripeListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "list", body.Object)

	data, err := json.Marshal(body.Data)
	require.NoError(t, err)
	var speakers []fleetSpeaker
	require.NoError(t, json.Unmarshal(data, &speakers))
	require.Len(t, speakers, 1)
	assert.Equal(t, "RINCON_1", speakers[0].ID)
	assert.Equal(t, "Kitchen", speakers[0].RoomName)
}
