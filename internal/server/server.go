// Package server wires the management HTTP surface: liveness, a
// Stripe-style fleet snapshot, and a websocket stream of state changes.
package server

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strefethen/sonosstream/internal/api"
	"github.com/strefethen/sonosstream/internal/config"
	"github.com/strefethen/sonosstream/internal/mgmtauth"
	"github.com/strefethen/sonosstream/internal/statecache"
	"github.com/strefethen/sonosstream/internal/wsbroadcast"
)

// responseWriter wraps http.ResponseWriter to capture the status code
// written, for access logging, while still supporting hijacking for the
// websocket upgrade on /v1/fleet/events.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.RequestURI(), wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// fleetSpeaker is the wire shape for one entry in the /v1/fleet list.
type fleetSpeaker struct {
	Object        string  `json:"object"`
	ID            string  `json:"id"`
	RoomName      string  `json:"room_name"`
	GroupID       *string `json:"group_id,omitempty"`
	PlaybackState string  `json:"playback_state"`
	Volume        int     `json:"volume"`
	Muted         bool    `json:"muted"`
}

// NewHandler builds the management HTTP handler. cache is read for the
// /v1/fleet snapshot; hub serves /v1/fleet/events and should already be
// wired as a stream event handler by the caller.
func NewHandler(cfg config.Config, cache *statecache.Cache, hub *wsbroadcast.Hub) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)

	router.Method(http.MethodGet, "/healthz", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))

	router.Group(func(fleet chi.Router) {
		fleet.Use(mgmtauth.Middleware(cfg.ManagementAuthSecret))

		fleet.Method(http.MethodGet, "/v1/fleet", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
			speakers := cache.GetAllSpeakers()
			out := make([]fleetSpeaker, 0, len(speakers))
			for _, s := range speakers {
				fs := fleetSpeaker{
					Object:        "fleet_speaker",
					ID:            string(s.Speaker.ID),
					RoomName:      s.Speaker.RoomName,
					PlaybackState: string(s.PlaybackState),
					Volume:        s.Volume,
					Muted:         s.Muted,
				}
				if s.GroupID != nil {
					id := string(*s.GroupID)
					fs.GroupID = &id
				}
				out = append(out, fs)
			}
			return api.WriteList(w, "/v1/fleet", out, false)
		}))

		fleet.Method(http.MethodGet, "/v1/fleet/events", http.HandlerFunc(hub.ServeWS))
	})

	return router
}
